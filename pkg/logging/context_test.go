package logging_test

import (
	"context"
	"testing"

	"github.com/smmdb/smmdb-client/pkg/logging"
)

func TestFromContextFallsBackToDefault(t *testing.T) {
	if logging.FromContext(nil) == nil {
		t.Fatal("nil context should yield the default logger")
	}
	if logging.FromContext(context.Background()) == nil {
		t.Fatal("bare context should yield the default logger")
	}
}

func TestWithFlowIDTagsLogLines(t *testing.T) {
	tl := logging.NewTestLogger(t)

	ctx := logging.WithLogger(context.Background(), tl.Logger)
	ctx = logging.WithFlowID(ctx, "flow-123")

	if got := logging.FlowID(ctx); got != "flow-123" {
		t.Errorf("FlowID = %q", got)
	}

	logging.Ctx(ctx).Info().Msg("dispatched")
	if !tl.Contains(`"flow_id":"flow-123"`) {
		t.Errorf("flow id missing from output: %s", tl.Output())
	}
}

func TestDomainFieldsCarryThroughContext(t *testing.T) {
	tl := logging.NewTestLogger(t)

	ctx := logging.WithLogger(context.Background(), tl.Logger)
	ctx = logging.WithOperation(ctx, "download")
	ctx = logging.WithCourse(ctx, "abc123")
	ctx = logging.WithSlot(ctx, 3)

	logging.Ctx(ctx).Info().Msg("stored")

	for _, want := range []string{
		`"operation":"download"`,
		`"course_id":"abc123"`,
		`"slot":3`,
	} {
		if !tl.Contains(want) {
			t.Errorf("output missing %s: %s", want, tl.Output())
		}
	}
	if lines := tl.Lines(); len(lines) != 1 {
		t.Errorf("line count = %d, want 1", len(lines))
	}
}

func TestWithFieldHandlesValueTypes(t *testing.T) {
	tl := logging.NewTestLogger(t)

	ctx := logging.WithLogger(context.Background(), tl.Logger)
	ctx = logging.WithField(ctx, "count", 7)
	ctx = logging.WithField(ctx, "ratio", 0.5)
	ctx = logging.WithField(ctx, "dirty", true)

	logging.Ctx(ctx).Debug().Msg("fields")

	for _, want := range []string{`"count":7`, `"ratio":0.5`, `"dirty":true`} {
		if !tl.Contains(want) {
			t.Errorf("output missing %s: %s", want, tl.Output())
		}
	}
}

func TestDisableLoggingForTest(t *testing.T) {
	logging.DisableLoggingForTest(t)
	// Must not panic or write anywhere observable.
	logging.Info().Msg("suppressed")
	logging.Err(nil).Msg("suppressed")
}

func TestNewConsoleProducesUsableLogger(t *testing.T) {
	logging.DisableLoggingForTest(t)
	logger := logging.NewConsole()
	logger.Trace().Msg("below the configured level")
}
