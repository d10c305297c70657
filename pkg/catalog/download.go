package catalog

import (
	"context"
	"fmt"
	"io"
	"net/url"

	"github.com/smmdb/smmdb-client/pkg/errors"
	"github.com/smmdb/smmdb-client/pkg/logging"
)

// Stage identifies a download progress event.
type Stage int

// Download progress stages.
const (
	ProgressStarted Stage = iota
	ProgressAdvanced
	ProgressFinished
	ProgressErrored
)

// Progress is one event on a download stream.
type Progress struct {
	Stage   Stage
	Percent float64 // set for ProgressAdvanced
	Data    []byte  // set for ProgressFinished
	Err     error   // set for ProgressErrored
}

// downloadChunkSize is the read granularity for progress reporting.
const downloadChunkSize = 32 * 1024

// Download streams a course payload, reporting discrete progress events:
// Started, then Advanced with a 0..100 percentage, then exactly one of
// Finished or Errored.
//
// The channel is never closed, even after the terminal event; a consumer
// that keeps listening past Finished/Errored blocks rather than observing
// a restarted stream. This mirrors the subscription behavior the rest of
// the system was built against. Canceling ctx releases the producer at
// the next send.
func (c *Client) Download(ctx context.Context, id string) <-chan Progress {
	ch := make(chan Progress, 1)

	go func() {
		endpoint := fmt.Sprintf("%s/courses/download/%s", c.baseURL, url.PathEscape(id))
		resp, err := c.transport.Get(ctx, endpoint, "")
		if err != nil {
			emit(ctx, ch, Progress{Stage: ProgressErrored, Err: errors.WrapAPI("/courses/download", 0, err)})
			return
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			emit(ctx, ch, Progress{Stage: ProgressErrored, Err: errors.NewAPIError("/courses/download", resp.StatusCode, resp.Status)})
			return
		}

		total := resp.ContentLength
		if total <= 0 {
			// Progress cannot be computed without a length.
			emit(ctx, ch, Progress{Stage: ProgressErrored, Err: errors.NewAPIError("/courses/download", resp.StatusCode, "missing content length")})
			return
		}

		if !emit(ctx, ch, Progress{Stage: ProgressStarted}) {
			return
		}

		data := make([]byte, 0, total)
		buf := make([]byte, downloadChunkSize)
		var downloaded int64

		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				data = append(data, buf[:n]...)
				downloaded += int64(n)
				percent := float64(downloaded) / float64(total) * 100
				if !emit(ctx, ch, Progress{Stage: ProgressAdvanced, Percent: percent}) {
					return
				}
			}
			if err == io.EOF {
				logging.Debug().Str("course_id", id).Int64("bytes", downloaded).Msg("download finished")
				emit(ctx, ch, Progress{Stage: ProgressFinished, Data: data})
				return
			}
			if err != nil {
				emit(ctx, ch, Progress{Stage: ProgressErrored, Err: errors.WrapIO("read", endpoint, err)})
				return
			}
		}
	}()

	return ch
}

// emit delivers a progress event unless the context is canceled first.
func emit(ctx context.Context, ch chan<- Progress, p Progress) bool {
	select {
	case ch <- p:
		return true
	case <-ctx.Done():
		return false
	}
}
