package smmdbclient

import (
	"sync"

	"github.com/smmdb/smmdb-client/pkg/catalog"
)

// Hook function types for display-state events. Hooks are invoked from
// the client's event loop goroutine; a hook that blocks stalls the loop,
// so view layers should hand the value off and return.
type (
	// StateChangedHook is called whenever the orchestrator state changes.
	StateChangedHook func(state State)

	// SlotsChangedHook is called whenever the annotated save slots change.
	SlotsChangedHook func(slots []DisplaySlot)

	// CoursesChangedHook is called whenever the current search page changes.
	CoursesChangedHook func(courses []catalog.CourseMetadata)

	// DownloadProgressHook is called for each download progress event.
	DownloadProgressHook func(progress catalog.Progress)

	// UserChangedHook is called when the authenticated user changes.
	// A nil identity means logged out.
	UserChangedHook func(user *catalog.UserIdentity)

	// ErrorHook is called with every surfaced operation error.
	ErrorHook func(err error)
)

// hooks manages display-state callbacks.
type hooks struct {
	mu                 sync.RWMutex
	onStateChanged     []StateChangedHook
	onSlotsChanged     []SlotsChangedHook
	onCoursesChanged   []CoursesChangedHook
	onDownloadProgress []DownloadProgressHook
	onUserChanged      []UserChangedHook
	onError            []ErrorHook
}

func newHooks() *hooks {
	return &hooks{}
}

// OnStateChanged registers a callback for orchestrator state changes.
func (h *hooks) OnStateChanged(fn StateChangedHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onStateChanged = append(h.onStateChanged, fn)
}

// OnSlotsChanged registers a callback for save slot changes.
func (h *hooks) OnSlotsChanged(fn SlotsChangedHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onSlotsChanged = append(h.onSlotsChanged, fn)
}

// OnCoursesChanged registers a callback for search page changes.
func (h *hooks) OnCoursesChanged(fn CoursesChangedHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onCoursesChanged = append(h.onCoursesChanged, fn)
}

// OnDownloadProgress registers a callback for download progress events.
func (h *hooks) OnDownloadProgress(fn DownloadProgressHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDownloadProgress = append(h.onDownloadProgress, fn)
}

// OnUserChanged registers a callback for login state changes.
func (h *hooks) OnUserChanged(fn UserChangedHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onUserChanged = append(h.onUserChanged, fn)
}

// OnError registers a callback for surfaced errors.
func (h *hooks) OnError(fn ErrorHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onError = append(h.onError, fn)
}

func (h *hooks) triggerStateChanged(state State) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, hook := range h.onStateChanged {
		hook(state)
	}
}

func (h *hooks) triggerSlotsChanged(slots []DisplaySlot) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, hook := range h.onSlotsChanged {
		hook(slots)
	}
}

func (h *hooks) triggerCoursesChanged(courses []catalog.CourseMetadata) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, hook := range h.onCoursesChanged {
		hook(courses)
	}
}

func (h *hooks) triggerDownloadProgress(progress catalog.Progress) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, hook := range h.onDownloadProgress {
		hook(progress)
	}
}

func (h *hooks) triggerUserChanged(user *catalog.UserIdentity) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, hook := range h.onUserChanged {
		hook(user)
	}
}

func (h *hooks) triggerError(err error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, hook := range h.onError {
		hook(err)
	}
}
