package smmdbclient

import "fmt"

// State is the orchestrator's user-visible mode. Mutating intents are
// gated on it: the client rejects a second mutating action while one is
// in flight instead of relying on the caller to disable its buttons.
type State int

// Orchestrator states.
const (
	// StateIdle accepts new user intents.
	StateIdle State = iota
	// StateLoading runs one dispatched operation to completion.
	StateLoading
	// StateAwaitingConfirmation holds a pending action until the user
	// confirms or cancels.
	StateAwaitingConfirmation
	// StateDownloading streams a course payload with progress.
	StateDownloading
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateAwaitingConfirmation:
		return "awaiting confirmation"
	case StateDownloading:
		return "downloading"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// PendingAction is a selected-but-unconfirmed user action held while the
// client is in StateAwaitingConfirmation. The variant set is closed.
type PendingAction interface {
	pendingAction()
	// Describe names the action for logs and error messages.
	Describe() string
}

// SwapSelect marks the first slot of a two-slot swap.
type SwapSelect struct {
	Slot int
}

// DownloadSelect marks the destination slot for a catalog download.
type DownloadSelect struct {
	Slot int
}

// DeleteSelect marks a local slot for deletion.
type DeleteSelect struct {
	Slot int
}

// DeleteRemoteSelect marks a remote course for deletion from the catalog.
type DeleteRemoteSelect struct {
	ID string
}

// UploadSelect marks a local slot whose course will be uploaded.
type UploadSelect struct {
	Slot int
}

func (SwapSelect) pendingAction()         {}
func (DownloadSelect) pendingAction()     {}
func (DeleteSelect) pendingAction()       {}
func (DeleteRemoteSelect) pendingAction() {}
func (UploadSelect) pendingAction()       {}

// Describe implements PendingAction.
func (a SwapSelect) Describe() string { return fmt.Sprintf("swap from slot %d", a.Slot) }

// Describe implements PendingAction.
func (a DownloadSelect) Describe() string { return fmt.Sprintf("download into slot %d", a.Slot) }

// Describe implements PendingAction.
func (a DeleteSelect) Describe() string { return fmt.Sprintf("delete slot %d", a.Slot) }

// Describe implements PendingAction.
func (a DeleteRemoteSelect) Describe() string { return fmt.Sprintf("delete remote course %s", a.ID) }

// Describe implements PendingAction.
func (a UploadSelect) Describe() string { return fmt.Sprintf("upload slot %d", a.Slot) }
