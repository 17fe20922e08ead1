package stream

import "sync/atomic"

// CancelFlag is the process-global cooperative cancellation signal from
// spec.md §4.8/§9: a single atomic boolean paired with the id of the chat
// it applies to. A chat handler consults it at every emission boundary
// (one token, or one sidecar chunk, at a time); cancel_chat raises it.
type CancelFlag struct {
	cancelled atomic.Bool
	activeID  atomic.Value // string
}

// NewCancelFlag returns a flag in the not-cancelled state.
func NewCancelFlag() *CancelFlag {
	f := &CancelFlag{}
	f.activeID.Store("")
	return f
}

// Begin marks chatID as the active stream and clears any previous
// cancellation, returning a release func the handler must defer-call so the
// flag does not outlive its stream.
func (f *CancelFlag) Begin(chatID string) (release func()) {
	f.cancelled.Store(false)
	f.activeID.Store(chatID)
	return func() {
		f.cancelled.Store(false)
		f.activeID.Store("")
	}
}

// Cancel raises the flag if chatID matches the currently active chat (or if
// chatID is empty, meaning "whatever is active"). Returns whether it
// actually matched an active stream.
func (f *CancelFlag) Cancel(chatID string) bool {
	active, _ := f.activeID.Load().(string)
	if active == "" {
		return false
	}
	if chatID != "" && chatID != active {
		return false
	}
	f.cancelled.Store(true)
	return true
}

// Cancelled reports whether the currently active stream has been cancelled.
func (f *CancelFlag) Cancelled() bool {
	return f.cancelled.Load()
}

// ActiveChatID returns the chat id of the in-flight stream, or "" if none.
func (f *CancelFlag) ActiveChatID() string {
	id, _ := f.activeID.Load().(string)
	return id
}
