// Package clipboard abstracts the OS clipboard behind a small interface
// so the sender and receiver engines can be driven by an in-memory fake
// in tests, exactly as recommended for a core that must stay testable
// without a real desktop session.
package clipboard

// Accessor is the collaborator interface the core depends on. It is
// deliberately narrow: a get, a set, nothing else. Reads are expected to
// be idempotent and to observe the most recently published text.
type Accessor interface {
	// GetText returns the current clipboard text. ok is false when the
	// clipboard is empty or holds non-text content.
	GetText() (text string, ok bool)
	// SetText publishes text to the clipboard. A transient contention
	// error (another process holding the clipboard open) must be
	// returned so callers can retry; it is never silently swallowed.
	SetText(text string) error
}
