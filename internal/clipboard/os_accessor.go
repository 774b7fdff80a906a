package clipboard

import (
	"github.com/atotto/clipboard"
)

// OSAccessor drives the real desktop clipboard through atotto/clipboard.
type OSAccessor struct{}

// NewOSAccessor returns an Accessor backed by the host clipboard.
func NewOSAccessor() *OSAccessor {
	return &OSAccessor{}
}

// GetText reads the current clipboard contents.
func (a *OSAccessor) GetText() (string, bool) {
	text, err := clipboard.ReadAll()
	if err != nil {
		return "", false
	}
	return text, true
}

// SetText writes text to the clipboard. The underlying error is returned
// untouched so a caller's retry loop can tell a transient failure from a
// permanent one.
func (a *OSAccessor) SetText(text string) error {
	return clipboard.WriteAll(text)
}
