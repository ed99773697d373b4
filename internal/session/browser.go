package session

import "github.com/ashureev/researchdeck/internal/protocol"

// BrowserView holds the single most recent ad hoc browser frame.
type BrowserView struct {
	frame protocol.ScreenshotFrame
	has   bool
	open  bool
}

// Show replaces the current frame and opens the view.
func (b *BrowserView) Show(frame protocol.ScreenshotFrame) {
	b.frame = frame
	b.has = true
	b.open = true
}

// Reveal opens the view without changing the frame.
func (b *BrowserView) Reveal() {
	b.open = true
}

// Close hides the view and forgets the frame.
func (b *BrowserView) Close() {
	*b = BrowserView{}
}

// Open reports whether the view is displayed.
func (b *BrowserView) Open() bool {
	return b.open
}

// Frame returns the current frame, if any.
func (b *BrowserView) Frame() (protocol.ScreenshotFrame, bool) {
	return b.frame, b.has
}
