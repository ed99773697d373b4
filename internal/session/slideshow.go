package session

import (
	"time"

	"github.com/ashureev/researchdeck/internal/protocol"
)

// Slideshow is the navigable collection of frames gathered during one research task.
//
// Frame order is append-stable: Merge only appends frames beyond the known length,
// or replaces the whole sequence when the producer sends fewer frames than are held.
type Slideshow struct {
	frames   []protocol.ScreenshotFrame
	topic    string
	active   bool
	cursor   int
	newCount int

	sched    Scheduler
	interval time.Duration
	guard    func(func())
	timer    Timer
	playing  bool
	gen      uint64
}

// NewSlideshow creates an empty slideshow. guard runs a timer callback under the
// owner's lock; nil runs it directly.
func NewSlideshow(sched Scheduler, interval time.Duration, guard func(func())) *Slideshow {
	if sched == nil {
		sched = TickerScheduler{}
	}
	if interval <= 0 {
		interval = DefaultAutoplayInterval
	}
	if guard == nil {
		guard = func(fn func()) { fn() }
	}
	return &Slideshow{sched: sched, interval: interval, guard: guard}
}

// Initialize replaces any existing slideshow and resets the cursor.
func (s *Slideshow) Initialize(frames []protocol.ScreenshotFrame, topic string) {
	s.frames = append([]protocol.ScreenshotFrame(nil), frames...)
	s.topic = topic
	s.active = true
	s.cursor = 0
	s.newCount = len(frames)
}

// Merge folds an update into the slideshow. Frames past the previously known length
// are appended; a shorter sequence replaces the current one wholesale. The cursor is
// kept unless it falls outside the new length, in which case it moves to the last frame.
func (s *Slideshow) Merge(frames []protocol.ScreenshotFrame, topic string) {
	if !s.active {
		s.Initialize(frames, topic)
		return
	}

	known := len(s.frames)
	if len(frames) >= known {
		s.frames = append(s.frames, frames[known:]...)
		s.newCount = len(frames) - known
	} else {
		s.frames = append([]protocol.ScreenshotFrame(nil), frames...)
		s.newCount = 0
	}
	if topic != "" {
		s.topic = topic
	}
	s.clampCursor()
}

func (s *Slideshow) clampCursor() {
	switch {
	case len(s.frames) == 0:
		s.cursor = 0
	case s.cursor >= len(s.frames):
		s.cursor = len(s.frames) - 1
	case s.cursor < 0:
		s.cursor = 0
	}
}

// Next advances the cursor, wrapping to the first frame.
func (s *Slideshow) Next() int {
	if n := len(s.frames); n > 0 {
		s.cursor = (s.cursor + 1) % n
	}
	return s.cursor
}

// Previous moves the cursor back, wrapping to the last frame.
func (s *Slideshow) Previous() int {
	if n := len(s.frames); n > 0 {
		s.cursor = (s.cursor - 1 + n) % n
	}
	return s.cursor
}

// GoTo jumps to index, clamped into range. Requests may come from a thumbnail that
// was rendered before a concurrent merge, so out-of-range values are not errors.
func (s *Slideshow) GoTo(index int) int {
	s.cursor = index
	s.clampCursor()
	return s.cursor
}

// Play starts autoplay, replacing any running timer.
func (s *Slideshow) Play() bool {
	if !s.active {
		return false
	}
	s.stopTimer()
	s.gen++
	gen := s.gen
	s.playing = true
	s.timer = s.sched.Every(s.interval, func() {
		s.guard(func() { s.tick(gen) })
	})
	return true
}

func (s *Slideshow) tick(gen uint64) {
	if !s.playing || gen != s.gen {
		return
	}
	s.Next()
}

// Pause stops autoplay.
func (s *Slideshow) Pause() {
	s.playing = false
	s.stopTimer()
}

func (s *Slideshow) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Teardown discards the slideshow and cancels autoplay.
func (s *Slideshow) Teardown() {
	s.Pause()
	s.gen++
	s.frames = nil
	s.topic = ""
	s.active = false
	s.cursor = 0
	s.newCount = 0
}

// Active reports whether a slideshow exists.
func (s *Slideshow) Active() bool { return s.active }

// Playing reports whether autoplay is running.
func (s *Slideshow) Playing() bool { return s.playing }

// Cursor returns the current frame index.
func (s *Slideshow) Cursor() int { return s.cursor }

// TotalCount returns the number of frames held.
func (s *Slideshow) TotalCount() int { return len(s.frames) }

// NewCount returns how many frames the last merge appended.
func (s *Slideshow) NewCount() int { return s.newCount }

// Topic returns the research topic.
func (s *Slideshow) Topic() string { return s.topic }

// Frames returns a copy of the frames.
func (s *Slideshow) Frames() []protocol.ScreenshotFrame {
	return append([]protocol.ScreenshotFrame(nil), s.frames...)
}

// Current returns the frame under the cursor.
func (s *Slideshow) Current() (protocol.ScreenshotFrame, bool) {
	if len(s.frames) == 0 {
		return protocol.ScreenshotFrame{}, false
	}
	return s.frames[s.cursor], true
}
