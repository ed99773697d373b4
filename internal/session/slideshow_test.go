package session

import (
	"testing"
	"time"
)

func TestSlideshowMergeKeepsValidCursor(t *testing.T) {
	ss := NewSlideshow(&fakeScheduler{}, 0, nil)
	ss.Initialize(frames(5), "polls")
	ss.GoTo(4)

	ss.Merge(frames(7), "")

	if ss.Cursor() != 4 {
		t.Fatalf("expected cursor 4, got %d", ss.Cursor())
	}
	if ss.TotalCount() != 7 || ss.NewCount() != 2 {
		t.Fatalf("expected 7 frames with 2 new, got %d/%d", ss.TotalCount(), ss.NewCount())
	}
	if ss.Topic() != "polls" {
		t.Fatalf("empty topic should keep the old one, got %q", ss.Topic())
	}
}

func TestSlideshowShorterMergeClampsCursor(t *testing.T) {
	ss := NewSlideshow(&fakeScheduler{}, 0, nil)
	ss.Initialize(frames(3), "polls")
	ss.GoTo(2)

	ss.Merge(frames(2), "polls")

	if ss.Cursor() != 1 {
		t.Fatalf("expected cursor clamped to 1, got %d", ss.Cursor())
	}
	if ss.TotalCount() != 2 {
		t.Fatalf("expected 2 frames, got %d", ss.TotalCount())
	}
}

func TestSlideshowMergeWithoutSlideshowInitializes(t *testing.T) {
	ss := NewSlideshow(&fakeScheduler{}, 0, nil)
	ss.Merge(frames(2), "topic")
	if !ss.Active() || ss.TotalCount() != 2 || ss.Cursor() != 0 {
		t.Fatalf("unexpected state: active=%v total=%d cursor=%d", ss.Active(), ss.TotalCount(), ss.Cursor())
	}
}

func TestSlideshowNavigationWraps(t *testing.T) {
	ss := NewSlideshow(&fakeScheduler{}, 0, nil)
	ss.Initialize(frames(3), "")

	if got := ss.Previous(); got != 2 {
		t.Fatalf("previous from 0: got %d", got)
	}
	if got := ss.Next(); got != 0 {
		t.Fatalf("next from 2: got %d", got)
	}
	if got := ss.GoTo(10); got != 2 {
		t.Fatalf("goto 10: got %d", got)
	}
	if got := ss.GoTo(-3); got != 0 {
		t.Fatalf("goto -3: got %d", got)
	}
}

func TestSlideshowNavigationOnEmpty(t *testing.T) {
	ss := NewSlideshow(&fakeScheduler{}, 0, nil)
	if ss.Next() != 0 || ss.Previous() != 0 || ss.GoTo(3) != 0 {
		t.Fatal("navigation on empty slideshow should stay at 0")
	}
	if _, ok := ss.Current(); ok {
		t.Fatal("expected no current frame")
	}
}

func TestSlideshowAutoplayAtMostOneTimer(t *testing.T) {
	sched := &fakeScheduler{}
	ss := NewSlideshow(sched, time.Second, nil)
	ss.Initialize(frames(4), "")

	ss.Play()
	ss.Play()
	ss.Play()
	if n := sched.active(); n != 1 {
		t.Fatalf("expected 1 active timer, got %d", n)
	}

	// Fire every timer including stopped ones; only the live one advances.
	sched.fire()
	if ss.Cursor() != 1 {
		t.Fatalf("expected one step, cursor=%d", ss.Cursor())
	}

	ss.Pause()
	ss.Pause()
	if n := sched.active(); n != 0 {
		t.Fatalf("expected no active timers after pause, got %d", n)
	}
	sched.fire()
	if ss.Cursor() != 1 {
		t.Fatalf("paused slideshow advanced to %d", ss.Cursor())
	}
}

func TestSlideshowPlayRequiresFrames(t *testing.T) {
	sched := &fakeScheduler{}
	ss := NewSlideshow(sched, 0, nil)
	if ss.Play() {
		t.Fatal("play should fail without a slideshow")
	}
	if sched.active() != 0 {
		t.Fatal("no timer expected")
	}
}

func TestSlideshowTeardownCancelsTimer(t *testing.T) {
	sched := &fakeScheduler{}
	ss := NewSlideshow(sched, 0, nil)
	ss.Initialize(frames(2), "x")
	ss.Play()

	ss.Teardown()

	if sched.active() != 0 {
		t.Fatal("teardown left a timer running")
	}
	if ss.Active() || ss.TotalCount() != 0 || ss.Playing() {
		t.Fatal("teardown left state behind")
	}
	sched.fire()
}

func TestTickerSchedulerStops(t *testing.T) {
	ticks := make(chan struct{}, 8)
	timer := TickerScheduler{}.Every(time.Millisecond, func() {
		select {
		case ticks <- struct{}{}:
		default:
		}
	})
	select {
	case <-ticks:
	case <-time.After(2 * time.Second):
		t.Fatal("ticker never fired")
	}
	timer.Stop()
	timer.Stop()
}
