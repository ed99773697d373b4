package session

import (
	"sync"
	"time"
)

// DefaultAutoplayInterval is the slideshow autoplay period.
const DefaultAutoplayInterval = 3 * time.Second

// Timer is a cancellable repeating timer.
type Timer interface {
	// Stop cancels the timer. It is safe to call more than once.
	Stop()
}

// Scheduler starts repeating timers.
type Scheduler interface {
	Every(d time.Duration, fn func()) Timer
}

// TickerScheduler runs timers on time.Ticker.
type TickerScheduler struct{}

// Every calls fn every d until the returned timer is stopped.
func (TickerScheduler) Every(d time.Duration, fn func()) Timer {
	t := &tickerTimer{
		ticker: time.NewTicker(d),
		done:   make(chan struct{}),
	}
	go t.run(fn)
	return t
}

type tickerTimer struct {
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func (t *tickerTimer) run(fn func()) {
	for {
		select {
		case <-t.done:
			return
		case <-t.ticker.C:
			// Stop may race with a tick that is already queued.
			select {
			case <-t.done:
				return
			default:
			}
			fn()
		}
	}
}

func (t *tickerTimer) Stop() {
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.done)
	})
}
