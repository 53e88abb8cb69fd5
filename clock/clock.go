// Package clock tracks the elapsed recording time of a session, excluding the time spent
// paused.
package clock

import (
	"sync"
	"time"

	"github.com/OmGuptaIND/screenrec/config"
)

// Clock is the time source used by the Tracker.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// System is the wall clock.
var System Clock = systemClock{}

type TrackerOptions struct {
	Clock Clock

	// RefreshInterval is the cadence of OnTick, defaults to 100ms.
	RefreshInterval time.Duration

	// OnTick receives the elapsed seconds on every refresh while the tracker is running.
	OnTick func(elapsed float64)
}

// Tracker measures elapsed time as now minus the start instant minus the accumulated paused
// duration. The zero value is not usable, see NewTracker.
type Tracker struct {
	mu sync.Mutex

	startedAt   time.Time
	pausedAt    time.Time
	pausedTotal time.Duration
	frozen      time.Duration

	running bool
	paused  bool
	stopped bool

	done chan struct{}
	wg   sync.WaitGroup

	opts TrackerOptions
}

// NewTracker creates an idle tracker.
func NewTracker(opts TrackerOptions) *Tracker {
	if opts.Clock == nil {
		opts.Clock = System
	}

	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = config.TIMER_REFRESH_INTERVAL
	}

	return &Tracker{opts: opts}
}

// Start begins measuring from zero, discarding any previous run.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopRefreshLocked()

	t.startedAt = t.opts.Clock.Now()
	t.pausedAt = time.Time{}
	t.pausedTotal = 0
	t.frozen = 0
	t.running = true
	t.paused = false
	t.stopped = false

	t.startRefreshLocked()
}

// Pause freezes the elapsed time. No-op unless running.
func (t *Tracker) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running || t.paused {
		return
	}

	t.pausedAt = t.opts.Clock.Now()
	t.paused = true
}

// Resume continues measuring, keeping the time elapsed before the pause.
func (t *Tracker) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running || !t.paused {
		return
	}

	t.pausedTotal += t.opts.Clock.Now().Sub(t.pausedAt)
	t.pausedAt = time.Time{}
	t.paused = false
}

// Stop freezes the final elapsed value and ends the refresh loop. Elapsed keeps returning the
// frozen value until Reset or Start.
func (t *Tracker) Stop() {
	t.mu.Lock()

	if t.running {
		t.frozen = t.elapsedLocked()
		t.running = false
		t.paused = false
		t.stopped = true
	}

	done := t.detachRefreshLocked()
	t.mu.Unlock()

	t.waitRefresh(done)
}

// Reset clears the tracker back to zero.
func (t *Tracker) Reset() {
	t.mu.Lock()

	done := t.detachRefreshLocked()

	t.startedAt = time.Time{}
	t.pausedAt = time.Time{}
	t.pausedTotal = 0
	t.frozen = 0
	t.running = false
	t.paused = false
	t.stopped = false

	t.mu.Unlock()

	t.waitRefresh(done)
}

// Elapsed returns the recorded seconds, excluding paused intervals.
func (t *Tracker) Elapsed() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.elapsedLocked().Seconds()
}

// Running reports whether the tracker is started and not stopped, paused or not.
func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.running
}

// Paused reports whether the tracker is currently frozen by Pause.
func (t *Tracker) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.paused
}

func (t *Tracker) elapsedLocked() time.Duration {
	switch {
	case t.stopped:
		return t.frozen
	case !t.running:
		return 0
	case t.paused:
		return t.pausedAt.Sub(t.startedAt) - t.pausedTotal
	default:
		return t.opts.Clock.Now().Sub(t.startedAt) - t.pausedTotal
	}
}

func (t *Tracker) startRefreshLocked() {
	if t.opts.OnTick == nil {
		return
	}

	done := make(chan struct{})
	t.done = done

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		ticker := time.NewTicker(t.opts.RefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				t.mu.Lock()
				if !t.running || t.paused {
					t.mu.Unlock()
					continue
				}
				elapsed := t.elapsedLocked().Seconds()
				t.mu.Unlock()

				t.opts.OnTick(elapsed)
			}
		}
	}()
}

func (t *Tracker) stopRefreshLocked() {
	if t.done != nil {
		close(t.done)
		t.done = nil
	}
}

func (t *Tracker) detachRefreshLocked() chan struct{} {
	done := t.done
	t.done = nil

	return done
}

func (t *Tracker) waitRefresh(done chan struct{}) {
	if done == nil {
		return
	}

	close(done)
	t.wg.Wait()
}
