package swim

import (
	"time"

	"github.com/benbjohnson/clock"
)

// timerHandle is a cancellable scheduled callback.
//
// A handle runs its callback at most once (or once per period for periodic
// handles), and never after it has been cancelled, even if the underlying
// timer already fired and the callback is queued on the event loop.
type timerHandle struct {
	fn       func()
	stop     func() bool
	periodic bool
	done     bool
}

// Pending returns whether the handle is still scheduled.
func (h *timerHandle) Pending() bool {
	return h != nil && !h.done
}

// Cancel cancels the handle. Cancelling a nil, fired or already cancelled
// handle is a no-op. Returns whether the handle was pending.
func (h *timerHandle) Cancel() bool {
	if !h.Pending() {
		return false
	}
	h.done = true
	if h.stop != nil {
		h.stop()
	}
	return true
}

// run runs the callback if the handle is still pending. It must be called
// from the event loop.
func (h *timerHandle) run() {
	if h.done {
		return
	}
	if !h.periodic {
		h.done = true
	}
	h.fn()
}

// scheduler schedules callbacks onto the event loop.
type scheduler interface {
	AfterFunc(d time.Duration, f func()) *timerHandle
	Every(d time.Duration, f func()) *timerHandle
}

// clockScheduler schedules using the given clock and posts fired callbacks
// to the event loop with post.
type clockScheduler struct {
	clock clock.Clock
	post  func(f func())
}

func newClockScheduler(clock clock.Clock, post func(f func())) *clockScheduler {
	return &clockScheduler{
		clock: clock,
		post:  post,
	}
}

func (s *clockScheduler) AfterFunc(d time.Duration, f func()) *timerHandle {
	h := &timerHandle{fn: f}
	t := s.clock.AfterFunc(d, func() {
		s.post(h.run)
	})
	h.stop = t.Stop
	return h
}

func (s *clockScheduler) Every(d time.Duration, f func()) *timerHandle {
	h := &timerHandle{fn: f, periodic: true}

	ticker := s.clock.Ticker(d)
	stopCh := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				s.post(h.run)
			case <-stopCh:
				return
			}
		}
	}()

	h.stop = func() bool {
		ticker.Stop()
		close(stopCh)
		return true
	}
	return h
}

var _ scheduler = &clockScheduler{}
