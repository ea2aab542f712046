package swim

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

// fakeScheduler records scheduled timers without running them. Tests fire
// timers by calling run on the returned handles.
type fakeScheduler struct {
	timers []*fakeTimer
}

type fakeTimer struct {
	d      time.Duration
	handle *timerHandle
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) *timerHandle {
	h := &timerHandle{fn: f}
	s.timers = append(s.timers, &fakeTimer{d: d, handle: h})
	return h
}

func (s *fakeScheduler) Every(d time.Duration, f func()) *timerHandle {
	h := &timerHandle{fn: f, periodic: true}
	s.timers = append(s.timers, &fakeTimer{d: d, handle: h})
	return h
}

// pending returns the number of pending timers with the given duration.
func (s *fakeScheduler) pending(d time.Duration) int {
	n := 0
	for _, t := range s.timers {
		if t.d == d && t.handle.Pending() {
			n++
		}
	}
	return n
}

var _ scheduler = &fakeScheduler{}

func TestTimerHandle(t *testing.T) {
	t.Run("run once", func(t *testing.T) {
		calls := 0
		h := &timerHandle{fn: func() { calls++ }}

		assert.True(t, h.Pending())
		h.run()
		h.run()
		assert.Equal(t, 1, calls)
		assert.False(t, h.Pending())

		// Cancelling a fired handle is a no-op.
		assert.False(t, h.Cancel())
	})

	t.Run("cancel", func(t *testing.T) {
		calls := 0
		stopped := 0
		h := &timerHandle{
			fn:   func() { calls++ },
			stop: func() bool { stopped++; return true },
		}

		assert.True(t, h.Cancel())
		assert.False(t, h.Cancel())
		h.run()
		assert.Equal(t, 0, calls)
		assert.Equal(t, 1, stopped)
	})

	t.Run("nil", func(t *testing.T) {
		var h *timerHandle
		assert.False(t, h.Pending())
		assert.False(t, h.Cancel())
	})

	t.Run("periodic", func(t *testing.T) {
		calls := 0
		h := &timerHandle{fn: func() { calls++ }, periodic: true}

		h.run()
		h.run()
		assert.Equal(t, 2, calls)
		assert.True(t, h.Pending())

		h.Cancel()
		h.run()
		assert.Equal(t, 2, calls)
	})
}

func TestClockScheduler(t *testing.T) {
	waitPosted := func(t *testing.T, postCh <-chan func()) func() {
		t.Helper()

		select {
		case f := <-postCh:
			return f
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for timer")
			return nil
		}
	}

	t.Run("after func", func(t *testing.T) {
		mock := clock.NewMock()
		postCh := make(chan func(), 8)
		s := newClockScheduler(mock, func(f func()) { postCh <- f })

		fired := false
		h := s.AfterFunc(time.Second, func() { fired = true })

		mock.Add(time.Second)
		waitPosted(t, postCh)()
		assert.True(t, fired)
		assert.False(t, h.Pending())
	})

	t.Run("cancel before fire", func(t *testing.T) {
		mock := clock.NewMock()
		postCh := make(chan func(), 8)
		s := newClockScheduler(mock, func(f func()) { postCh <- f })

		fired := false
		h := s.AfterFunc(time.Second, func() { fired = true })
		assert.True(t, h.Cancel())

		mock.Add(time.Second * 2)
		select {
		case <-postCh:
			t.Fatal("cancelled timer fired")
		case <-time.After(time.Millisecond * 50):
		}
		assert.False(t, fired)
	})

	// Tests a timer that fires, but is cancelled before the event loop runs
	// the posted callback.
	t.Run("cancel after fire", func(t *testing.T) {
		mock := clock.NewMock()
		postCh := make(chan func(), 8)
		s := newClockScheduler(mock, func(f func()) { postCh <- f })

		fired := false
		h := s.AfterFunc(time.Second, func() { fired = true })

		mock.Add(time.Second)
		f := waitPosted(t, postCh)
		h.Cancel()
		f()
		assert.False(t, fired)
	})

	t.Run("every", func(t *testing.T) {
		mock := clock.NewMock()
		postCh := make(chan func(), 8)
		s := newClockScheduler(mock, func(f func()) { postCh <- f })

		calls := 0
		h := s.Every(time.Second, func() { calls++ })

		for i := 0; i != 3; i++ {
			mock.Add(time.Second)
			waitPosted(t, postCh)()
		}
		assert.Equal(t, 3, calls)

		h.Cancel()
		mock.Add(time.Second)
		select {
		case <-postCh:
			t.Fatal("cancelled ticker fired")
		case <-time.After(time.Millisecond * 50):
		}
	})
}
