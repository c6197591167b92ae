// Package timers provides TimerBackend implementations for machines: a
// goroutine-based backend over the wall clock for production use and a
// deterministic virtual backend for tests and simulation.
package timers

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	hsm "github.com/phamnamhien/HSM"
	"github.com/phamnamhien/HSM/clock"
)

/******* System backend *******/

type systemBackend struct {
	clk clock.Clock
}

// System returns a backend that runs one goroutine per armed timer over
// the wall clock. Callbacks fire on the timer's goroutine; serializing
// them with application dispatches is the caller's concern (see the
// active package).
func System() hsm.TimerBackend {
	return &systemBackend{clk: clock.System()}
}

func (b *systemBackend) Start(fn func(), period time.Duration, periodic bool) (hsm.TimerHandle, error) {
	if fn == nil || period <= 0 {
		return nil, fmt.Errorf("%w: timer needs a callback and a positive period", hsm.ErrInvalidArgument)
	}
	t := &systemTimer{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go t.run(fn, period, periodic)
	return t, nil
}

// Stop cancels the timer and waits for its goroutine to exit. While the
// callback is running, including a Stop from inside the callback itself,
// it only signals; the goroutine exits once the callback returns, and no
// further expiry starts after Stop returns.
func (b *systemBackend) Stop(handle hsm.TimerHandle) {
	t, ok := handle.(*systemTimer)
	if !ok {
		return
	}
	t.stopOnce.Do(func() { close(t.stop) })
	if t.firing.Load() {
		return
	}
	<-t.done
}

func (b *systemBackend) Now() time.Time {
	return b.clk.Now()
}

type systemTimer struct {
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	firing   atomic.Bool
}

func (t *systemTimer) run(fn func(), period time.Duration, periodic bool) {
	defer close(t.done)
	timer := time.NewTimer(period)
	defer timer.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-timer.C:
			t.firing.Store(true)
			fn()
			t.firing.Store(false)
			select {
			case <-t.stop:
				return
			default:
			}
			if !periodic {
				return
			}
			timer.Reset(period)
		}
	}
}

/******* Virtual backend *******/

// Virtual is a deterministic backend driven by a manual clock: timers
// fire only inside Advance, on the caller's goroutine, in deadline order.
// It is intended for tests and simulation, driven from a single
// goroutine.
type Virtual struct {
	mu      sync.Mutex
	clk     *clock.Manual
	seq     int
	pending map[int]*virtualTimer
}

// NewVirtual returns a virtual backend starting at start, or at the Unix
// epoch when no start is given.
func NewVirtual(start ...time.Time) *Virtual {
	at := time.Time{}
	if len(start) > 0 {
		at = start[0]
	}
	return &Virtual{
		clk:     clock.NewManual(at),
		pending: make(map[int]*virtualTimer),
	}
}

func (v *Virtual) Start(fn func(), period time.Duration, periodic bool) (hsm.TimerHandle, error) {
	if fn == nil || period <= 0 {
		return nil, fmt.Errorf("%w: timer needs a callback and a positive period", hsm.ErrInvalidArgument)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seq++
	t := &virtualTimer{
		id:       v.seq,
		fn:       fn,
		period:   period,
		periodic: periodic,
		deadline: v.clk.Now().Add(period),
	}
	v.pending[t.id] = t
	return t, nil
}

func (v *Virtual) Stop(handle hsm.TimerHandle) {
	t, ok := handle.(*virtualTimer)
	if !ok {
		return
	}
	v.mu.Lock()
	delete(v.pending, t.id)
	v.mu.Unlock()
}

func (v *Virtual) Now() time.Time {
	return v.clk.Now()
}

// Pending returns how many timers are armed.
func (v *Virtual) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.pending)
}

// Advance moves the clock forward by d, firing every timer that comes due
// on the way, in deadline order. The clock sits exactly at a timer's
// deadline while its callback runs, so callbacks arming new timers
// schedule relative to their own expiry; a timer armed during Advance
// fires in the same call if it comes due before the target time.
func (v *Virtual) Advance(d time.Duration) {
	target := v.clk.Now().Add(d)
	for {
		next := v.takeDue(target)
		if next == nil {
			break
		}
		next()
	}
	v.clk.Set(target)
}

// takeDue pops the earliest callback due at or before target, moves the
// clock to its deadline, and reschedules periodic timers. Ties fire in
// arming order.
func (v *Virtual) takeDue(target time.Time) func() {
	v.mu.Lock()
	defer v.mu.Unlock()
	var due *virtualTimer
	for _, t := range v.pending {
		if t.deadline.After(target) {
			continue
		}
		if due == nil || t.deadline.Before(due.deadline) ||
			(t.deadline.Equal(due.deadline) && t.id < due.id) {
			due = t
		}
	}
	if due == nil {
		return nil
	}
	v.clk.Set(due.deadline)
	if due.periodic {
		due.deadline = due.deadline.Add(due.period)
	} else {
		delete(v.pending, due.id)
	}
	return due.fn
}

type virtualTimer struct {
	id       int
	fn       func()
	period   time.Duration
	periodic bool
	deadline time.Time
}
