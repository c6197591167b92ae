// Package hsmtest provides test doubles for machines: a controllable timer
// backend that fires only on demand, and an ordered recorder for handler
// invocations.
package hsmtest

import (
	"fmt"
	"slices"
	"sync"
	"time"

	hsm "github.com/phamnamhien/HSM"
)

// Backend implements hsm.TimerBackend without any scheduling: every Start
// and Stop is recorded, time moves only through Advance, and timers fire
// only when Fire is called on them.
type Backend struct {
	mu       sync.Mutex
	now      time.Time
	timers   []*Timer
	stops    int
	failNext error
}

// Timer is the handle type Backend returns from Start.
type Timer struct {
	mu       sync.Mutex
	fn       func()
	period   time.Duration
	periodic bool
	stopped  bool
	fired    int
}

func NewBackend() *Backend {
	return &Backend{now: time.Unix(0, 0).UTC()}
}

// Start records the request and returns a new handle, or the error staged
// with FailNextStart.
func (b *Backend) Start(fn func(), period time.Duration, periodic bool) (hsm.TimerHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failNext != nil {
		err := b.failNext
		b.failNext = nil
		return nil, err
	}
	t := &Timer{fn: fn, period: period, periodic: periodic}
	b.timers = append(b.timers, t)
	return t, nil
}

// Stop records the call and marks the handle so it can no longer fire.
// Stopping an already fired one-shot is valid, matching the backend
// contract.
func (b *Backend) Stop(handle hsm.TimerHandle) {
	b.mu.Lock()
	b.stops++
	b.mu.Unlock()
	if t, ok := handle.(*Timer); ok {
		t.mu.Lock()
		t.stopped = true
		t.mu.Unlock()
	}
}

func (b *Backend) Now() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now
}

// Advance moves the backend clock. It never fires timers; use Timer.Fire
// to simulate expiry.
func (b *Backend) Advance(d time.Duration) {
	b.mu.Lock()
	b.now = b.now.Add(d)
	b.mu.Unlock()
}

// FailNextStart makes the next Start call return err instead of a handle.
func (b *Backend) FailNextStart(err error) {
	b.mu.Lock()
	b.failNext = err
	b.mu.Unlock()
}

// Starts returns how many timers were armed.
func (b *Backend) Starts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.timers)
}

// Stops returns how many Stop calls were made.
func (b *Backend) Stops() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stops
}

// Outstanding returns armed minus stopped, the number of handles the
// engine still holds.
func (b *Backend) Outstanding() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.timers) - b.stops
}

// Last returns the most recently armed timer, or nil.
func (b *Backend) Last() *Timer {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.timers) == 0 {
		return nil
	}
	return b.timers[len(b.timers)-1]
}

// Fire invokes the timer callback once, honoring the real backend
// contract: a stopped timer never fires and a one-shot fires at most once.
func (t *Timer) Fire() {
	t.mu.Lock()
	if t.stopped || (!t.periodic && t.fired > 0) {
		t.mu.Unlock()
		return
	}
	t.fired++
	fn := t.fn
	t.mu.Unlock()
	fn()
}

func (t *Timer) Period() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.period
}

func (t *Timer) Periodic() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.periodic
}

func (t *Timer) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Fired returns how many times the timer has expired.
func (t *Timer) Fired() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}

// Recorder captures an ordered log of handler activity.
type Recorder struct {
	mu      sync.Mutex
	entries []string
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Add(format string, args ...any) {
	r.mu.Lock()
	r.entries = append(r.entries, fmt.Sprintf(format, args...))
	r.mu.Unlock()
}

// Entries returns a copy of the recorded log.
func (r *Recorder) Entries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.entries)
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.entries = nil
	r.mu.Unlock()
}

// Matches reports whether the log equals exactly the expected entries.
func (r *Recorder) Matches(expected ...string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Equal(r.entries, expected)
}

// Wrap decorates a handler so ENTRY, EXIT and user events are logged as
// "ENTRY(name)", "EXIT(name)" and "EVENT(name,code)" before next runs.
// A nil next consumes ENTRY/EXIT and propagates everything else.
func (r *Recorder) Wrap(name string, next hsm.Handler) hsm.Handler {
	return func(m *hsm.Machine, event hsm.Event, data any) hsm.Event {
		switch event {
		case hsm.EventEntry:
			r.Add("ENTRY(%s)", name)
		case hsm.EventExit:
			r.Add("EXIT(%s)", name)
		default:
			r.Add("EVENT(%s,%s)", name, event)
		}
		if next != nil {
			return next(m, event, data)
		}
		if event.IsReserved() {
			return hsm.EventNone
		}
		return event
	}
}
