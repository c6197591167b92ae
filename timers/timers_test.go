package timers_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hsm "github.com/phamnamhien/HSM"
	"github.com/phamnamhien/HSM/timers"
)

const evtTick hsm.Event = hsm.EventUser

func TestVirtualRejectsBadArguments(t *testing.T) {
	v := timers.NewVirtual()
	_, err := v.Start(nil, time.Second, false)
	assert.ErrorIs(t, err, hsm.ErrInvalidArgument)
	_, err = v.Start(func() {}, 0, false)
	assert.ErrorIs(t, err, hsm.ErrInvalidArgument)
}

func TestVirtualOneShotFiresAtDeadline(t *testing.T) {
	v := timers.NewVirtual()
	fired := 0
	_, err := v.Start(func() { fired++ }, 100*time.Millisecond, false)
	require.NoError(t, err)
	require.Equal(t, 1, v.Pending())

	v.Advance(99 * time.Millisecond)
	assert.Equal(t, 0, fired, "fired before the deadline")

	v.Advance(1 * time.Millisecond)
	assert.Equal(t, 1, fired)
	assert.Equal(t, 0, v.Pending(), "one-shot left pending after firing")

	v.Advance(time.Second)
	assert.Equal(t, 1, fired, "one-shot fired again")
}

func TestVirtualPeriodicReschedules(t *testing.T) {
	v := timers.NewVirtual()
	fired := 0
	_, err := v.Start(func() { fired++ }, 100*time.Millisecond, true)
	require.NoError(t, err)

	v.Advance(350 * time.Millisecond)
	assert.Equal(t, 3, fired)
	assert.Equal(t, 1, v.Pending(), "periodic timer must stay armed")

	v.Advance(50 * time.Millisecond)
	assert.Equal(t, 4, fired)
}

func TestVirtualFiresInDeadlineOrder(t *testing.T) {
	v := timers.NewVirtual()
	var order []int
	_, err := v.Start(func() { order = append(order, 1) }, 200*time.Millisecond, false)
	require.NoError(t, err)
	_, err = v.Start(func() { order = append(order, 2) }, 100*time.Millisecond, false)
	require.NoError(t, err)

	v.Advance(300 * time.Millisecond)
	assert.Equal(t, []int{2, 1}, order)
}

func TestVirtualClockSitsAtDeadlineDuringFire(t *testing.T) {
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	v := timers.NewVirtual(start)
	var at time.Time
	_, err := v.Start(func() { at = v.Now() }, 100*time.Millisecond, false)
	require.NoError(t, err)

	v.Advance(time.Second)
	assert.Equal(t, start.Add(100*time.Millisecond), at)
	assert.Equal(t, start.Add(time.Second), v.Now())
}

func TestVirtualStopPreventsFire(t *testing.T) {
	v := timers.NewVirtual()
	fired := 0
	handle, err := v.Start(func() { fired++ }, 100*time.Millisecond, false)
	require.NoError(t, err)

	v.Stop(handle)
	v.Advance(time.Second)
	assert.Equal(t, 0, fired)
	assert.Equal(t, 0, v.Pending())

	// Stopping a fired or foreign handle is harmless.
	v.Stop(handle)
	v.Stop(nil)
}

func TestVirtualArmDuringCallback(t *testing.T) {
	v := timers.NewVirtual()
	var order []string
	_, err := v.Start(func() {
		order = append(order, "first")
		_, err := v.Start(func() { order = append(order, "second") }, 50*time.Millisecond, false)
		if err != nil {
			t.Error("rearm failed", err)
		}
	}, 100*time.Millisecond, false)
	require.NoError(t, err)

	// The second timer is armed at t=100ms and due at t=150ms, inside the
	// same Advance window.
	v.Advance(200 * time.Millisecond)
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, 0, v.Pending())
}

// Two states blinking back and forth, each ENTRY arming the next flip.
func TestVirtualDrivesMachine(t *testing.T) {
	v := timers.NewVirtual()
	flips := 0

	var on, off *hsm.State
	var err error
	on, err = hsm.NewState("on", func(m *hsm.Machine, event hsm.Event, data any) hsm.Event {
		switch event {
		case hsm.EventEntry:
			m.StartTimer(evtTick, 100*time.Millisecond, hsm.OneShot)
			return hsm.EventNone
		case evtTick:
			flips++
			m.Transition(off)
			return hsm.EventNone
		}
		return event
	}, nil)
	require.NoError(t, err)
	off, err = hsm.NewState("off", func(m *hsm.Machine, event hsm.Event, data any) hsm.Event {
		switch event {
		case hsm.EventEntry:
			m.StartTimer(evtTick, 200*time.Millisecond, hsm.OneShot)
			return hsm.EventNone
		case evtTick:
			flips++
			m.Transition(on)
			return hsm.EventNone
		}
		return event
	}, nil)
	require.NoError(t, err)

	m, err := hsm.New("blinky", on, hsm.WithTimerBackend(v))
	require.NoError(t, err)
	require.Equal(t, on, m.State())

	// on->off at 100, off->on at 300, on->off at 400, off->on at 600.
	v.Advance(600 * time.Millisecond)
	assert.Equal(t, 4, flips)
	assert.Equal(t, on, m.State())
	assert.Equal(t, 1, v.Pending(), "next flip must be armed")
}

func TestSystemOneShotFires(t *testing.T) {
	b := timers.System()
	fired := make(chan struct{})
	handle, err := b.Start(func() { close(fired) }, 20*time.Millisecond, false)
	require.NoError(t, err)
	require.NotNil(t, handle)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("one-shot never fired")
	}
	// Stopping a fired one-shot must not hang.
	b.Stop(handle)
}

func TestSystemPeriodicFiresUntilStopped(t *testing.T) {
	b := timers.System()
	var count atomic.Int64
	handle, err := b.Start(func() { count.Add(1) }, 10*time.Millisecond, true)
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for count.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.GreaterOrEqual(t, count.Load(), int64(3), "periodic timer stalled")

	b.Stop(handle)
	// An expiry already in flight may still land; wait it out before
	// snapshotting.
	time.Sleep(20 * time.Millisecond)
	after := count.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, count.Load(), "timer fired after Stop returned")
}

func TestSystemStopBeforeFire(t *testing.T) {
	b := timers.System()
	var count atomic.Int64
	handle, err := b.Start(func() { count.Add(1) }, 100*time.Millisecond, false)
	require.NoError(t, err)

	b.Stop(handle)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int64(0), count.Load())
}

func TestSystemRejectsBadArguments(t *testing.T) {
	b := timers.System()
	_, err := b.Start(nil, time.Second, false)
	assert.ErrorIs(t, err, hsm.ErrInvalidArgument)
	_, err = b.Start(func() {}, -time.Second, false)
	assert.ErrorIs(t, err, hsm.ErrInvalidArgument)

	// Unknown handles are ignored.
	b.Stop(nil)
	b.Stop("bogus")
}

// A handler stopping its own timer from inside the expiry dispatch must
// not deadlock the backend.
func TestSystemStopFromCallback(t *testing.T) {
	b := timers.System()
	done := make(chan struct{})

	var s *hsm.State
	var err error
	s, err = hsm.NewState("s", func(m *hsm.Machine, event hsm.Event, data any) hsm.Event {
		if event == evtTick {
			m.StopTimer()
			close(done)
			return hsm.EventNone
		}
		return event
	}, nil)
	require.NoError(t, err)

	m, err := hsm.New("selfstop", s, hsm.WithTimerBackend(b))
	require.NoError(t, err)
	require.NoError(t, m.StartTimer(evtTick, 20*time.Millisecond, hsm.Periodic))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("self-stop deadlocked")
	}
}

func TestSystemNow(t *testing.T) {
	b := timers.System()
	assert.WithinDuration(t, time.Now(), b.Now(), time.Second)
}
