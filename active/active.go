// Package active runs a machine as an active object: one goroutine owns
// the machine and everything reaching it, dispatches, timer expiries and
// arbitrary calls, is serialized through a queue. This is the intended
// way to drive a machine from multiple goroutines, since the engine
// itself performs no locking.
package active

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	hsm "github.com/phamnamhien/HSM"
	"github.com/phamnamhien/HSM/queue"
)

var (
	// ErrStopped reports that the object no longer accepts work.
	ErrStopped = errors.New("active: object stopped")

	// ErrRunning reports a second Start.
	ErrRunning = errors.New("active: already started")
)

// Object owns a machine and the goroutine that drives it.
type Object struct {
	machine *hsm.Machine
	queue   *queue.Queue[func()]
	logger  *slog.Logger

	started  atomic.Bool
	done     chan struct{}
	doneOnce sync.Once
}

type config struct {
	backend hsm.TimerBackend
	logger  *slog.Logger
	trace   hsm.Trace
	size    int
}

type Option func(*config)

// WithTimerBackend injects the timer capability. Expiry callbacks are
// re-routed through the object's queue, so handlers never run on a timer
// goroutine.
func WithTimerBackend(backend hsm.TimerBackend) Option {
	return func(c *config) {
		c.backend = backend
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithTrace(trace hsm.Trace) Option {
	return func(c *config) {
		c.trace = trace
	}
}

// WithQueueSize pre-sizes the work queue.
func WithQueueSize(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.size = size
		}
	}
}

// New builds the object and initializes its machine on the calling
// goroutine; queued work runs only after Start.
func New(name string, initial *hsm.State, opts ...Option) (*Object, error) {
	cfg := config{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	o := &Object{
		queue:  queue.New[func()](cfg.size),
		logger: cfg.logger,
		done:   make(chan struct{}),
	}

	mopts := []hsm.Option{hsm.WithLogger(cfg.logger)}
	if cfg.trace != nil {
		mopts = append(mopts, hsm.WithTrace(cfg.trace))
	}
	if cfg.backend != nil {
		mopts = append(mopts, hsm.WithTimerBackend(&serializedBackend{inner: cfg.backend, object: o}))
	}
	machine, err := hsm.New(name, initial, mopts...)
	if err != nil {
		return nil, err
	}
	o.machine = machine
	return o, nil
}

// Start launches the run loop. Canceling ctx aborts the loop without
// draining; use Stop for a graceful shutdown.
func (o *Object) Start(ctx context.Context) error {
	if o == nil {
		return fmt.Errorf("%w: start on nil object", hsm.ErrInvalidArgument)
	}
	if !o.started.CompareAndSwap(false, true) {
		return ErrRunning
	}
	go o.run(ctx)
	return nil
}

func (o *Object) run(ctx context.Context) {
	defer func() {
		o.queue.Close()
		// The exiting loop still owns the machine; release any armed
		// timer so a periodic backend cannot keep firing into the
		// closed queue.
		o.machine.StopTimer()
		o.finish()
		o.logger.Debug("active object stopped", "machine", o.machine.Name())
	}()
	for {
		work, ok := o.queue.Wait(ctx)
		if !ok {
			return
		}
		work()
	}
}

func (o *Object) finish() {
	o.doneOnce.Do(func() { close(o.done) })
}

// Stop closes the queue, lets the run loop drain what is already queued
// and waits for it to exit. The exiting loop releases any timer still
// armed on the machine. Stopping an object that was never started just
// closes the queue.
func (o *Object) Stop(ctx context.Context) error {
	if o == nil {
		return fmt.Errorf("%w: stop on nil object", hsm.ErrInvalidArgument)
	}
	o.queue.Close()
	if !o.started.Load() {
		o.finish()
	}
	select {
	case <-o.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done closes when the run loop has exited. On a nil object the channel
// is already closed.
func (o *Object) Done() <-chan struct{} {
	if o == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return o.done
}

// Dispatch queues event for the run loop and returns immediately.
func (o *Object) Dispatch(event hsm.Event, data any) error {
	if o == nil {
		return fmt.Errorf("%w: dispatch on nil object", hsm.ErrInvalidArgument)
	}
	if !o.queue.Push(func() { o.machine.Dispatch(event, data) }) {
		return ErrStopped
	}
	return nil
}

// DispatchSync queues event and waits until the run loop has processed
// it.
func (o *Object) DispatchSync(ctx context.Context, event hsm.Event, data any) error {
	return o.Call(ctx, func(m *hsm.Machine) error {
		return m.Dispatch(event, data)
	})
}

// Call runs fn on the run loop with exclusive access to the machine and
// returns its result. This is the safe window for queries and
// transitions while the object is running.
func (o *Object) Call(ctx context.Context, fn func(m *hsm.Machine) error) error {
	if o == nil || fn == nil {
		return fmt.Errorf("%w: call needs an object and a func", hsm.ErrInvalidArgument)
	}
	result := make(chan error, 1)
	if !o.queue.Push(func() { result <- fn(o.machine) }) {
		return ErrStopped
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-o.done:
		// The loop may have drained our call right before exiting.
		select {
		case err := <-result:
			return err
		default:
			return ErrStopped
		}
	}
}

// StartTimer arms the machine's timer from the run loop.
func (o *Object) StartTimer(ctx context.Context, event hsm.Event, period time.Duration, mode hsm.TimerMode) error {
	return o.Call(ctx, func(m *hsm.Machine) error {
		return m.StartTimer(event, period, mode)
	})
}

// StopTimer releases the machine's timer from the run loop.
func (o *Object) StopTimer(ctx context.Context) error {
	return o.Call(ctx, func(m *hsm.Machine) error {
		return m.StopTimer()
	})
}

// State reads the active state via the run loop.
func (o *Object) State(ctx context.Context) (*hsm.State, error) {
	var state *hsm.State
	err := o.Call(ctx, func(m *hsm.Machine) error {
		state = m.State()
		return nil
	})
	return state, err
}

// Machine exposes the wrapped machine. It is only safe to touch directly
// before Start or after Done; while running, go through Call.
func (o *Object) Machine() *hsm.Machine {
	if o == nil {
		return nil
	}
	return o.machine
}

func (o *Object) Name() string {
	return o.Machine().Name()
}

func (o *Object) ID() string {
	return o.Machine().ID()
}

/******* Timer serialization *******/

// serializedBackend re-routes expiry callbacks through the object's
// queue, so the machine only ever runs on its own goroutine. Expiries
// arriving after the queue closed are dropped.
type serializedBackend struct {
	inner  hsm.TimerBackend
	object *Object
}

func (b *serializedBackend) Start(fn func(), period time.Duration, periodic bool) (hsm.TimerHandle, error) {
	return b.inner.Start(func() {
		if !b.object.queue.Push(fn) {
			b.object.logger.Debug("timer expiry after stop dropped",
				"machine", b.object.machine.Name())
		}
	}, period, periodic)
}

func (b *serializedBackend) Stop(handle hsm.TimerHandle) {
	b.inner.Stop(handle)
}

func (b *serializedBackend) Now() time.Time {
	return b.inner.Now()
}
