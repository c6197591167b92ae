// Package hsm implements a hierarchical state machine engine for
// event-driven control logic: states form a fixed-depth tree, events bubble
// from the active state toward the root, and transitions are resolved
// through the lowest common ancestor with deterministic exit and entry
// ordering. The engine is synchronous and performs no locking; see the
// active package for a queue-serialized wrapper.
package hsm

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

/******* Events *******/

// Event identifies a signal delivered to state handlers. Values below
// EventUser are reserved for the engine and must not be dispatched by
// applications.
type Event uint32

const (
	EventNone  Event = 0x00 // absence of an event; a handler returns it to consume
	EventEntry Event = 0x01 // injected when a state is entered
	EventExit  Event = 0x02 // injected when a state is exited
	EventUser  Event = 0x10 // first event code available to applications
)

// User returns the application event at the given offset above EventUser.
func User(offset uint32) Event {
	return EventUser + Event(offset)
}

// IsUser reports whether e lies in the application event space.
func (e Event) IsUser() bool {
	return e >= EventUser
}

// IsReserved reports whether e is one of the engine-owned event codes.
func (e Event) IsReserved() bool {
	return e < EventUser
}

func (e Event) String() string {
	switch e {
	case EventNone:
		return "none"
	case EventEntry:
		return "entry"
	case EventExit:
		return "exit"
	}
	return fmt.Sprintf("0x%02x", uint32(e))
}

/******* Errors *******/

var (
	// ErrInvalidArgument reports a missing required reference, an empty
	// event where one is required, or a sub-minimum timer period.
	ErrInvalidArgument = errors.New("hsm: invalid argument")

	// ErrMaxDepth reports that creating a state would exceed MaxDepth.
	ErrMaxDepth = errors.New("hsm: max depth exceeded")

	// ErrTimerBackend reports that the injected timer backend failed to
	// arm a timer.
	ErrTimerBackend = errors.New("hsm: timer backend failure")
)

/******* States *******/

// MaxDepth bounds the length of any parent chain. It is enforced by
// NewState, never at dispatch or transition time, so a correctly built
// tree guarantees that path computation always terminates.
const MaxDepth = 8

// Handler reacts to an event and returns the residual event: EventNone
// consumes the event, anything else propagates to the parent state's
// handler. ENTRY and EXIT notifications are injected by the engine and are
// never propagated regardless of the return value.
type Handler func(m *Machine, event Event, data any) Event

// Hook runs exactly once between the exit and entry phases of a
// transition started with TransitionWith.
type Hook func(m *Machine, param any)

// State is a node in a state tree. States are built once with NewState and
// never mutated afterwards; a tree may be read by any number of machines
// concurrently.
type State struct {
	name    string
	handler Handler
	parent  *State
}

// NewState creates a state with the given handler under parent; a nil
// parent makes a root state. It fails if handler is nil or if the
// resulting depth would reach MaxDepth.
func NewState(name string, handler Handler, parent *State) (*State, error) {
	if handler == nil {
		return nil, fmt.Errorf("%w: state %q has no handler", ErrInvalidArgument, name)
	}
	if stateDepth(parent)+1 >= MaxDepth {
		return nil, fmt.Errorf("%w: state %q exceeds depth %d", ErrMaxDepth, name, MaxDepth)
	}
	return &State{name: name, handler: handler, parent: parent}, nil
}

func (s *State) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

func (s *State) Parent() *State {
	if s == nil {
		return nil
	}
	return s.parent
}

// Depth returns the number of parent links between s and its root. A root
// state has depth 0, as does a nil state.
func (s *State) Depth() int {
	return stateDepth(s)
}

// stateDepth counts parent links up to the root. Nil is depth 0 so
// root-adjacent computations stay well-defined.
func stateDepth(s *State) int {
	depth := 0
	for s != nil && s.parent != nil {
		depth++
		s = s.parent
	}
	return depth
}

// findLCA returns the lowest common ancestor of a and b: depths are
// equalized first, then both walk up in lockstep until they meet. When
// a == b the state itself is returned.
func findLCA(a, b *State) *State {
	da, db := stateDepth(a), stateDepth(b)
	for da > db {
		a = a.parent
		da--
	}
	for db > da {
		b = b.parent
		db--
	}
	for a != b {
		a = a.parent
		b = b.parent
	}
	return a
}

/******* Timer backend *******/

// MinTimerPeriod is the smallest period StartTimer accepts.
const MinTimerPeriod = time.Millisecond

// TimerMode selects one-shot or periodic expiry for StartTimer.
type TimerMode uint8

const (
	OneShot TimerMode = iota
	Periodic
)

func (m TimerMode) String() string {
	if m == Periodic {
		return "periodic"
	}
	return "oneshot"
}

// TimerHandle is an opaque reference to a timer armed through a backend.
type TimerHandle any

// TimerBackend is the injected capability behind StartTimer and StopTimer.
// Absent a backend, timer features are disabled for the machine.
//
// Start arms a timer that invokes fn once after period (or repeatedly
// every period when periodic) and returns an opaque handle. Stop cancels
// and releases a handle; it must be safe to call after a one-shot has
// already fired and must guarantee fn is not invoked after it returns.
// Now is a monotonic time source used by integrations, not by the engine.
type TimerBackend interface {
	Start(fn func(), period time.Duration, periodic bool) (TimerHandle, error)
	Stop(handle TimerHandle)
	Now() time.Time
}

/******* Machine *******/

// Trace observes engine steps ("init", "dispatch", "transition", "entry",
// "exit", "handle"). It returns a completion func invoked when the step
// finishes. See pkg/telemetry for a span-emitting implementation.
type Trace func(step string, args ...any) func(...any)

// Machine is one executing instance over a state tree. A machine is not
// safe for concurrent use; all calls must come from a single logical
// thread of control (see the active package).
type Machine struct {
	name         string
	id           string
	current      *State
	initial      *State
	next         *State // deferred transition target
	depth        int
	inTransition bool
	history      *State

	timerHandle TimerHandle
	timerEvent  Event
	backend     TimerBackend

	logger *slog.Logger
	trace  Trace
}

// Option configures a machine at construction time.
type Option func(m *Machine)

// WithTimerBackend injects the timer capability used by StartTimer.
func WithTimerBackend(backend TimerBackend) Option {
	return func(m *Machine) {
		m.backend = backend
	}
}

// WithLogger replaces the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithTrace installs a step observer invoked around engine operations.
func WithTrace(trace Trace) Option {
	return func(m *Machine) {
		m.trace = trace
	}
}

// New initializes a machine at initial and runs ENTRY on the full ancestor
// chain starting at the initial state and walking outward to the root.
// Note the ordering: at initialization the child enters before its
// ancestors, whereas a transition enters ancestors first. Handlers that
// need "parent before child" must not rely on it during startup.
//
// The entry sequence runs under the same in-progress guard as a
// transition, so a transition requested from one of these ENTRY handlers
// is deferred and resolved before New returns.
func New(name string, initial *State, opts ...Option) (*Machine, error) {
	if initial == nil {
		return nil, fmt.Errorf("%w: machine %q requires an initial state", ErrInvalidArgument, name)
	}
	m := &Machine{
		name:    name,
		id:      uuid.NewString(),
		current: initial,
		initial: initial,
		depth:   stateDepth(initial),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}

	var end func(...any)
	if m.trace != nil {
		end = m.trace("init", m, initial)
	}
	m.inTransition = true
	for s := initial; s != nil; s = s.parent {
		m.execute(s, EventEntry, nil)
	}
	m.inTransition = false
	if end != nil {
		end()
	}

	if m.next != nil {
		next := m.next
		m.next = nil
		if err := m.transition(next, nil, nil); err != nil {
			return nil, err
		}
	}
	m.logger.Debug("machine initialized",
		"machine", m.name, "id", m.id, "state", m.current.name)
	return m, nil
}

/******* Dispatch *******/

// Dispatch sends event to the active state's handler and propagates the
// residual event up the parent chain until a handler consumes it or the
// root is passed. An event that reaches past the root unconsumed is
// silently dropped. A nil data pointer is valid and passed through
// unchanged.
//
// The chain is captured on entry: a transition performed by a handler
// during the walk does not redirect the remaining propagation.
func (m *Machine) Dispatch(event Event, data any) error {
	if m == nil {
		return fmt.Errorf("%w: dispatch on nil machine", ErrInvalidArgument)
	}
	if m.trace != nil {
		defer m.trace("dispatch", m, event)()
	}

	state := m.current
	evt := event
	for state != nil && evt != EventNone {
		evt = m.execute(state, evt, data)
		if evt != EventNone {
			state = state.parent
		}
	}
	if evt != EventNone {
		m.logger.Debug("event dropped", "machine", m.name, "event", evt)
	}
	return nil
}

// execute runs one handler invocation, tolerating states built without a
// handler.
func (m *Machine) execute(s *State, event Event, data any) Event {
	if s == nil || s.handler == nil {
		return EventNone
	}
	if m.trace == nil {
		return s.handler(m, event, data)
	}
	var step string
	switch event {
	case EventEntry:
		step = "entry"
	case EventExit:
		step = "exit"
	default:
		step = "handle"
	}
	end := m.trace(step, m, s, event)
	residual := s.handler(m, event, data)
	end(residual)
	return residual
}

/******* Transitions *******/

// Transition moves the active state to target. Equivalent to
// TransitionWith(target, nil, nil).
func (m *Machine) Transition(target *State) error {
	return m.transition(target, nil, nil)
}

// TransitionWith moves the active state to target, passing param to every
// EXIT and ENTRY handler on the way and invoking hook once between the
// exit and entry phases.
//
// When called while another transition is in progress (from an ENTRY or
// EXIT handler, or during initialization), the request is recorded in the
// machine's single pending slot and performed after the in-flight
// transition completes; a later request overwrites an earlier one, and the
// deferred run drops param and hook.
func (m *Machine) TransitionWith(target *State, param any, hook Hook) error {
	return m.transition(target, param, hook)
}

// TransitionHistory transitions to the state recorded before the most
// recent transition, or to the initial state when no history exists yet.
func (m *Machine) TransitionHistory() error {
	if m == nil {
		return fmt.Errorf("%w: transition on nil machine", ErrInvalidArgument)
	}
	if m.history == nil {
		return m.transition(m.initial, nil, nil)
	}
	return m.transition(m.history, nil, nil)
}

func (m *Machine) transition(target *State, param any, hook Hook) error {
	if m == nil || target == nil {
		return fmt.Errorf("%w: transition requires a machine and a target", ErrInvalidArgument)
	}

	// Re-entrant request: remember the target, last writer wins.
	if m.inTransition {
		m.next = target
		m.logger.Debug("transition deferred", "machine", m.name, "target", target.name)
		return nil
	}

	m.history = m.current

	// A timer never outlives the transition that armed it.
	if m.timerHandle != nil && m.backend != nil {
		m.backend.Stop(m.timerHandle)
		m.timerHandle = nil
		m.timerEvent = EventNone
	}

	source := m.current
	lca := findLCA(m.current, target)

	var exitPath, entryPath [MaxDepth]*State
	exitCount := 0
	for s := m.current; s != lca; s = s.parent {
		exitPath[exitCount] = s
		exitCount++
	}
	entryCount := 0
	for s := target; s != lca; s = s.parent {
		entryPath[entryCount] = s
		entryCount++
	}

	var end func(...any)
	if m.trace != nil {
		end = m.trace("transition", m, source, target)
	}

	m.inTransition = true

	// Exit child-first up to the LCA.
	for i := 0; i < exitCount; i++ {
		m.execute(exitPath[i], EventExit, param)
	}
	if hook != nil {
		hook(m, param)
	}
	// Enter ancestor-first down to the target.
	for i := entryCount; i > 0; i-- {
		m.execute(entryPath[i-1], EventEntry, param)
	}

	m.current = target
	m.depth = stateDepth(target)
	m.inTransition = false

	if end != nil {
		end()
	}
	m.logger.Debug("transition",
		"machine", m.name, "from", source.name, "to", target.name)

	// Resolve a request deferred during this transition's own handlers.
	if m.next != nil {
		next := m.next
		m.next = nil
		return m.transition(next, nil, nil)
	}
	return nil
}

/******* Machine timers *******/

// StartTimer arms the machine's single timer slot: after period (or every
// period, when periodic) the backend fires and the bound event is
// dispatched into this machine with nil data. Any previously bound timer
// is stopped first. On backend failure the bound event is cleared and no
// partial timer state is retained.
//
// The backend's callback typically runs on another goroutine; serializing
// it with application dispatches is the integration's responsibility (see
// the active package).
func (m *Machine) StartTimer(event Event, period time.Duration, mode TimerMode) error {
	if m == nil {
		return fmt.Errorf("%w: timer start on nil machine", ErrInvalidArgument)
	}
	if m.backend == nil {
		return fmt.Errorf("%w: machine %q has no timer backend", ErrInvalidArgument, m.name)
	}
	if period < MinTimerPeriod {
		return fmt.Errorf("%w: period %v below minimum %v", ErrInvalidArgument, period, MinTimerPeriod)
	}
	if event == EventNone {
		return fmt.Errorf("%w: cannot bind the empty event", ErrInvalidArgument)
	}

	if m.timerHandle != nil {
		m.backend.Stop(m.timerHandle)
		m.timerHandle = nil
	}

	m.timerEvent = event
	handle, err := m.backend.Start(m.expire, period, mode == Periodic)
	if err != nil || handle == nil {
		m.timerEvent = EventNone
		if err == nil {
			err = errors.New("backend returned no handle")
		}
		m.logger.Error("timer start failed",
			"machine", m.name, "event", event, "error", err)
		return fmt.Errorf("%w: %w", ErrTimerBackend, err)
	}
	m.timerHandle = handle

	m.logger.Debug("timer started",
		"machine", m.name, "event", event, "period", period, "mode", mode)
	return nil
}

// StopTimer releases any bound timer and clears the slot. Calling it with
// no timer bound is a no-op success.
func (m *Machine) StopTimer() error {
	if m == nil {
		return fmt.Errorf("%w: timer stop on nil machine", ErrInvalidArgument)
	}
	if m.timerHandle != nil && m.backend != nil {
		m.backend.Stop(m.timerHandle)
		m.timerHandle = nil
		m.timerEvent = EventNone
		m.logger.Debug("timer stopped", "machine", m.name)
	}
	return nil
}

// expire is the fixed trampoline armed on the backend: it redispatches
// whatever event is bound at fire time.
func (m *Machine) expire() {
	if m.timerEvent != EventNone {
		m.Dispatch(m.timerEvent, nil)
	}
}

/******* Queries *******/

func (m *Machine) Name() string {
	if m == nil {
		return ""
	}
	return m.name
}

// ID returns the unique instance id assigned at construction.
func (m *Machine) ID() string {
	if m == nil {
		return ""
	}
	return m.id
}

// State returns the active state.
func (m *Machine) State() *State {
	if m == nil {
		return nil
	}
	return m.current
}

// Initial returns the state the machine was initialized at.
func (m *Machine) Initial() *State {
	if m == nil {
		return nil
	}
	return m.initial
}

// Depth returns the cached depth of the active state.
func (m *Machine) Depth() int {
	if m == nil {
		return 0
	}
	return m.depth
}

// History returns the state recorded before the most recent transition,
// or nil when no transition has happened yet.
func (m *Machine) History() *State {
	if m == nil {
		return nil
	}
	return m.history
}

// IsInState reports whether state is the active state or one of its
// ancestors.
func (m *Machine) IsInState(state *State) bool {
	if m == nil || state == nil {
		return false
	}
	for s := m.current; s != nil; s = s.parent {
		if s == state {
			return true
		}
	}
	return false
}

// Now returns the backend's monotonic time, or the zero time when no
// backend is injected.
func (m *Machine) Now() time.Time {
	if m == nil || m.backend == nil {
		return time.Time{}
	}
	return m.backend.Now()
}
