// Package config loads machine definitions from YAML and assembles
// runnable machines from them. Behavior stays in code: the YAML names
// states, their nesting and their timers, while handlers are looked up by
// name in a Registry.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	hsm "github.com/phamnamhien/HSM"
	"github.com/phamnamhien/HSM/pkg/set"
)

// Duration decodes YAML strings like "100ms" or "2s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Definition is one machine as declared in YAML.
type Definition struct {
	Name    string     `yaml:"name"`
	Initial string     `yaml:"initial"`
	Events  []EventDef `yaml:"events,omitempty"`
	States  []StateDef `yaml:"states"`
}

// EventDef names an application event code.
type EventDef struct {
	Name string `yaml:"name"`
	Code uint32 `yaml:"code"`
}

// StateDef declares a state, its position in the tree, the handler bound
// to it and an optional timer armed on every entry.
type StateDef struct {
	Name    string    `yaml:"name"`
	Parent  string    `yaml:"parent,omitempty"`
	Handler string    `yaml:"handler,omitempty"`
	Timer   *TimerDef `yaml:"timer,omitempty"`
}

// TimerDef arms the state's timer on ENTRY. The engine stops it again on
// the next transition, so no explicit stop is declared.
type TimerDef struct {
	Event  string   `yaml:"event"`
	Period Duration `yaml:"period"`
	Mode   string   `yaml:"mode,omitempty"` // "oneshot" (default) or "periodic"
}

// Parse decodes and validates a YAML definition.
func Parse(data []byte) (*Definition, error) {
	var d Definition
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse definition: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Load reads and parses a definition file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load definition: %w", err)
	}
	return Parse(data)
}

// Validate checks the definition statically: names, tree shape, depth,
// event space and timer references.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("definition needs a name")
	}
	if len(d.States) == 0 {
		return fmt.Errorf("machine %s: no states declared", d.Name)
	}

	events := set.New[string]()
	codes := set.New[uint32]()
	for _, e := range d.Events {
		if e.Name == "" {
			return fmt.Errorf("machine %s: event with empty name", d.Name)
		}
		if events.Contains(e.Name) {
			return fmt.Errorf("machine %s: duplicate event %q", d.Name, e.Name)
		}
		if hsm.Event(e.Code).IsReserved() {
			return fmt.Errorf("machine %s: event %q code %#x is reserved", d.Name, e.Name, e.Code)
		}
		if codes.Contains(e.Code) {
			return fmt.Errorf("machine %s: duplicate event code %#x", d.Name, e.Code)
		}
		events.Add(e.Name)
		codes.Add(e.Code)
	}

	states := set.New[string]()
	for _, s := range d.States {
		if s.Name == "" {
			return fmt.Errorf("machine %s: state with empty name", d.Name)
		}
		if states.Contains(s.Name) {
			return fmt.Errorf("machine %s: duplicate state %q", d.Name, s.Name)
		}
		states.Add(s.Name)
	}

	parents := make(map[string]string, len(d.States))
	for _, s := range d.States {
		if s.Parent != "" && !states.Contains(s.Parent) {
			return fmt.Errorf("machine %s: state %q: unknown parent %q", d.Name, s.Name, s.Parent)
		}
		parents[s.Name] = s.Parent
		if s.Timer != nil {
			if !events.Contains(s.Timer.Event) {
				return fmt.Errorf("machine %s: state %q: unknown timer event %q", d.Name, s.Name, s.Timer.Event)
			}
			if s.Timer.Period.Std() < hsm.MinTimerPeriod {
				return fmt.Errorf("machine %s: state %q: timer period %v below minimum %v",
					d.Name, s.Name, s.Timer.Period.Std(), hsm.MinTimerPeriod)
			}
			switch s.Timer.Mode {
			case "", "oneshot", "periodic":
			default:
				return fmt.Errorf("machine %s: state %q: unknown timer mode %q", d.Name, s.Name, s.Timer.Mode)
			}
		}
	}

	for _, s := range d.States {
		depth := 0
		for name := s.Name; parents[name] != ""; name = parents[name] {
			depth++
			if depth > len(d.States) {
				return fmt.Errorf("machine %s: state %q: parent cycle", d.Name, s.Name)
			}
		}
		if depth >= hsm.MaxDepth {
			return fmt.Errorf("machine %s: state %q: depth %d exceeds limit %d",
				d.Name, s.Name, depth, hsm.MaxDepth)
		}
	}

	if d.Initial == "" {
		return fmt.Errorf("machine %s: no initial state", d.Name)
	}
	if !states.Contains(d.Initial) {
		return fmt.Errorf("machine %s: unknown initial state %q", d.Name, d.Initial)
	}
	return nil
}

// Event returns the declared code for name.
func (d *Definition) Event(name string) (hsm.Event, bool) {
	for _, e := range d.Events {
		if e.Name == name {
			return hsm.Event(e.Code), true
		}
	}
	return hsm.EventNone, false
}

/******* Registry *******/

// Registry maps handler names referenced from YAML onto handler funcs.
type Registry struct {
	order    *set.Set[string]
	handlers map[string]hsm.Handler
}

func NewRegistry() *Registry {
	return &Registry{
		order:    set.New[string](),
		handlers: make(map[string]hsm.Handler),
	}
}

// Register binds name to handler. Rebinding a name is an error.
func (r *Registry) Register(name string, handler hsm.Handler) error {
	if name == "" || handler == nil {
		return fmt.Errorf("register handler: need a name and a func")
	}
	if r.order.Contains(name) {
		return fmt.Errorf("register handler: %q already bound", name)
	}
	r.order.Add(name)
	r.handlers[name] = handler
	return nil
}

// Handler looks up a registered handler.
func (r *Registry) Handler(name string) (hsm.Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns handler names in registration order.
func (r *Registry) Names() []string {
	return r.order.Slice()
}

/******* Assembly *******/

// Tree is an assembled state tree: every declared state by name, without
// a machine attached. Trees are immutable and may back any number of
// machines.
type Tree struct {
	Definition *Definition
	States     map[string]*hsm.State

	ordered []*hsm.State
}

// StateList returns every state in declaration order, for diagram
// generation and inspection.
func (t *Tree) StateList() []*hsm.State {
	out := make([]*hsm.State, len(t.ordered))
	copy(out, t.ordered)
	return out
}

// Initial returns the declared initial state.
func (t *Tree) Initial() *hsm.State {
	return t.States[t.Definition.Initial]
}

// Assembly is a built definition: the state tree plus a machine running
// on it.
type Assembly struct {
	*Tree
	Machine *hsm.Machine
}

// passthrough is bound to states declared without a handler.
func passthrough(m *hsm.Machine, event hsm.Event, data any) hsm.Event {
	return event
}

// armOnEntry wraps next so the state's declared timer is armed on every
// ENTRY. Entry never fails: backend errors are logged by StartTimer, and
// a machine without a backend just skips the arm.
func armOnEntry(next hsm.Handler, event hsm.Event, period time.Duration, mode hsm.TimerMode) hsm.Handler {
	return func(m *hsm.Machine, evt hsm.Event, data any) hsm.Event {
		if evt == hsm.EventEntry {
			m.StartTimer(event, period, mode)
		}
		return next(m, evt, data)
	}
}

// Assemble builds the state tree. Handlers named in the definition must
// be present in registry; states without a handler get a pass-through.
func (d *Definition) Assemble(registry *Registry) (*Tree, error) {
	return d.assemble(registry, false)
}

// AssembleSkeleton builds the tree with pass-through handlers
// everywhere, ignoring handler bindings. Declared timers are still
// armed on entry, so a skeleton is good for diagrams and dry runs but
// consumes no events.
func (d *Definition) AssembleSkeleton() (*Tree, error) {
	return d.assemble(nil, true)
}

// Build assembles the tree and starts a machine at the declared initial
// state. Options are forwarded to the machine constructor.
func (d *Definition) Build(registry *Registry, opts ...hsm.Option) (*Assembly, error) {
	tree, err := d.Assemble(registry)
	if err != nil {
		return nil, err
	}
	return d.attach(tree, opts)
}

// Skeleton is Build without handler bindings.
func (d *Definition) Skeleton(opts ...hsm.Option) (*Assembly, error) {
	tree, err := d.AssembleSkeleton()
	if err != nil {
		return nil, err
	}
	return d.attach(tree, opts)
}

func (d *Definition) attach(tree *Tree, opts []hsm.Option) (*Assembly, error) {
	machine, err := hsm.New(d.Name, tree.Initial(), opts...)
	if err != nil {
		return nil, fmt.Errorf("machine %s: %w", d.Name, err)
	}
	return &Assembly{Tree: tree, Machine: machine}, nil
}

func (d *Definition) assemble(registry *Registry, skeleton bool) (*Tree, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	tree := &Tree{
		Definition: d,
		States:     make(map[string]*hsm.State, len(d.States)),
	}

	// Parents may be declared after their children; build in passes.
	pending := make([]StateDef, len(d.States))
	copy(pending, d.States)
	for len(pending) > 0 {
		progressed := false
		rest := pending[:0]
		for _, def := range pending {
			if def.Parent != "" && tree.States[def.Parent] == nil {
				rest = append(rest, def)
				continue
			}
			state, err := d.buildState(def, tree.States[def.Parent], registry, skeleton)
			if err != nil {
				return nil, err
			}
			tree.States[def.Name] = state
			progressed = true
		}
		if !progressed {
			return nil, fmt.Errorf("machine %s: unresolvable state tree", d.Name)
		}
		pending = rest
	}
	for _, def := range d.States {
		tree.ordered = append(tree.ordered, tree.States[def.Name])
	}
	return tree, nil
}

func (d *Definition) buildState(def StateDef, parent *hsm.State, registry *Registry, skeleton bool) (*hsm.State, error) {
	handler := hsm.Handler(passthrough)
	if def.Handler != "" && !skeleton {
		if registry == nil {
			return nil, fmt.Errorf("machine %s: state %q: handler %q but no registry", d.Name, def.Name, def.Handler)
		}
		h, ok := registry.Handler(def.Handler)
		if !ok {
			return nil, fmt.Errorf("machine %s: state %q: handler %q not registered", d.Name, def.Name, def.Handler)
		}
		handler = h
	}
	if def.Timer != nil {
		event, _ := d.Event(def.Timer.Event)
		mode := hsm.OneShot
		if def.Timer.Mode == "periodic" {
			mode = hsm.Periodic
		}
		handler = armOnEntry(handler, event, def.Timer.Period.Std(), mode)
	}
	state, err := hsm.NewState(def.Name, handler, parent)
	if err != nil {
		return nil, fmt.Errorf("machine %s: state %q: %w", d.Name, def.Name, err)
	}
	return state, nil
}
