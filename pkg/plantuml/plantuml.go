// Package plantuml renders state trees as PlantUML state diagrams.
// Output is deterministic: sibling states are emitted in name order, so
// the same tree always produces the same diagram.
package plantuml

import (
	"fmt"
	"io"
	"sort"
	"strings"

	hsm "github.com/phamnamhien/HSM"
	"github.com/phamnamhien/HSM/pkg/set"
)

// id makes a state name safe for use as a PlantUML identifier.
func id(name string) string {
	if name == "" {
		return "unnamed"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, name)
}

// Generate renders the trees containing the given states. Ancestors are
// included automatically; children are only known through the supplied
// states, so pass every state for a complete diagram.
func Generate(writer io.Writer, title string, states ...*hsm.State) error {
	return generate(writer, title, nil, states)
}

// GenerateMachine renders m's tree with an initial-state marker. The
// supplied states extend the diagram beyond the machine's initial chain.
func GenerateMachine(writer io.Writer, m *hsm.Machine, states ...*hsm.State) error {
	if m == nil {
		return fmt.Errorf("%w: diagram requires a machine", hsm.ErrInvalidArgument)
	}
	return generate(writer, m.Name(), m.Initial(), append(states, m.Initial()))
}

func generate(writer io.Writer, title string, initial *hsm.State, states []*hsm.State) error {
	all := set.New[*hsm.State]()
	for _, s := range states {
		for n := s; n != nil; n = n.Parent() {
			all.Add(n)
		}
	}

	children := map[*hsm.State][]*hsm.State{}
	var roots []*hsm.State
	for _, s := range all.Slice() {
		if s.Parent() == nil {
			roots = append(roots, s)
		} else {
			children[s.Parent()] = append(children[s.Parent()], s)
		}
	}
	byName(roots)

	var builder strings.Builder
	if title == "" {
		title = "hsm"
	}
	fmt.Fprintf(&builder, "@startuml %s\n", id(title))
	for _, root := range roots {
		writeState(&builder, 1, root, children)
	}
	if initial != nil {
		fmt.Fprintf(&builder, "[*] --> %s\n", id(initial.Name()))
	}
	fmt.Fprintln(&builder, "@enduml")
	_, err := writer.Write([]byte(builder.String()))
	return err
}

func writeState(builder *strings.Builder, depth int, state *hsm.State, children map[*hsm.State][]*hsm.State) {
	indent := strings.Repeat(" ", depth*2)
	kids := children[state]
	if len(kids) == 0 {
		fmt.Fprintf(builder, "%sstate %s\n", indent, id(state.Name()))
		return
	}
	byName(kids)
	fmt.Fprintf(builder, "%sstate %s {\n", indent, id(state.Name()))
	for _, kid := range kids {
		writeState(builder, depth+1, kid, children)
	}
	fmt.Fprintf(builder, "%s}\n", indent)
}

func byName(states []*hsm.State) {
	sort.Slice(states, func(i, j int) bool {
		return states[i].Name() < states[j].Name()
	})
}
