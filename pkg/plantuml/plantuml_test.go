package plantuml_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hsm "github.com/phamnamhien/HSM"
	"github.com/phamnamhien/HSM/pkg/plantuml"
)

func pass(m *hsm.Machine, event hsm.Event, data any) hsm.Event { return event }

func mustState(t *testing.T, name string, parent *hsm.State) *hsm.State {
	t.Helper()
	s, err := hsm.NewState(name, pass, parent)
	require.NoError(t, err)
	return s
}

func golden(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestGenerateFlatTree(t *testing.T) {
	root := mustState(t, "root", nil)
	on := mustState(t, "on", root)
	off := mustState(t, "off", root)

	var buf bytes.Buffer
	require.NoError(t, plantuml.Generate(&buf, "power", root, on, off))
	golden(t).Assert(t, "flat", buf.Bytes())
}

func TestGenerateMachineNestedTree(t *testing.T) {
	root := mustState(t, "root", nil)
	on := mustState(t, "on", root)
	bright := mustState(t, "bright", on)
	dim := mustState(t, "dim", on)
	off := mustState(t, "off", root)

	m, err := hsm.New("blinky", dim)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, plantuml.GenerateMachine(&buf, m, bright, off))
	golden(t).Assert(t, "nested", buf.Bytes())
}

func TestGenerateSingleState(t *testing.T) {
	idle := mustState(t, "idle", nil)

	var buf bytes.Buffer
	require.NoError(t, plantuml.Generate(&buf, "single", idle))
	golden(t).Assert(t, "single", buf.Bytes())
}

func TestGenerateSanitizesNames(t *testing.T) {
	odd := mustState(t, "power-save mode", nil)

	var buf bytes.Buffer
	require.NoError(t, plantuml.Generate(&buf, "my-chart", odd))
	out := buf.String()
	assert.Contains(t, out, "@startuml my_chart")
	assert.Contains(t, out, "state power_save_mode")
	assert.NotContains(t, out, "power-save")
}

func TestGenerateMachineRequiresMachine(t *testing.T) {
	var buf bytes.Buffer
	err := plantuml.GenerateMachine(&buf, nil)
	assert.ErrorIs(t, err, hsm.ErrInvalidArgument)
}

type failWriter struct{}

func (failWriter) Write(p []byte) (int, error) { return 0, errors.New("sink closed") }

func TestGeneratePropagatesWriteError(t *testing.T) {
	idle := mustState(t, "idle", nil)
	err := plantuml.Generate(failWriter{}, "single", idle)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "sink closed"))
}
