package fsm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lightSpec() *Spec {
	return &Spec{
		Name:    "light",
		Initial: "off",
		States:  []StateSpec{{Name: "off"}, {Name: "on"}},
		Events:  []EventSpec{{Name: "press"}, {Name: "cut"}},
		Transitions: []TransitionSpec{
			{From: []string{"off"}, Event: "press", To: "on"},
			{From: []string{"on"}, Event: "press", To: "off"},
			{From: []string{"on", "off"}, Event: "cut", To: "off"},
		},
	}
}

func TestEngineApply(t *testing.T) {
	e, err := NewEngine(lightSpec())
	require.NoError(t, err)

	assert.Equal(t, "off", e.Current(7))
	st, err := e.Apply(7, "press")
	require.NoError(t, err)
	assert.Equal(t, "on", st)
	assert.Equal(t, "off", e.Current(8), "keys are independent")

	st, err = e.Apply(7, "cut")
	require.NoError(t, err)
	assert.Equal(t, "off", st)
}

func TestEngineRejectsUnknownTransition(t *testing.T) {
	spec := lightSpec()
	spec.Transitions = spec.Transitions[:1]
	e, err := NewEngine(spec)
	require.NoError(t, err)

	_, err = e.Apply(0, "cut")
	var terr *TransitionError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "off", terr.State)
	assert.False(t, e.Can(0, "cut"))
	assert.True(t, e.Can(0, "press"))
}

func TestSpecValidate(t *testing.T) {
	var nilSpec *Spec
	assert.Error(t, nilSpec.Validate())

	bad := lightSpec()
	bad.Transitions = append(bad.Transitions, TransitionSpec{From: []string{"dim"}, Event: "press", To: "on"})
	assert.Error(t, bad.Validate())

	bad = lightSpec()
	bad.Initial = "broken"
	assert.Error(t, bad.Validate())

	bad = lightSpec()
	bad.Transitions = append(bad.Transitions, TransitionSpec{From: []string{"on"}, Event: "nope", To: "off"})
	assert.Error(t, bad.Validate())
}
