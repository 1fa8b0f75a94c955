package flowdef

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubExecutors struct{ names map[string]bool }

func (s stubExecutors) Has(name string) bool { return s.names[name] }

func validFlow() *Flow {
	return &Flow{
		ID:           "parcel_delivery_v1",
		Version:      1,
		Name:         "Parcel delivery",
		Module:       ModuleParcel,
		Trigger:      "send_parcel",
		InitialState: "collect_pickup",
		FinalStates:  []string{"done", "out_of_zone"},
		States: map[string]*State{
			"collect_pickup": {
				Type:        StateTypeAction,
				Actions:     []Action{{Executor: "address", Output: "pickup"}},
				Transitions: map[Event]string{"address_valid": "check_zone"},
			},
			"check_zone": {
				Type:        StateTypeAction,
				Actions:     []Action{{Executor: "zone"}},
				Transitions: map[Event]string{"in_zone": "done", "out_of_zone": "out_of_zone"},
			},
			"done": {Type: StateTypeEnd},
			"out_of_zone": {
				Type:    StateTypeWait,
				Actions: []Action{{Executor: "response"}},
			},
		},
	}
}

func TestValidate_HappyPath(t *testing.T) {
	execs := stubExecutors{names: map[string]bool{"address": true, "zone": true, "response": true}}
	warnings, err := Validate(validFlow(), execs)
	require.NoError(t, err)
	assert.Empty(t, warnings)
}

func TestValidate_UnknownInitialState(t *testing.T) {
	f := validFlow()
	f.InitialState = "nope"
	_, err := Validate(f, stubExecutors{names: map[string]bool{"address": true, "zone": true, "response": true}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initial_state")
}

func TestValidate_TransitionToUnknownState(t *testing.T) {
	f := validFlow()
	f.States["collect_pickup"].Transitions["address_valid"] = "missing_state"
	_, err := Validate(f, stubExecutors{names: map[string]bool{"address": true, "zone": true, "response": true}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undeclared state")
}

func TestValidate_UnknownExecutor(t *testing.T) {
	_, err := Validate(validFlow(), stubExecutors{names: map[string]bool{"zone": true, "response": true}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownExecutor)
}

func TestValidate_UnreachableFinalState(t *testing.T) {
	f := validFlow()
	f.FinalStates = append(f.FinalStates, "dangling")
	f.States["dangling"] = &State{Type: StateTypeEnd}
	_, err := Validate(f, stubExecutors{names: map[string]bool{"address": true, "zone": true, "response": true}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachableState)
}

func TestValidate_UnreachableNonFinalStateIsWarningOnly(t *testing.T) {
	f := validFlow()
	f.States["orphan_state"] = &State{Type: StateTypeWait, Actions: []Action{{Executor: "response"}}}
	warnings, err := Validate(f, stubExecutors{names: map[string]bool{"address": true, "zone": true, "response": true}})
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "orphan_state")
}

func TestValidate_UnbalancedTemplate(t *testing.T) {
	f := validFlow()
	f.States["collect_pickup"].Actions[0].Config = map[string]any{"message": "hi {{session.name"}
	_, err := Validate(f, stubExecutors{names: map[string]bool{"address": true, "zone": true, "response": true}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnbalancedTemplate)
}

func TestValidate_DeadEndNonFinalState(t *testing.T) {
	f := validFlow()
	f.States["dead_end"] = &State{Type: StateTypeAction}
	f.States["collect_pickup"].Transitions["unused"] = "dead_end"
	_, err := Validate(f, stubExecutors{names: map[string]bool{"address": true, "zone": true, "response": true}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "neither actions nor transitions")
}

func TestRegistry_ReplaceAndLookup(t *testing.T) {
	r := NewRegistry()
	f := validFlow()
	r.Replace([]*Flow{f})

	got, err := r.Get(f.ID)
	require.NoError(t, err)
	assert.Same(t, f, got)

	byTrigger, ok := r.GetByTrigger("send_parcel")
	require.True(t, ok)
	assert.Same(t, f, byTrigger)

	assert.Equal(t, 1, r.Len())

	_, err = r.Get("missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFlowNotFound)
}
