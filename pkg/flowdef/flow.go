// Package flowdef declares the Flow Definition Model: the data shapes that
// describe a dialog as a state machine, plus the registry that holds them
// in memory once loaded and validated.
package flowdef

import (
	"fmt"
	"sync"
)

// Module identifies the business domain a flow belongs to.
type Module string

// Recognized modules.
const (
	ModuleFood            Module = "food"
	ModuleParcel          Module = "parcel"
	ModuleEcommerce       Module = "ecommerce"
	ModuleGeneral         Module = "general"
	ModuleVendor          Module = "vendor"
	ModuleDelivery        Module = "delivery"
	ModulePersonalization Module = "personalization"
	ModuleLocation        Module = "location"
)

// StateType is the behavioral kind of a State.
type StateType string

// Recognized state types.
const (
	StateTypeAction   StateType = "action"
	StateTypeDecision StateType = "decision"
	StateTypeWait     StateType = "wait"
	StateTypeEnd      StateType = "end"
)

// Event is a symbolic string that drives transitions between states.
type Event string

// Well-known engine-synthesized events. Flow authors may also declare
// arbitrary executor-specific event names (e.g. "found", "address_valid").
const (
	EventFlowStarted      Event = "flow_started"
	EventUserMessage      Event = "user_message"
	EventWaitingForInput  Event = "waiting_for_input"
	EventError            Event = "error"
)

// Flow is an immutable, versioned dialog definition. Once registered a Flow
// is never mutated; a new version is registered instead.
type Flow struct {
	ID           string             `yaml:"id" validate:"required"`
	Version      int                `yaml:"version" validate:"required,min=1"`
	Name         string             `yaml:"name" validate:"required"`
	Module       Module             `yaml:"module" validate:"required"`
	Trigger      string             `yaml:"trigger,omitempty"`
	RequiresAuth bool               `yaml:"requires_auth,omitempty"`
	InitialState string             `yaml:"initial_state" validate:"required"`
	FinalStates  []string           `yaml:"final_states" validate:"required,min=1"`
	States       map[string]*State  `yaml:"states" validate:"required,min=1,dive"`
}

// IsFinal reports whether name is one of the flow's final states.
func (f *Flow) IsFinal(name string) bool {
	for _, s := range f.FinalStates {
		if s == name {
			return true
		}
	}
	return false
}

// RetryPolicy configures action-level retry on a retryable executor error.
type RetryPolicy struct {
	Attempts  int `yaml:"attempts" validate:"required,min=1"`
	BackoffMs int `yaml:"backoff_ms" validate:"required,min=1"`
}

// OnError configures a state's error handling policy.
type OnError struct {
	Retry         *RetryPolicy `yaml:"retry,omitempty"`
	FallbackState string       `yaml:"fallback_state,omitempty"`
}

// State is one node of a Flow's state machine.
type State struct {
	Type        StateType        `yaml:"type" validate:"required"`
	Actions     []Action         `yaml:"actions,omitempty"`
	Conditions  []Condition      `yaml:"conditions,omitempty"` // decision states only
	Transitions map[Event]string `yaml:"transitions,omitempty"`
	OnError     *OnError         `yaml:"on_error,omitempty"`
}

// Condition is one entry of a decision state's ordered condition list.
type Condition struct {
	Expression string `yaml:"expression" validate:"required"`
	Event      Event  `yaml:"event" validate:"required"`
}

// Action is one invocation of a registered executor within a state.
type Action struct {
	Executor string `yaml:"executor" validate:"required"`
	Config   any    `yaml:"config,omitempty"`
	Output   string `yaml:"output,omitempty"`
}

// Registry is the in-memory, thread-safe store of registered Flows, keyed by
// id and by trigger intent. It is read-mostly: a boot-time load replaces the
// whole map atomically, and is the only mutation path in normal operation.
type Registry struct {
	mu        sync.RWMutex
	byID      map[string]*Flow
	byTrigger map[string]*Flow
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:      make(map[string]*Flow),
		byTrigger: make(map[string]*Flow),
	}
}

// Replace atomically swaps the registry's contents. Callers must have
// already validated every flow (see Validate in validator.go).
func (r *Registry) Replace(flows []*Flow) {
	byID := make(map[string]*Flow, len(flows))
	byTrigger := make(map[string]*Flow, len(flows))
	for _, f := range flows {
		byID[f.ID] = f
		if f.Trigger != "" {
			byTrigger[f.Trigger] = f
		}
	}

	r.mu.Lock()
	r.byID = byID
	r.byTrigger = byTrigger
	r.mu.Unlock()
}

// Get returns the flow registered under id.
func (r *Registry) Get(id string) (*Flow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFlowNotFound, id)
	}
	return f, nil
}

// GetByTrigger returns the flow whose trigger intent matches intent.
func (r *Registry) GetByTrigger(intent string) (*Flow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.byTrigger[intent]
	return f, ok
}

// All returns a snapshot of every registered flow.
func (r *Registry) All() []*Flow {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Flow, 0, len(r.byID))
	for _, f := range r.byID {
		out = append(out, f)
	}
	return out
}

// Len reports how many flows are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
