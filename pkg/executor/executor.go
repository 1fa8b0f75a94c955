// Package executor defines the uniform executor contract (C2) that every
// flow action invokes, the process-wide registry executors are looked up
// through, and the error taxonomy executors and RPC clients report
// through (spec §7).
package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/mitchellh/mapstructure"
)

// Card is a UI card an executor may attach to its reply.
type Card struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Subtitle string `json:"subtitle,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	Price    string `json:"price,omitempty"`
	Action   string `json:"action,omitempty"`
}

// ButtonType is the interaction kind of a Button.
type ButtonType string

// Recognized button types.
const (
	ButtonQuickReply ButtonType = "quick_reply"
	ButtonAction     ButtonType = "action"
	ButtonURL        ButtonType = "url"
)

// Button is a UI affordance an executor may attach to its reply.
type Button struct {
	ID    string     `json:"id"`
	Label string     `json:"label"`
	Value string     `json:"value"`
	Type  ButtonType `json:"type"`
}

// Response is the text payload an executor contributes to the turn's reply.
type Response struct {
	Message string `json:"message"`
}

// Result is the uniform return value of Execute. Capability declares
// whether this executor can ever require a further inbound message before
// a state can auto-advance past it (spec §4.4 step 8): the engine consults
// it, never a runtime heuristic.
type Result struct {
	Output   any
	Events   []string
	Response *Response
	Cards    []Card
	Buttons  []Button
	Pause    bool
	Error    *Error
}

// Executor is the uniform contract every action handler satisfies. config
// has already been interpolated against the turn's context before Execute
// is called. An executor never panics across this boundary — any failure
// is reported as a classified Error in the returned Result.
type Executor interface {
	// Execute runs the action. ctx carries the per-executor timeout set by
	// the engine (spec §5).
	Execute(ctx context.Context, config any, turnCtx map[string]any) Result

	// Capability reports static properties the engine needs to drive
	// auto-advance and retry without re-invoking the executor.
	Capability() Capability
}

// Capability is the static, registration-time declaration of an
// executor's behavior.
type Capability struct {
	// RequiresUserInput is true for executors whose first action in a
	// state should never auto-advance without a fresh inbound message
	// (e.g. "address", which frequently pauses awaiting a location share).
	RequiresUserInput bool

	// Idempotent declares that repeated invocation with the same turn
	// context and config produces the same external effect. It is a
	// declaration only: the engine's retry loop does not consult it.
	Idempotent bool
}

// Registry is the name->Executor lookup table (spec §4.2). Registration
// is closed before the engine accepts traffic; duplicate names are a
// startup error, never a runtime one.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
	closed    bool
}

// NewRegistry creates an empty, open Registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register adds name to the registry. It returns an error if registration
// is already closed or name is already registered.
func (r *Registry) Register(name string, e Executor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("executor registry is closed, cannot register %q", name)
	}
	if _, exists := r.executors[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateExecutor, name)
	}
	r.executors[name] = e
	return nil
}

// Close prevents further registration. The engine calls this once at boot,
// before accepting traffic.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// Get returns the executor registered under name.
func (r *Registry) Get(name string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExecutorNotFound, name)
	}
	return e, nil
}

// Has reports whether name is registered. Implements flowdef.ExecutorLookup.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executors[name]
	return ok
}

// DecodeConfig decodes the interpolated, YAML-sourced config (typically
// map[string]any) into a typed struct. Every concrete executor calls this
// at the top of Execute rather than type-asserting the raw config itself.
func DecodeConfig(raw any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "json",
	})
	if err != nil {
		return fmt.Errorf("building config decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("decoding executor config: %w", err)
	}
	return nil
}
