// Package response implements the "response" executor: a pure UI action
// that emits a static or interpolated message with optional buttons and
// cards. It never pauses by itself — whether the turn pauses is decided
// by the owning state's type, not this executor.
package response

import (
	"context"
	"fmt"

	"github.com/flowtalk/engine/pkg/executor"
)

// Config is the "response" executor's configuration shape, already
// interpolated against the turn's context by the engine before Execute
// runs.
type Config struct {
	Message     string             `json:"message"`
	Buttons     []executor.Button  `json:"buttons,omitempty"`
	Cards       []executor.Card    `json:"cards,omitempty"`
	AllowVoice  bool               `json:"allowVoice,omitempty"`
}

// Executor emits its configured message verbatim; it performs no I/O.
type Executor struct{}

// New constructs the response executor.
func New() *Executor { return &Executor{} }

func (e *Executor) Capability() executor.Capability {
	return executor.Capability{RequiresUserInput: false, Idempotent: true}
}

func (e *Executor) Execute(_ context.Context, config any, _ map[string]any) executor.Result {
	var cfg Config
	if err := executor.DecodeConfig(config, &cfg); err != nil {
		return executor.Result{Error: executor.NewError(executor.KindValidation, fmt.Sprintf("response config: %v", err), err)}
	}
	return executor.Result{
		Response: &executor.Response{Message: cfg.Message},
		Cards:    cfg.Cards,
		Buttons:  cfg.Buttons,
	}
}
