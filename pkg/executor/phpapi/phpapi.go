// Package phpapi implements the "php_api" executor: a generic call to the
// business backend dispatched by action code, used by auth, vendor, and
// delivery sub-flows.
package phpapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/flowtalk/engine/pkg/executor"
	"github.com/flowtalk/engine/pkg/rpcclient"
)

// Config is the "php_api" executor's configuration shape.
type Config struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// Executor dispatches generic action-coded calls via a PHPAPIClient.
type Executor struct {
	Client rpcclient.PHPAPIClient
}

// New constructs the php_api executor.
func New(client rpcclient.PHPAPIClient) *Executor { return &Executor{Client: client} }

func (e *Executor) Capability() executor.Capability {
	return executor.Capability{RequiresUserInput: false, Idempotent: false}
}

func (e *Executor) Execute(ctx context.Context, config any, _ map[string]any) executor.Result {
	var cfg Config
	if err := executor.DecodeConfig(config, &cfg); err != nil {
		return executor.Result{Error: executor.NewError(executor.KindValidation, fmt.Sprintf("php_api config: %v", err), err)}
	}
	if cfg.Action == "" {
		return executor.Result{Error: executor.NewError(executor.KindValidation, "php_api config missing action", nil)}
	}

	data, err := e.Client.Call(ctx, cfg.Action, cfg.Params)
	if err != nil {
		return executor.Result{Error: classify(cfg.Action, err)}
	}
	return executor.Result{Output: map[string]any{"data": data}, Events: []string{cfg.Action + "_ok"}}
}

func classify(action string, err error) *executor.Error {
	var classified *executor.Error
	if errors.As(err, &classified) {
		return classified
	}
	return executor.NewError(executor.KindTransient, fmt.Sprintf("php_api action %q failed", action), err)
}
