// Package order implements the "order" executor: places an order via the
// business backend, attaching an idempotency key derived from
// (sessionId, runId, stateName) so a retried invocation returns the
// cached result rather than placing a duplicate order.
package order

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/flowtalk/engine/pkg/executor"
	"github.com/flowtalk/engine/pkg/rpcclient"
)

// Config is the "order" executor's configuration shape.
type Config struct {
	Type      string           `json:"type"`
	Items     []map[string]any `json:"items,omitempty"`
	Addresses map[string]any   `json:"addresses"`
	Payment   map[string]any   `json:"payment"`
	Pricing   map[string]any   `json:"pricing"`
	UserID    string           `json:"userId"`
	Token     string           `json:"token"`
}

// Executor places orders via an OrderClient, caching the result per
// idempotency key for the lifetime of the process.
type Executor struct {
	Client rpcclient.OrderClient

	mu    sync.Mutex
	cache map[string]rpcclient.OrderResult
}

// New constructs the order executor.
func New(client rpcclient.OrderClient) *Executor {
	return &Executor{Client: client, cache: make(map[string]rpcclient.OrderResult)}
}

func (e *Executor) Capability() executor.Capability {
	return executor.Capability{RequiresUserInput: false, Idempotent: true}
}

func (e *Executor) Execute(ctx context.Context, config any, turnCtx map[string]any) executor.Result {
	var cfg Config
	if err := executor.DecodeConfig(config, &cfg); err != nil {
		return executor.Result{Error: executor.NewError(executor.KindValidation, fmt.Sprintf("order config: %v", err), err)}
	}

	key := idempotencyKey(turnCtx)

	e.mu.Lock()
	cached, hit := e.cache[key]
	e.mu.Unlock()
	if hit {
		return executor.Result{Output: map[string]any{"orderId": cached.OrderID, "status": cached.Status}, Events: []string{"success"}}
	}

	pricingQuote := decodePricingQuote(cfg.Pricing)
	result, err := e.Client.Place(ctx, rpcclient.OrderRequest{
		Type:      cfg.Type,
		Items:     cfg.Items,
		Addresses: cfg.Addresses,
		Payment:   cfg.Payment,
		Pricing:   pricingQuote,
		UserID:    cfg.UserID,
		Token:     cfg.Token,
	}, key)
	if err != nil {
		return executor.Result{Error: classify(err), Events: []string{"failed"}}
	}

	e.mu.Lock()
	e.cache[key] = result
	e.mu.Unlock()

	return executor.Result{Output: map[string]any{"orderId": result.OrderID, "status": result.Status}, Events: []string{"success"}}
}

// idempotencyKey derives the spec-mandated (sessionId, runId, stateName)
// key from the engine-injected turn context fields.
func idempotencyKey(turnCtx map[string]any) string {
	sessionID, _ := nestedString(turnCtx, "system", "sessionId")
	runID, _ := turnCtx["_run_id"].(string)
	stateName, _ := turnCtx["_state_name"].(string)
	return fmt.Sprintf("%s:%s:%s", sessionID, runID, stateName)
}

func nestedString(m map[string]any, outerKey, innerKey string) (string, bool) {
	outer, ok := m[outerKey].(map[string]any)
	if !ok {
		return "", false
	}
	v, ok := outer[innerKey].(string)
	return v, ok
}

func decodePricingQuote(raw map[string]any) rpcclient.PricingQuote {
	var q rpcclient.PricingQuote
	_ = executor.DecodeConfig(raw, &q)
	return q
}

func classify(err error) *executor.Error {
	var classified *executor.Error
	if errors.As(err, &classified) {
		return classified
	}
	return executor.NewError(executor.KindTransient, "order placement failed", err)
}
