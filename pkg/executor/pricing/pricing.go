// Package pricing implements the "pricing" executor: computes an order
// total by delegating to a remote pricing service. The core never
// hardcodes rate formulas.
package pricing

import (
	"context"
	"fmt"

	"github.com/flowtalk/engine/pkg/executor"
	"github.com/flowtalk/engine/pkg/rpcclient"
)

// Config is the "pricing" executor's configuration shape.
type Config struct {
	Type       string           `json:"type"`
	Items      []map[string]any `json:"items,omitempty"`
	DistanceKM float64          `json:"distanceKm,omitempty"`
	FromZoneID string           `json:"fromZoneId,omitempty"`
	ToZoneID   string           `json:"toZoneId,omitempty"`
	Category   string           `json:"category,omitempty"`
}

// Executor computes an order total via a PricingClient.
type Executor struct {
	Client rpcclient.PricingClient
}

// New constructs the pricing executor.
func New(client rpcclient.PricingClient) *Executor { return &Executor{Client: client} }

func (e *Executor) Capability() executor.Capability {
	return executor.Capability{RequiresUserInput: false, Idempotent: true}
}

func (e *Executor) Execute(ctx context.Context, config any, _ map[string]any) executor.Result {
	var cfg Config
	if err := executor.DecodeConfig(config, &cfg); err != nil {
		return executor.Result{Error: executor.NewError(executor.KindValidation, fmt.Sprintf("pricing config: %v", err), err)}
	}

	quote, err := e.Client.Quote(ctx, rpcclient.PricingRequest{
		Type:       cfg.Type,
		Items:      cfg.Items,
		DistanceKM: cfg.DistanceKM,
		FromZoneID: cfg.FromZoneID,
		ToZoneID:   cfg.ToZoneID,
		Category:   cfg.Category,
	})
	if err != nil {
		return executor.Result{Error: executor.NewError(executor.KindTransient, "pricing quote failed", err)}
	}

	return executor.Result{
		Output: map[string]any{
			"subtotal":  quote.Subtotal,
			"delivery":  quote.Delivery,
			"tax":       quote.Tax,
			"total":     quote.Total,
			"breakdown": quote.Breakdown,
		},
		Events: []string{"calculated"},
	}
}
