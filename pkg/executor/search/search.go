// Package search implements the "search" executor: a product/store index
// query that honors an optional zone filter.
package search

import (
	"context"
	"fmt"

	"github.com/flowtalk/engine/pkg/executor"
	"github.com/flowtalk/engine/pkg/rpcclient"
)

// Config is the "search" executor's configuration shape.
type Config struct {
	Query   string         `json:"query"`
	Module  string         `json:"module"`
	ZoneID  string         `json:"zoneId,omitempty"`
	Lat     *float64       `json:"lat,omitempty"`
	Lng     *float64       `json:"lng,omitempty"`
	Filters map[string]any `json:"filters,omitempty"`
	Size    int            `json:"size,omitempty"`
}

const defaultSize = 10

// Executor queries a product/store index via a SearchClient.
type Executor struct {
	Client rpcclient.SearchClient
}

// New constructs the search executor.
func New(client rpcclient.SearchClient) *Executor { return &Executor{Client: client} }

func (e *Executor) Capability() executor.Capability {
	return executor.Capability{RequiresUserInput: false, Idempotent: true}
}

func (e *Executor) Execute(ctx context.Context, config any, _ map[string]any) executor.Result {
	var cfg Config
	if err := executor.DecodeConfig(config, &cfg); err != nil {
		return executor.Result{Error: executor.NewError(executor.KindValidation, fmt.Sprintf("search config: %v", err), err)}
	}
	if cfg.Size <= 0 {
		cfg.Size = defaultSize
	}

	q := rpcclient.SearchQuery{
		Module:  cfg.Module,
		Text:    cfg.Query,
		ZoneID:  cfg.ZoneID,
		Filters: cfg.Filters,
		Size:    cfg.Size,
	}
	if cfg.Lat != nil && cfg.Lng != nil {
		q.Geo = &rpcclient.LatLng{Lat: *cfg.Lat, Lng: *cfg.Lng}
	}

	result, err := e.Client.Query(ctx, q)
	if err != nil {
		return executor.Result{Error: executor.NewError(executor.KindTransient, "search query failed", err)}
	}

	event := "found"
	if result.Total == 0 {
		event = "no_results"
	}
	return executor.Result{
		Output: map[string]any{"items": result.Items, "total": result.Total},
		Events: []string{event},
	}
}
