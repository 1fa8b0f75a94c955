// Package externalsearch implements the "external_search" executor: a
// fallback vendor search against a places API, used when the internal
// search executor returns no results.
package externalsearch

import (
	"context"
	"fmt"

	"github.com/flowtalk/engine/pkg/executor"
)

// Place is one result row from the places API.
type Place struct {
	Name     string  `json:"name"`
	Address  string  `json:"address"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	MapsLink string  `json:"mapsLink"`
}

// PlacesClient is the narrow contract to an external places/vendor
// search API.
type PlacesClient interface {
	Search(ctx context.Context, query, city string) ([]Place, error)
}

// Config is the "external_search" executor's configuration shape.
type Config struct {
	Query string `json:"query"`
	City  string `json:"city,omitempty"`
}

// Executor queries an external places API for vendors the internal index
// does not carry.
type Executor struct {
	Client PlacesClient
}

// New constructs the external_search executor.
func New(client PlacesClient) *Executor { return &Executor{Client: client} }

func (e *Executor) Capability() executor.Capability {
	return executor.Capability{RequiresUserInput: false, Idempotent: true}
}

func (e *Executor) Execute(ctx context.Context, config any, _ map[string]any) executor.Result {
	var cfg Config
	if err := executor.DecodeConfig(config, &cfg); err != nil {
		return executor.Result{Error: executor.NewError(executor.KindValidation, fmt.Sprintf("external_search config: %v", err), err)}
	}

	places, err := e.Client.Search(ctx, cfg.Query, cfg.City)
	if err != nil {
		return executor.Result{Error: executor.NewError(executor.KindTransient, "external places search failed", err), Events: []string{"error"}}
	}
	if len(places) == 0 {
		return executor.Result{Events: []string{"not_found"}}
	}
	return executor.Result{Output: map[string]any{"results": places}, Events: []string{"found"}}
}
