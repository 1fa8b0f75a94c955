// Package zone implements the "zone" executor: validates that a point
// lies within a serviceable delivery zone. Out-of-zone is a user-visible
// terminal branch, not an error.
package zone

import (
	"context"
	"fmt"

	"github.com/flowtalk/engine/pkg/executor"
	"github.com/flowtalk/engine/pkg/rpcclient"
)

// Config is the "zone" executor's configuration shape.
type Config struct {
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	Module string  `json:"module"`
}

// Executor resolves zone serviceability via a ZoneClient.
type Executor struct {
	Client rpcclient.ZoneClient
}

// New constructs the zone executor.
func New(client rpcclient.ZoneClient) *Executor { return &Executor{Client: client} }

func (e *Executor) Capability() executor.Capability {
	return executor.Capability{RequiresUserInput: false, Idempotent: true}
}

func (e *Executor) Execute(ctx context.Context, config any, _ map[string]any) executor.Result {
	var cfg Config
	if err := executor.DecodeConfig(config, &cfg); err != nil {
		return executor.Result{Error: executor.NewError(executor.KindValidation, fmt.Sprintf("zone config: %v", err), err)}
	}

	result, err := e.Client.ZoneFor(ctx, rpcclient.LatLng{Lat: cfg.Lat, Lng: cfg.Lng}, cfg.Module)
	if err != nil {
		return executor.Result{Error: executor.NewError(executor.KindTransient, "zone lookup failed", err)}
	}

	output := map[string]any{"zoneId": result.ZoneID, "serviceable": result.Serviceable, "zoneName": result.ZoneName}
	if result.Serviceable {
		return executor.Result{Output: output, Events: []string{"in_zone"}}
	}
	return executor.Result{Output: output, Events: []string{"out_of_zone"}}
}
