// Package distance implements the "distance" executor: route
// distance/duration between two points, cached by coordinate pair
// rounded to 5 decimals.
package distance

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/flowtalk/engine/pkg/executor"
	"github.com/flowtalk/engine/pkg/rpcclient"
)

// Config is the "distance" executor's configuration shape.
type Config struct {
	From rpcclient.LatLng `json:"from"`
	To   rpcclient.LatLng `json:"to"`
}

// Executor computes route distance/duration via a RoutingClient, caching
// results by rounded coordinate pair for the lifetime of the process.
type Executor struct {
	Client rpcclient.RoutingClient

	mu    sync.Mutex
	cache map[cacheKey]rpcclient.RouteResult
}

type cacheKey struct {
	fromLat, fromLng, toLat, toLng float64
}

// New constructs the distance executor.
func New(client rpcclient.RoutingClient) *Executor {
	return &Executor{Client: client, cache: make(map[cacheKey]rpcclient.RouteResult)}
}

func (e *Executor) Capability() executor.Capability {
	return executor.Capability{RequiresUserInput: false, Idempotent: true}
}

func (e *Executor) Execute(ctx context.Context, config any, _ map[string]any) executor.Result {
	var cfg Config
	if err := executor.DecodeConfig(config, &cfg); err != nil {
		return executor.Result{Error: executor.NewError(executor.KindValidation, fmt.Sprintf("distance config: %v", err), err)}
	}

	key := cacheKey{
		fromLat: round5(cfg.From.Lat), fromLng: round5(cfg.From.Lng),
		toLat: round5(cfg.To.Lat), toLng: round5(cfg.To.Lng),
	}

	e.mu.Lock()
	cached, hit := e.cache[key]
	e.mu.Unlock()
	if hit {
		return executor.Result{Output: map[string]any{"km": cached.KM, "durationMin": cached.DurationMin}, Events: []string{"calculated"}}
	}

	result, err := e.Client.Route(ctx, cfg.From, cfg.To)
	if err != nil {
		return executor.Result{Error: executor.NewError(executor.KindTransient, "routing call failed", err)}
	}
	if result.KM <= 0 && result.DurationMin <= 0 {
		return executor.Result{Events: []string{"unreachable"}}
	}

	e.mu.Lock()
	e.cache[key] = result
	e.mu.Unlock()

	return executor.Result{Output: map[string]any{"km": result.KM, "durationMin": result.DurationMin}, Events: []string{"calculated"}}
}

func round5(f float64) float64 {
	const factor = 1e5
	return math.Round(f*factor) / factor
}
