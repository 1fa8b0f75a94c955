package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flowtalk/engine/pkg/flowdef"
)

// defaultCacheTTL is the flow registry's staleness bound before a lookup
// triggers an automatic reload from durable storage (spec §4.5: "Cache
// TTL 5 min with explicit invalidation on admin updates").
const defaultCacheTTL = 5 * time.Minute

// FlowCache is the boot-populated, TTL-refreshed in-memory view over a
// durable flowdef.Store. Admin updates call Invalidate to force an
// immediate reload instead of waiting out the TTL.
type FlowCache struct {
	store     flowdef.Store
	executors flowdef.ExecutorLookup
	registry  *flowdef.Registry
	ttl       time.Duration

	mu       sync.Mutex
	lastLoad time.Time
}

// NewFlowCache constructs a FlowCache. Load must be called once at boot
// before the cache is queried (spec §4.5: "on boot, enumerate ...
// populate in-memory caches"). executors is consulted during
// (re)validation to confirm every action references a registered
// executor.
func NewFlowCache(store flowdef.Store, executors flowdef.ExecutorLookup, ttl time.Duration) *FlowCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &FlowCache{store: store, executors: executors, registry: flowdef.NewRegistry(), ttl: ttl}
}

// Load performs the boot-time population: reads every flow's latest
// version from the durable store, validates it, and replaces the
// in-memory registry atomically. A flow that fails validation is
// skipped and logged rather than aborting the whole load, so one bad
// admin edit cannot take every flow offline.
func (c *FlowCache) Load(ctx context.Context) error {
	flows, err := c.store.LoadLatest(ctx)
	if err != nil {
		return fmt.Errorf("load flow definitions: %w", err)
	}
	valid := make([]*flowdef.Flow, 0, len(flows))
	for _, f := range flows {
		warnings, err := flowdef.Validate(f, c.executors)
		if err != nil {
			slog.Error("flow failed validation, skipping", "flowId", f.ID, "version", f.Version, "error", err)
			continue
		}
		for _, w := range warnings {
			slog.Warn("flow validation warning", "flowId", f.ID, "version", f.Version, "warning", w)
		}
		valid = append(valid, f)
	}
	c.registry.Replace(valid)

	c.mu.Lock()
	c.lastLoad = time.Now()
	c.mu.Unlock()
	return nil
}

// Invalidate forces the next Get/GetByTrigger call to reload from the
// durable store regardless of TTL (spec §4.5: "explicit invalidation on
// admin updates").
func (c *FlowCache) Invalidate() {
	c.mu.Lock()
	c.lastLoad = time.Time{}
	c.mu.Unlock()
}

func (c *FlowCache) refreshIfStale(ctx context.Context) {
	c.mu.Lock()
	stale := time.Since(c.lastLoad) >= c.ttl
	c.mu.Unlock()
	if !stale {
		return
	}
	if err := c.Load(ctx); err != nil {
		slog.Error("flow cache refresh failed, serving stale entries", "error", err)
	}
}

// Get returns the flow registered under id, refreshing the cache first
// if it is older than the TTL.
func (c *FlowCache) Get(ctx context.Context, id string) (*flowdef.Flow, error) {
	c.refreshIfStale(ctx)
	return c.registry.Get(id)
}

// GetByTrigger returns the flow whose trigger intent matches intent,
// refreshing the cache first if it is older than the TTL.
func (c *FlowCache) GetByTrigger(ctx context.Context, intent string) (*flowdef.Flow, bool) {
	c.refreshIfStale(ctx)
	return c.registry.GetByTrigger(intent)
}

// All returns every currently cached flow without forcing a refresh.
func (c *FlowCache) All() []*flowdef.Flow {
	return c.registry.All()
}
