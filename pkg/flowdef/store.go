package flowdef

import "context"

// Store is the durable persistence contract for Flow definitions, keyed
// by (id, version) with a "latest version per id" pointer (spec §6.3).
// The in-memory Registry is populated from Store at boot and on cache
// refresh; Store itself is never consulted on the hot path.
type Store interface {
	// Upsert persists flow at (flow.ID, flow.Version) and advances the
	// latest-version pointer for flow.ID if flow.Version is newer.
	Upsert(ctx context.Context, flow *Flow) error
	// LoadLatest returns the newest version of every known flow ID.
	LoadLatest(ctx context.Context) ([]*Flow, error)
}
