// Package cleanup implements orphan-run recovery: a background sweep
// that finds Flow Runs stuck in running/waiting past a staleness
// threshold (a process that crashed or was killed mid-advance leaves one
// behind with no further writes ever coming) and fails them, freeing the
// session's at-most-one-active-run slot for a fresh start. Grounded on
// the teacher's queue.WorkerPool orphan-session sweep
// (pkg/queue/orphan.go): periodic ticker, idempotent per pass, safe to
// run from multiple processes.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/flowtalk/engine/pkg/flowrun"
)

// defaultStaleAfter is how long a run may sit in running/waiting with no
// update before it is considered orphaned.
const defaultStaleAfter = 10 * time.Minute

// defaultInterval is how often the sweep runs.
const defaultInterval = 2 * time.Minute

// Service periodically scans for orphaned Flow Runs and fails them.
type Service struct {
	Runs       flowrun.Store
	StaleAfter time.Duration
	Interval   time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService constructs a Service with spec-default staleness/interval.
func NewService(runs flowrun.Store) *Service {
	return &Service{Runs: runs, StaleAfter: defaultStaleAfter, Interval: defaultInterval}
}

// Start launches the background sweep loop. Calling Start twice is a
// no-op; the caller owns a single Service per process.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("cleanup service started", "staleAfter", s.StaleAfter, "interval", s.Interval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	threshold := time.Now().Add(-s.StaleAfter)
	orphans, err := s.Runs.ListStale(ctx, threshold)
	if err != nil {
		slog.Error("orphan sweep: list stale runs failed", "error", err)
		return
	}
	if len(orphans) == 0 {
		return
	}

	slog.Warn("orphan sweep: detected stale flow runs", "count", len(orphans))
	recovered := 0
	for _, run := range orphans {
		if err := s.failOrphan(ctx, run); err != nil {
			slog.Error("orphan sweep: failed to recover run", "runId", run.RunID, "error", err)
			continue
		}
		recovered++
	}
	if recovered < len(orphans) {
		slog.Warn("orphan sweep completed with failures", "total", len(orphans), "recovered", recovered)
	}
}

// failOrphan marks a single stale run as failed, terminal — no resume is
// attempted, since the process that was mid-advance may have already
// applied a partial, unknown context delta (spec §4.4's auto-advance
// loop has no notion of resuming a torn write).
func (s *Service) failOrphan(ctx context.Context, run *flowrun.FlowRun) error {
	run.Status = flowrun.StatusFailed
	now := time.Now()
	run.CompletedAt = &now
	run.UpdatedAt = now
	if err := s.Runs.Update(ctx, run); err != nil {
		return err
	}
	slog.Warn("orphan sweep: run marked failed", "runId", run.RunID, "sessionId", run.SessionID, "flowId", run.FlowID)
	return nil
}
