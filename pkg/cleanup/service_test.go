package cleanup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowtalk/engine/pkg/flowrun"
)

type fakeRunStore struct {
	mu   sync.Mutex
	runs map[string]*flowrun.FlowRun
}

func newFakeRunStore(runs ...*flowrun.FlowRun) *fakeRunStore {
	s := &fakeRunStore{runs: make(map[string]*flowrun.FlowRun)}
	for _, r := range runs {
		s.runs[r.RunID] = r
	}
	return s
}

func (s *fakeRunStore) Create(_ context.Context, run *flowrun.FlowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.RunID] = run
	return nil
}

func (s *fakeRunStore) Get(_ context.Context, runID string) (*flowrun.FlowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.runs[runID]; ok {
		return r, nil
	}
	return nil, flowrun.ErrNotFound
}

func (s *fakeRunStore) GetActiveBySession(_ context.Context, sessionID string) (*flowrun.FlowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if r.SessionID == sessionID && r.Status.Active() {
			return r, nil
		}
	}
	return nil, nil
}

func (s *fakeRunStore) Update(_ context.Context, run *flowrun.FlowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.RunID] = run
	return nil
}

func (s *fakeRunStore) AppendStep(_ context.Context, _ *flowrun.Step) error { return nil }

func (s *fakeRunStore) ListStale(_ context.Context, olderThan time.Time) ([]*flowrun.FlowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*flowrun.FlowRun
	for _, r := range s.runs {
		if r.Status.Active() && r.UpdatedAt.Before(olderThan) {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestSweep_FailsStaleRunningRun(t *testing.T) {
	stale := &flowrun.FlowRun{
		RunID:     "run-1",
		SessionID: "session-1",
		Status:    flowrun.StatusRunning,
		UpdatedAt: time.Now().Add(-1 * time.Hour),
	}
	store := newFakeRunStore(stale)
	svc := NewService(store)
	svc.StaleAfter = 10 * time.Minute

	svc.sweep(context.Background())

	updated, err := store.Get(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, flowrun.StatusFailed, updated.Status)
	assert.NotNil(t, updated.CompletedAt)
}

func TestSweep_PreservesRecentlyUpdatedRun(t *testing.T) {
	fresh := &flowrun.FlowRun{
		RunID:     "run-2",
		SessionID: "session-2",
		Status:    flowrun.StatusWaiting,
		UpdatedAt: time.Now(),
	}
	store := newFakeRunStore(fresh)
	svc := NewService(store)
	svc.StaleAfter = 10 * time.Minute

	svc.sweep(context.Background())

	updated, err := store.Get(context.Background(), "run-2")
	require.NoError(t, err)
	assert.Equal(t, flowrun.StatusWaiting, updated.Status, "a run updated within the staleness window must not be touched")
}

func TestSweep_IgnoresCompletedRuns(t *testing.T) {
	completed := &flowrun.FlowRun{
		RunID:     "run-3",
		SessionID: "session-3",
		Status:    flowrun.StatusCompleted,
		UpdatedAt: time.Now().Add(-1 * time.Hour),
	}
	store := newFakeRunStore(completed)
	svc := NewService(store)
	svc.StaleAfter = 10 * time.Minute

	svc.sweep(context.Background())

	updated, err := store.Get(context.Background(), "run-3")
	require.NoError(t, err)
	assert.Equal(t, flowrun.StatusCompleted, updated.Status)
}

func TestService_StartStop(t *testing.T) {
	store := newFakeRunStore()
	svc := NewService(store)
	svc.Interval = 10 * time.Millisecond

	svc.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	svc.Stop()
}
