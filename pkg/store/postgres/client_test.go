package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/flowtalk/engine/pkg/flowdef"
	"github.com/flowtalk/engine/pkg/flowrun"
)

// newTestClient spins up a disposable PostgreSQL container, applies the
// embedded migrations against it, and returns a ready Client. Mirrors the
// teacher's test/database.NewTestClient helper, adapted from Ent's
// auto-migrate to this package's golang-migrate-driven runMigrations.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("flowtalk_test"),
		postgres.WithUsername("flowtalk"),
		postgres.WithPassword("flowtalk"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	client, err := NewClient(ctx, Config{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return client
}

func TestFlowStore_UpsertAndLoadLatest(t *testing.T) {
	client := newTestClient(t)
	store := NewFlowStore(client)
	ctx := context.Background()

	v1 := &flowdef.Flow{
		ID: "send_parcel", Version: 1, Name: "Send Parcel", Module: flowdef.ModuleParcel,
		InitialState: "start", FinalStates: []string{"done"},
		States: map[string]*flowdef.State{
			"start": {Type: flowdef.StateTypeEnd},
			"done":  {Type: flowdef.StateTypeEnd},
		},
	}
	require.NoError(t, store.Upsert(ctx, v1))

	v2 := &flowdef.Flow{
		ID: "send_parcel", Version: 2, Name: "Send Parcel v2", Module: flowdef.ModuleParcel,
		InitialState: "start", FinalStates: []string{"done"},
		States: map[string]*flowdef.State{
			"start": {Type: flowdef.StateTypeEnd},
			"done":  {Type: flowdef.StateTypeEnd},
		},
	}
	require.NoError(t, store.Upsert(ctx, v2))

	flows, err := store.LoadLatest(ctx)
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, 2, flows[0].Version)
	assert.Equal(t, "Send Parcel v2", flows[0].Name)
}

func TestRunStore_CreateGetUpdateAppendStep(t *testing.T) {
	client := newTestClient(t)
	store := NewRunStore(client)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	run := &flowrun.FlowRun{
		RunID: "run-1", FlowID: "send_parcel", FlowVersion: 1, SessionID: "session-1",
		CurrentState: "start", Status: flowrun.StatusRunning,
		Context:   map[string]any{"system": map[string]any{"sessionId": "session-1"}},
		StartedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.Create(ctx, run))

	got, err := store.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, run.FlowID, got.FlowID)
	assert.Equal(t, flowrun.StatusRunning, got.Status)

	active, err := store.GetActiveBySession(ctx, "session-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "run-1", active.RunID)

	run.Status = flowrun.StatusCompleted
	run.CurrentState = "done"
	run.UpdatedAt = time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, store.Update(ctx, run))

	active, err = store.GetActiveBySession(ctx, "session-1")
	require.NoError(t, err)
	assert.Nil(t, active, "completed run must not count as active")

	step := &flowrun.Step{
		RunID: "run-1", StepIndex: 0, State: "start", Event: "flow_started",
		ActionsExecuted: []flowrun.ActionExecuted{{Executor: "response", DurationMs: 5, OK: true}},
		OutputDelta:     map[string]any{"greeting": "hi"},
		Timestamp:       now,
	}
	require.NoError(t, store.AppendStep(ctx, step))
	require.NoError(t, store.AppendStep(ctx, step), "re-appending the same step index must be a no-op, not an error")
}

func TestRunStore_CreateRejectsSecondActiveRunForSameSession(t *testing.T) {
	client := newTestClient(t)
	store := NewRunStore(client)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	first := &flowrun.FlowRun{
		RunID: "run-a", FlowID: "send_parcel", FlowVersion: 1, SessionID: "session-2",
		CurrentState: "start", Status: flowrun.StatusWaiting, StartedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.Create(ctx, first))

	second := &flowrun.FlowRun{
		RunID: "run-b", FlowID: "send_parcel", FlowVersion: 1, SessionID: "session-2",
		CurrentState: "start", Status: flowrun.StatusRunning, StartedAt: now, UpdatedAt: now,
	}
	err := store.Create(ctx, second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrActiveRunExists)
}
