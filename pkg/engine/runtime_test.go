package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowtalk/engine/pkg/engine/statemachine"
	"github.com/flowtalk/engine/pkg/executor"
	"github.com/flowtalk/engine/pkg/flowdef"
	"github.com/flowtalk/engine/pkg/flowrun"
)

// echoExecutor replies with a fixed message and, once the turn context
// carries a non-empty _last_user_message, emits onEvent so the flow can
// transition — letting tests drive StartFlow (no message yet, pauses)
// and ResumeFlow (message present, advances) off the same executor.
type echoExecutor struct {
	message string
	onEvent string
}

func (e *echoExecutor) Execute(_ context.Context, _ any, turnCtx map[string]any) executor.Result {
	result := executor.Result{Response: &executor.Response{Message: e.message}}
	if e.onEvent != "" {
		if msg, ok := turnCtx["_last_user_message"].(string); ok && msg != "" {
			result.Events = []string{e.onEvent}
		}
	}
	return result
}

func (e *echoExecutor) Capability() executor.Capability {
	return executor.Capability{}
}

func newTestRegistry(t *testing.T) *executor.Registry {
	t.Helper()
	reg := executor.NewRegistry()
	require.NoError(t, reg.Register("greet", &echoExecutor{message: "hi there", onEvent: "ack"}))
	reg.Close()
	return reg
}

// memFlowStore is an in-memory flowdef.Store fixture.
type memFlowStore struct {
	flows []*flowdef.Flow
}

func (m *memFlowStore) Upsert(_ context.Context, flow *flowdef.Flow) error {
	m.flows = append(m.flows, flow)
	return nil
}

func (m *memFlowStore) LoadLatest(_ context.Context) ([]*flowdef.Flow, error) {
	return m.flows, nil
}

// memRunStore is an in-memory flowrun.Store fixture.
type memRunStore struct {
	mu    sync.Mutex
	runs  map[string]*flowrun.FlowRun
	steps []*flowrun.Step
}

func newMemRunStore() *memRunStore {
	return &memRunStore{runs: make(map[string]*flowrun.FlowRun)}
}

func (m *memRunStore) Create(_ context.Context, run *flowrun.FlowRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *run
	m.runs[run.RunID] = &clone
	return nil
}

func (m *memRunStore) Get(_ context.Context, runID string) (*flowrun.FlowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil, nil
	}
	clone := *run
	return &clone, nil
}

func (m *memRunStore) GetActiveBySession(_ context.Context, sessionID string) (*flowrun.FlowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, run := range m.runs {
		if run.SessionID == sessionID && run.Status.Active() {
			clone := *run
			return &clone, nil
		}
	}
	return nil, nil
}

func (m *memRunStore) Update(_ context.Context, run *flowrun.FlowRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *run
	m.runs[run.RunID] = &clone
	return nil
}

func (m *memRunStore) AppendStep(_ context.Context, step *flowrun.Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, step)
	return nil
}

func (m *memRunStore) ListStale(_ context.Context, olderThan time.Time) ([]*flowrun.FlowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*flowrun.FlowRun
	for _, run := range m.runs {
		if run.Status.Active() && run.UpdatedAt.Before(olderThan) {
			clone := *run
			out = append(out, &clone)
		}
	}
	return out, nil
}

func testFlow() *flowdef.Flow {
	return &flowdef.Flow{
		ID: "greeting", Version: 1, Name: "Greeting", Module: flowdef.ModuleGeneral,
		InitialState: "greet", FinalStates: []string{"end"},
		States: map[string]*flowdef.State{
			"greet": {
				Type:        flowdef.StateTypeAction,
				Actions:     []flowdef.Action{{Executor: "greet"}},
				Transitions: map[flowdef.Event]string{"ack": "end"},
			},
			"end": {Type: flowdef.StateTypeEnd},
		},
	}
}

func newTestRuntime(t *testing.T) (*Runtime, *memRunStore) {
	t.Helper()
	reg := newTestRegistry(t)
	flowStore := &memFlowStore{}
	require.NoError(t, flowStore.Upsert(context.Background(), testFlow()))
	cache := NewFlowCache(flowStore, reg, time.Minute)
	require.NoError(t, cache.Load(context.Background()))

	runStore := newMemRunStore()
	machine := statemachine.New(reg)
	rt := New(cache, runStore, machine)
	rt.NewID = func() string { return "run-fixed" }
	return rt, runStore
}

func TestRuntime_StartFlow_PausesForUserInput(t *testing.T) {
	rt, runStore := newTestRuntime(t)
	ctx := context.Background()

	reply, run, err := rt.StartFlow(ctx, "greeting", "session-1", map[string]any{"channel": "whatsapp"})
	require.NoError(t, err)
	assert.Equal(t, "hi there", reply.Message)
	assert.True(t, reply.Paused)
	assert.Equal(t, flowrun.StatusWaiting, run.Status)
	assert.Equal(t, "greet", run.CurrentState)

	stored, err := runStore.Get(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, flowrun.StatusWaiting, stored.Status)
	assert.Len(t, runStore.steps, 1)
}

func TestRuntime_StartFlow_RejectsSecondActiveRun(t *testing.T) {
	rt, _ := newTestRuntime(t)
	ctx := context.Background()

	_, _, err := rt.StartFlow(ctx, "greeting", "session-1", nil)
	require.NoError(t, err)

	_, _, err = rt.StartFlow(ctx, "greeting", "session-1", nil)
	assert.ErrorIs(t, err, ErrRunAlreadyActive)
}

func TestRuntime_ResumeFlow_CompletesRunOnMatchingEvent(t *testing.T) {
	rt, _ := newTestRuntime(t)
	ctx := context.Background()

	_, _, err := rt.StartFlow(ctx, "greeting", "session-1", nil)
	require.NoError(t, err)

	reply, run, err := rt.ResumeFlow(ctx, "session-1", "hello there", nil)
	require.NoError(t, err)
	assert.Equal(t, "hi there", reply.Message)
	assert.Equal(t, "end", run.CurrentState)
	assert.Equal(t, flowrun.StatusCompleted, run.Status)
	assert.Equal(t, "hello there", run.Context["_last_user_message"])
}

func TestRuntime_ResumeFlow_MergesExtraIntoContext(t *testing.T) {
	rt, _ := newTestRuntime(t)
	ctx := context.Background()

	_, _, err := rt.StartFlow(ctx, "greeting", "session-1", nil)
	require.NoError(t, err)

	extra := map[string]any{"session": map[string]any{"user_id": "u7", "auth_token": "tok"}}
	_, run, err := rt.ResumeFlow(ctx, "session-1", "hello there", extra)
	require.NoError(t, err)
	snapshot := run.Context["session"].(map[string]any)
	assert.Equal(t, "u7", snapshot["user_id"])
	assert.Equal(t, "tok", snapshot["auth_token"])
}

func TestRuntime_ResumeFlow_NoActiveRun(t *testing.T) {
	rt, _ := newTestRuntime(t)
	_, _, err := rt.ResumeFlow(context.Background(), "ghost-session", "hi", nil)
	assert.ErrorIs(t, err, ErrNoActiveRun)
}

func TestRuntime_GetActiveFlow_NilWhenCompleted(t *testing.T) {
	rt, runStore := newTestRuntime(t)
	ctx := context.Background()

	_, run, err := rt.StartFlow(ctx, "greeting", "session-1", nil)
	require.NoError(t, err)
	run.Status = flowrun.StatusCompleted
	require.NoError(t, runStore.Update(ctx, run))

	active, err := rt.GetActiveFlow(ctx, "session-1")
	require.NoError(t, err)
	assert.Nil(t, active)
}
