package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowtalk/engine/pkg/auth"
	"github.com/flowtalk/engine/pkg/engine"
	"github.com/flowtalk/engine/pkg/engine/statemachine"
	"github.com/flowtalk/engine/pkg/executor"
	"github.com/flowtalk/engine/pkg/flowdef"
	"github.com/flowtalk/engine/pkg/flowrun"
	"github.com/flowtalk/engine/pkg/session"
)

// stubNLU returns a fixed Intent for every call.
type stubNLU struct {
	intent Intent
	err    error
}

func (s *stubNLU) Classify(_ context.Context, _ string) (Intent, error) {
	return s.intent, s.err
}

// stubClarifier returns a fixed clarification message.
type stubClarifier struct {
	message string
}

func (s *stubClarifier) Clarify(_ context.Context, _ []string) (string, error) {
	return s.message, nil
}

// pauseExecutor always pauses, replying with message.
type pauseExecutor struct {
	message string
}

func (e *pauseExecutor) Execute(_ context.Context, _ any, _ map[string]any) executor.Result {
	return executor.Result{Response: &executor.Response{Message: e.message}}
}

func (e *pauseExecutor) Capability() executor.Capability { return executor.Capability{} }

type memFlowStore struct {
	mu    sync.Mutex
	flows []*flowdef.Flow
}

func (m *memFlowStore) Upsert(_ context.Context, flow *flowdef.Flow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flows = append(m.flows, flow)
	return nil
}

func (m *memFlowStore) LoadLatest(_ context.Context) ([]*flowdef.Flow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flows, nil
}

type memRunStore struct {
	mu   sync.Mutex
	runs map[string]*flowrun.FlowRun
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

func (m *memRunStore) AppendStep(_ context.Context, _ *flowrun.Step) error { return nil }

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

func orderFoodFlow() *flowdef.Flow {
	return &flowdef.Flow{
		ID: "order_food", Version: 1, Name: "Order Food", Module: flowdef.ModuleFood,
		Trigger: "order_food", InitialState: "greet", FinalStates: []string{"end"},
		States: map[string]*flowdef.State{
			"greet": {
				Type:    flowdef.StateTypeAction,
				Actions: []flowdef.Action{{Executor: "respond"}},
			},
			"end": {Type: flowdef.StateTypeEnd},
		},
	}
}

func authFlow() *flowdef.Flow {
	return &flowdef.Flow{
		ID: "authenticate", Version: 1, Name: "Authenticate", Module: flowdef.ModuleGeneral,
		Trigger: "authenticate", InitialState: "ask_otp", FinalStates: []string{"end"},
		States: map[string]*flowdef.State{
			"ask_otp": {
				Type:    flowdef.StateTypeAction,
				Actions: []flowdef.Action{{Executor: "respond"}},
			},
			"end": {Type: flowdef.StateTypeEnd},
		},
	}
}

func orderFoodFlowRequiresAuth() *flowdef.Flow {
	f := orderFoodFlow()
	f.RequiresAuth = true
	return f
}

func newTestRouter(t *testing.T, flows ...*flowdef.Flow) (*Router, *session.Manager, *memRunStore) {
	t.Helper()
	reg := executor.NewRegistry()
	require.NoError(t, reg.Register("respond", &pauseExecutor{message: "hi there"}))
	reg.Close()

	flowStore := &memFlowStore{}
	for _, f := range flows {
		require.NoError(t, flowStore.Upsert(context.Background(), f))
	}
	cache := engine.NewFlowCache(flowStore, reg, time.Minute)
	require.NoError(t, cache.Load(context.Background()))

	runStore := newMemRunStore()
	machine := statemachine.New(reg)
	rt := engine.New(cache, runStore, machine)

	sessions := session.NewManager()
	authSvc := auth.New(auth.NewMemoryStore(), auth.NewMemoryPubSub())

	router := New(sessions, authSvc, rt, &stubNLU{}, &stubClarifier{message: "clarify?"})
	return router, sessions, runStore
}

func TestRouter_Route_TriggerMatchStartsFlow(t *testing.T) {
	router, _, _ := newTestRouter(t, orderFoodFlow())
	router.NLU = &stubNLU{intent: Intent{Name: "order_food", Confidence: 0.9}}

	reply, err := router.Route(context.Background(), Inbound{SessionID: "s1", Identifier: "+911234567890", Text: "I want pizza", Channel: "whatsapp"})
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, "hi there", reply.Message)
}

func TestRouter_Route_KeywordFallback(t *testing.T) {
	router, _, _ := newTestRouter(t, orderFoodFlow())
	router.NLU = &stubNLU{intent: Intent{Name: "", Confidence: 0}}

	reply, err := router.Route(context.Background(), Inbound{SessionID: "s1", Identifier: "+911234567890", Text: "I'm craving food tonight", Channel: "whatsapp"})
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, "hi there", reply.Message)
}

func TestRouter_Route_ClarifiesWhenNothingMatches(t *testing.T) {
	router, _, _ := newTestRouter(t, orderFoodFlow())
	router.NLU = &stubNLU{intent: Intent{Name: "", Confidence: 0}}

	reply, err := router.Route(context.Background(), Inbound{SessionID: "s1", Identifier: "+911234567890", Text: "xyzzy", Channel: "whatsapp"})
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, "clarify?", reply.Message)
}

func TestRouter_Route_RequiresAuthStashesPendingIntent(t *testing.T) {
	router, sessions, _ := newTestRouter(t, orderFoodFlowRequiresAuth(), authFlow())
	router.NLU = &stubNLU{intent: Intent{Name: "order_food", Confidence: 0.9}}

	_, err := router.Route(context.Background(), Inbound{SessionID: "s1", Identifier: "+911234567890", Text: "I want pizza", Channel: "whatsapp"})
	require.NoError(t, err)

	sess, err := sessions.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "order_food", sess.Data.PendingIntent)
}

func TestRouter_Route_ResetClearsScratch(t *testing.T) {
	router, sessions, _ := newTestRouter(t, orderFoodFlow())
	router.NLU = &stubNLU{intent: Intent{Name: "order_food", Confidence: 0.9}}

	_, err := router.Route(context.Background(), Inbound{SessionID: "s1", Identifier: "+911234567890", Text: "I want pizza", Channel: "whatsapp"})
	require.NoError(t, err)

	reply, err := router.Route(context.Background(), Inbound{SessionID: "s1", Identifier: "+911234567890", Text: "reset", Channel: "whatsapp"})
	require.NoError(t, err)
	require.NotNil(t, reply)

	sess, err := sessions.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, sess.Data.ActiveRunID)
	assert.Empty(t, sess.Data.ModuleName)
}

func TestRouter_Route_DropsDuplicateWithinWindow(t *testing.T) {
	router, _, _ := newTestRouter(t, orderFoodFlow())
	router.NLU = &stubNLU{intent: Intent{Name: "order_food", Confidence: 0.9}}

	in := Inbound{SessionID: "s1", Identifier: "+911234567890", Text: "I want pizza", Channel: "whatsapp"}
	reply1, err := router.Route(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, reply1)

	reply2, err := router.Route(context.Background(), in)
	require.NoError(t, err)
	assert.Nil(t, reply2)
}
