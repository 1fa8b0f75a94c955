// Package engine implements the Flow Engine Runtime (C5): the layer
// above the State Machine Engine (pkg/engine/statemachine) that owns
// the flow registry, run storage, and the startFlow/resumeFlow/
// getActiveFlow operations the Intent Router drives (spec §4.5).
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	ectx "github.com/flowtalk/engine/pkg/engine/context"
	"github.com/flowtalk/engine/pkg/engine/statemachine"
	"github.com/flowtalk/engine/pkg/flowdef"
	"github.com/flowtalk/engine/pkg/flowrun"
	"github.com/google/uuid"
)

// IDFunc generates a new unique identifier. Tests substitute a
// deterministic generator; production wires google/uuid.
type IDFunc func() string

// NewUUID is the production IDFunc.
func NewUUID() string { return uuid.NewString() }

// Runtime wires the flow cache, run store, and state machine engine
// together to implement startFlow/resumeFlow/getActiveFlow (spec §4.5).
type Runtime struct {
	Flows   *FlowCache
	Runs    flowrun.Store
	Machine *statemachine.Engine
	NewID   IDFunc
}

// New constructs a Runtime. NewID defaults to google/uuid if nil.
func New(flows *FlowCache, runs flowrun.Store, machine *statemachine.Engine) *Runtime {
	return &Runtime{Flows: flows, Runs: runs, Machine: machine, NewID: NewUUID}
}

func (r *Runtime) newID() string {
	if r.NewID != nil {
		return r.NewID()
	}
	return NewUUID()
}

// StartFlow creates a new Flow Run for sessionID against flowID, seeds
// its context from initialContext, and performs the first advance()
// pass with inboundEvent = flow_started (spec §4.4 "Initial-state
// selection", §4.5 startFlow). The caller must have already confirmed
// no active run exists for the session (spec §8.1 property 2); StartFlow
// itself only refuses if the store disagrees, returning
// ErrRunAlreadyActive.
func (r *Runtime) StartFlow(ctx context.Context, flowID, sessionID string, initialContext map[string]any) (*statemachine.Reply, *flowrun.FlowRun, error) {
	flow, err := r.Flows.Get(ctx, flowID)
	if err != nil {
		return nil, nil, fmt.Errorf("start flow: %w", err)
	}

	if existing, err := r.Runs.GetActiveBySession(ctx, sessionID); err == nil && existing != nil && existing.Status.Active() {
		return nil, nil, ErrRunAlreadyActive
	}

	seeded := ectx.Context(initialContext).Clone()

	now := time.Now()
	run := &flowrun.FlowRun{
		RunID:        r.newID(),
		FlowID:       flow.ID,
		FlowVersion:  flow.Version,
		SessionID:    sessionID,
		CurrentState: flow.InitialState,
		Status:       flowrun.StatusRunning,
		Context:      map[string]any(seeded),
		StartedAt:    now,
		UpdatedAt:    now,
	}

	if err := r.Runs.Create(ctx, run); err != nil {
		return nil, nil, fmt.Errorf("start flow: create run: %w", err)
	}

	reply, err := r.advanceAndPersist(ctx, flow, run, flowdef.EventFlowStarted)
	if err != nil {
		return reply, run, err
	}
	return reply, run, nil
}

// ResumeFlow loads sessionID's active run, injects the inbound user
// message as event user_message plus _last_user_message into context,
// merges extra (typically {"session": session.Snapshot()} and, on a
// location-share turn, "_shared_location") so the run sees a fresh
// session snapshot on every turn rather than only the one it started
// with (spec §3.1 "session.{...} — snapshot of relevant session data at
// turn start"), and performs another advance() pass (spec §4.5
// resumeFlow). extra may be nil.
func (r *Runtime) ResumeFlow(ctx context.Context, sessionID, userMessage string, extra map[string]any) (*statemachine.Reply, *flowrun.FlowRun, error) {
	run, err := r.GetActiveFlow(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if run == nil {
		return nil, nil, ErrNoActiveRun
	}

	flow, err := r.Flows.Get(ctx, run.FlowID)
	if err != nil {
		return nil, nil, fmt.Errorf("resume flow: %w", err)
	}

	merged := ectx.Merge(ectx.Context(run.Context), "_last_user_message", userMessage)
	for key, value := range extra {
		merged = ectx.Merge(merged, key, value)
	}
	run.Context = map[string]any(merged)

	reply, err := r.advanceAndPersist(ctx, flow, run, flowdef.EventUserMessage)
	if err != nil {
		return reply, run, err
	}
	return reply, run, nil
}

// GetActiveFlow returns sessionID's run iff it is running|waiting and
// references a flow still present in the cache, or nil if neither
// holds (spec §4.5 getActiveFlow).
func (r *Runtime) GetActiveFlow(ctx context.Context, sessionID string) (*flowrun.FlowRun, error) {
	run, err := r.Runs.GetActiveBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get active flow: %w", err)
	}
	if run == nil || !run.Status.Active() {
		return nil, nil
	}
	if _, err := r.Flows.Get(ctx, run.FlowID); err != nil {
		return nil, nil
	}
	return run, nil
}

// advanceAndPersist runs the state machine, persists the resulting run
// state and any emitted steps, and returns the turn reply. Step
// persistence is fire-and-forget per spec §4.4 step 7; its failure is
// logged, not surfaced to the caller.
func (r *Runtime) advanceAndPersist(ctx context.Context, flow *flowdef.Flow, run *flowrun.FlowRun, event flowdef.Event) (*statemachine.Reply, error) {
	reply, advanceErr := r.Machine.Advance(ctx, flow, run, event, func(step *flowrun.Step) {
		if err := r.Runs.AppendStep(ctx, step); err != nil {
			slog.Error("flow run step persistence failed", "runId", run.RunID, "stepIndex", step.StepIndex, "error", err)
		}
	})

	if err := r.Runs.Update(ctx, run); err != nil {
		slog.Error("flow run persistence failed", "runId", run.RunID, "status", run.Status, "error", err)
	}

	return reply, advanceErr
}
