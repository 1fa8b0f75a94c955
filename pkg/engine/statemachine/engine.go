// Package statemachine implements the State Machine Engine (C4): the
// advance() step algorithm that drives a single Flow Run forward by one
// or more states per inbound message (spec §4.4).
package statemachine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	ectx "github.com/flowtalk/engine/pkg/engine/context"
	"github.com/flowtalk/engine/pkg/executor"
	"github.com/flowtalk/engine/pkg/flowdef"
	"github.com/flowtalk/engine/pkg/flowrun"
)

// defaultAutoAdvanceMax is the hard cap on auto-advance iterations per
// inbound message (spec §4.4 step 8 / §6.4 engine.autoAdvanceMax).
const defaultAutoAdvanceMax = 25

// defaultTurnBudget bounds the wall-clock time a single advance() call
// (including all of its auto-advance iterations and retries) may spend
// (spec §6.4 engine.turnBudgetMs).
const defaultTurnBudget = 45 * time.Second

// Reply is the turn's accumulated user-facing output, built up across
// every action that contributed a response/cards/buttons in declared
// order (spec §4.4 step 4).
type Reply struct {
	Message string
	Cards   []executor.Card
	Buttons []executor.Button
	Paused  bool
	Status  flowrun.Status
}

// Engine runs the advance() algorithm against a Flow Run.
type Engine struct {
	Registry       *executor.Registry
	AutoAdvanceMax int
	TurnBudget     time.Duration

	// ExecutorTimeouts bounds each individual Execute call by action name,
	// on top of the overall TurnBudget (config key executor.<name>.timeoutMs).
	// An executor absent from the map runs under the turn budget alone.
	ExecutorTimeouts map[string]time.Duration
}

// New constructs an Engine with the given executor registry and
// spec-default auto-advance cap / turn budget.
func New(registry *executor.Registry) *Engine {
	return &Engine{Registry: registry, AutoAdvanceMax: defaultAutoAdvanceMax, TurnBudget: defaultTurnBudget}
}

// Advance runs the step algorithm against run, starting with inboundEvent,
// auto-advancing through subsequent states per step 8 until the engine
// pauses, the run finishes, or the auto-advance cap is hit. It mutates
// run in place and returns the turn's accumulated reply. steps, if
// non-nil, receives one flowrun.Step per iteration for the caller to
// persist (spec §4.4 step 7: "fire-and-forget; failure logged, not
// surfaced" — the caller owns that policy, this method only emits them).
func (e *Engine) Advance(ctx context.Context, flow *flowdef.Flow, run *flowrun.FlowRun, inboundEvent flowdef.Event, steps func(*flowrun.Step)) (*Reply, error) {
	cap := e.AutoAdvanceMax
	if cap <= 0 {
		cap = defaultAutoAdvanceMax
	}
	budget := e.TurnBudget
	if budget <= 0 {
		budget = defaultTurnBudget
	}
	turnCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	reply := &Reply{}
	event := inboundEvent

	for iteration := 0; ; iteration++ {
		if iteration >= cap {
			run.Status = flowrun.StatusFailed
			slog.Error("auto-advance loop cap exceeded", "runId", run.RunID, "flowId", run.FlowID, "state", run.CurrentState)
			return reply, ErrLoopDetected
		}
		if turnCtx.Err() != nil {
			run.Status = flowrun.StatusFailed
			return reply, fmt.Errorf("turn budget exceeded: %w", turnCtx.Err())
		}
		if run.Status == flowrun.StatusCancelled {
			reply.Status = run.Status
			return reply, nil
		}

		state, ok := flow.States[run.CurrentState]
		if !ok {
			run.Status = flowrun.StatusFailed
			return reply, fmt.Errorf("%w: flow %q has no state %q", ErrInvalidState, flow.ID, run.CurrentState)
		}

		step := &flowrun.Step{RunID: run.RunID, StepIndex: iteration, State: run.CurrentState, Timestamp: time.Now()}

		if state.Type == flowdef.StateTypeWait && event == "" {
			run.Status = flowrun.StatusWaiting
			reply.Paused = true
			reply.Status = run.Status
			return reply, nil
		}

		perTurn := e.buildTurnContext(run, event)

		outcome, err := e.runState(turnCtx, state, perTurn, run, reply, step, event)
		if steps != nil {
			steps(step)
		}
		if err != nil {
			run.Status = flowrun.StatusFailed
			return reply, err
		}
		if outcome.cancelled {
			run.Status = flowrun.StatusCancelled
			reply.Status = run.Status
			return reply, nil
		}
		if outcome.pause {
			run.Status = flowrun.StatusWaiting
			reply.Paused = true
			reply.Status = run.Status
			return reply, nil
		}

		run.Context = mergeDelta(run.Context, outcome.contextDelta)
		step.OutputDelta = outcome.contextDelta
		step.Event = string(outcome.chosenEvent)

		if flow.IsFinal(outcome.nextState) {
			run.CurrentState = outcome.nextState
			run.Status = flowrun.StatusCompleted
			now := time.Now()
			run.CompletedAt = &now
			reply.Status = run.Status
			return reply, nil
		}
		run.CurrentState = outcome.nextState
		run.UpdatedAt = time.Now()

		nextState := flow.States[run.CurrentState]
		if !e.canAutoAdvance(nextState) {
			run.Status = flowrun.StatusWaiting
			reply.Status = run.Status
			return reply, nil
		}

		// Auto-advance: loop to step 1 with no new inbound event. A
		// cancellation observed by an action mid-step must survive this
		// reset so the next iteration's guard catches it.
		event = ""
		if run.Status != flowrun.StatusCancelled {
			run.Status = flowrun.StatusRunning
		}
	}
}

// canAutoAdvance implements spec §4.4 step 8: the engine may continue
// processing the new state within the same inbound message only if it is
// an action or decision state whose first action does not require user
// input, per executor-declared capability.
func (e *Engine) canAutoAdvance(state *flowdef.State) bool {
	if state == nil {
		return false
	}
	if state.Type != flowdef.StateTypeAction && state.Type != flowdef.StateTypeDecision {
		return false
	}
	if len(state.Actions) == 0 {
		return true
	}
	ex, err := e.Registry.Get(state.Actions[0].Executor)
	if err != nil {
		return false
	}
	return !ex.Capability().RequiresUserInput
}

// buildTurnContext composes the per-turn context (spec §4.4 step 2):
// run.context ∪ system.* ∪ {_last_event}. A "system" entry already in
// run.Context is kept as is; otherwise system.sessionId is filled in from
// the run (system.phone, system.now and system.traceId are not set). It
// also stamps _last_event, _run_id and _state_name.
func (e *Engine) buildTurnContext(run *flowrun.FlowRun, event flowdef.Event) ectx.Context {
	merged := ectx.Context(run.Context).Clone()
	if _, ok := merged["system"]; !ok {
		merged["system"] = map[string]any{"sessionId": run.SessionID}
	}
	merged["_last_event"] = string(event)
	merged["_run_id"] = run.RunID
	merged["_state_name"] = run.CurrentState
	return merged
}

func mergeDelta(base map[string]any, delta map[string]any) map[string]any {
	out := ectx.Context(base).Clone()
	for k, v := range delta {
		out = ectx.Merge(out, k, v)
	}
	return map[string]any(out)
}
