package statemachine

import (
	"context"
	"log/slog"
	"time"

	ectx "github.com/flowtalk/engine/pkg/engine/context"
	"github.com/flowtalk/engine/pkg/executor"
	"github.com/flowtalk/engine/pkg/flowdef"
	"github.com/flowtalk/engine/pkg/flowrun"
)

// stepOutcome is the result of running one state's actions and selecting
// its transition (spec §4.4 steps 4-6).
type stepOutcome struct {
	nextState    string
	chosenEvent  flowdef.Event
	contextDelta map[string]any
	pause        bool
	cancelled    bool
}

// runState executes state's actions (unless it is a decision state, which
// has none) and selects the next state, appending to reply and step as it
// goes. entryEvent is the event that caused this particular call of
// Advance to begin at state — non-empty only on the first iteration of a
// turn (spec §4.4 step 2's inboundEvent) — and is offered as a last-
// resort transition candidate below any event an executor itself
// emitted, so a plain response/wait state whose only declared transition
// is keyed by "user_message" (or "flow_started") advances on the
// triggering message without needing an executor to manufacture that
// event itself.
func (e *Engine) runState(ctx context.Context, state *flowdef.State, turnCtx ectx.Context, run *flowrun.FlowRun, reply *Reply, step *flowrun.Step, entryEvent flowdef.Event) (stepOutcome, error) {
	if run.Status == flowrun.StatusCancelled {
		return stepOutcome{cancelled: true}, nil
	}

	contextDelta := map[string]any{}
	var candidateEvents []flowdef.Event

	if state.Type != flowdef.StateTypeDecision {
		for _, action := range state.Actions {
			if run.Status == flowrun.StatusCancelled {
				return stepOutcome{cancelled: true}, nil
			}

			config := ectx.Interpolate(action.Config, turnCtx)
			start := time.Now()
			result, invokeErr := e.invokeAction(ctx, action, config, turnCtx, state)
			duration := time.Since(start)

			ok := invokeErr == nil && result.Error == nil
			actionErr := ""
			if invokeErr != nil {
				actionErr = invokeErr.Error()
			} else if result.Error != nil {
				actionErr = result.Error.Error()
			}
			step.ActionsExecuted = append(step.ActionsExecuted, flowrun.ActionExecuted{
				Executor: action.Executor, DurationMs: duration.Milliseconds(), OK: ok, Error: actionErr,
			})
			slog.Info("executor invocation", "executor", action.Executor, "durationMs", duration.Milliseconds(), "ok", ok)

			if invokeErr != nil {
				return e.handleActionFailure(state, executor.NewError(executor.KindInternal, invokeErr.Error(), invokeErr), contextDelta)
			}
			if result.Error != nil {
				return e.handleActionFailure(state, result.Error, contextDelta)
			}

			if action.Output != "" && result.Output != nil {
				contextDelta[action.Output] = result.Output
				turnCtx = ectx.Merge(turnCtx, action.Output, result.Output)
			}
			if result.Response != nil {
				if reply.Message != "" {
					reply.Message += "\n"
				}
				reply.Message += result.Response.Message
			}
			reply.Cards = append(reply.Cards, result.Cards...)
			reply.Buttons = append(reply.Buttons, result.Buttons...)
			for _, name := range result.Events {
				candidateEvents = append(candidateEvents, flowdef.Event(name))
			}
			if result.Pause {
				return stepOutcome{pause: true, contextDelta: contextDelta}, nil
			}
		}
	}

	if entryEvent != "" && state.Type != flowdef.StateTypeDecision {
		candidateEvents = append(candidateEvents, entryEvent)
	}

	return e.selectTransition(state, turnCtx, candidateEvents, contextDelta)
}

// handleActionFailure applies the state's onError policy once retries are
// exhausted (spec §7 propagation policy): route to fallbackState if
// declared, otherwise follow the state's "error" transition. With neither,
// the executor error is returned and Advance fails the run.
func (e *Engine) handleActionFailure(state *flowdef.State, actionErr *executor.Error, contextDelta map[string]any) (stepOutcome, error) {
	if state.OnError != nil && state.OnError.FallbackState != "" {
		return stepOutcome{nextState: state.OnError.FallbackState, chosenEvent: flowdef.EventError, contextDelta: contextDelta}, nil
	}
	if target, ok := state.Transitions[flowdef.EventError]; ok {
		return stepOutcome{nextState: target, chosenEvent: flowdef.EventError, contextDelta: contextDelta}, nil
	}
	return stepOutcome{}, actionErr
}

// invokeAction calls the registered executor, retrying per the state's
// onError.retry policy when the error is retryable. Absent a declared
// retry policy, a transient error still gets one short-backoff retry
// (spec §7: "If no onError and the error is transient, the engine
// retries once with a short backoff").
func (e *Engine) invokeAction(ctx context.Context, action flowdef.Action, config any, turnCtx ectx.Context, state *flowdef.State) (executor.Result, error) {
	ex, err := e.Registry.Get(action.Executor)
	if err != nil {
		return executor.Result{}, err
	}

	attempts := 1
	backoffMs := 0
	if state.OnError != nil && state.OnError.Retry != nil {
		attempts = state.OnError.Retry.Attempts
		backoffMs = state.OnError.Retry.BackoffMs
	}

	var result executor.Result
	for attempt := 0; attempt < attempts; attempt++ {
		result = e.execute(ctx, action.Executor, ex, config, turnCtx)
		if result.Error == nil || !result.Error.Retryable {
			return result, nil
		}
		if attempt < attempts-1 {
			if err := sleep(ctx, time.Duration(backoffMs)*time.Millisecond*time.Duration(attempt+1)); err != nil {
				return result, err
			}
		}
	}

	if (state.OnError == nil || state.OnError.Retry == nil) && result.Error != nil && result.Error.Kind == executor.KindTransient {
		if err := sleep(ctx, 200*time.Millisecond); err != nil {
			return result, err
		}
		return e.execute(ctx, action.Executor, ex, config, turnCtx), nil
	}
	return result, nil
}

// execute applies the action's per-executor timeout, if one is
// configured, before calling Execute.
func (e *Engine) execute(ctx context.Context, name string, ex executor.Executor, config any, turnCtx ectx.Context) executor.Result {
	if d, ok := e.ExecutorTimeouts[name]; ok && d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return ex.Execute(ctx, config, map[string]any(turnCtx))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// selectTransition implements spec §4.4 step 5.
func (e *Engine) selectTransition(state *flowdef.State, turnCtx ectx.Context, candidateEvents []flowdef.Event, contextDelta map[string]any) (stepOutcome, error) {
	if state.Type == flowdef.StateTypeDecision {
		for _, c := range state.Conditions {
			if ectx.Evaluate(c.Expression, turnCtx) {
				if target, ok := state.Transitions[c.Event]; ok {
					return stepOutcome{nextState: target, chosenEvent: c.Event, contextDelta: contextDelta}, nil
				}
				break
			}
		}
	} else {
		for _, ev := range candidateEvents {
			if target, ok := state.Transitions[ev]; ok {
				return stepOutcome{nextState: target, chosenEvent: ev, contextDelta: contextDelta}, nil
			}
		}
	}

	if target, ok := state.Transitions[flowdef.EventWaitingForInput]; ok {
		return stepOutcome{nextState: target, chosenEvent: flowdef.EventWaitingForInput, contextDelta: contextDelta}, nil
	}
	return stepOutcome{pause: true, contextDelta: contextDelta}, nil
}
