package flowdef

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// structValidator runs the declarative `validate:"..."` struct tags on a
// Flow before the referential-integrity checks run; a flow with a missing
// required field never reaches the more expensive checks below.
var structValidator = validator.New()

// ExecutorLookup reports whether name is a registered executor. The engine's
// executor registry implements this with its Has method.
type ExecutorLookup interface {
	Has(name string) bool
}

// Validate enforces every rule in the flow loader's referential-integrity
// contract (spec §4.10), failing fast so bad flows are never registered:
//
//  1. initialState and every finalState exist in states.
//  2. Every transition target state exists.
//  3. Every referenced executor is registered.
//  4. No state reachable from initialState is a dead end other than a final state.
//  5. Every state is reachable from initialState (soft warning, not an error).
//  6. Template strings in action config have balanced `{{ }}` placeholders.
//
// warnings collects rule-5-style soft findings the caller may log; a
// non-nil error means the flow must not be registered.
func Validate(f *Flow, executors ExecutorLookup) (warnings []string, err error) {
	if _, ok := f.States[f.InitialState]; !ok {
		return nil, newValidationError(f.ID, "", fmt.Errorf("initial_state %q is not a declared state", f.InitialState))
	}
	for _, fs := range f.FinalStates {
		if _, ok := f.States[fs]; !ok {
			return nil, newValidationError(f.ID, fs, fmt.Errorf("final_state %q is not a declared state", fs))
		}
	}

	for name, st := range f.States {
		if st.Type == "" {
			return nil, newValidationError(f.ID, name, fmt.Errorf("state has no type"))
		}
		for _, action := range st.Actions {
			if executors != nil && !executors.Has(action.Executor) {
				return nil, newValidationError(f.ID, name, fmt.Errorf("%w: %s", ErrUnknownExecutor, action.Executor))
			}
			if err := checkTemplateBalance(action.Config); err != nil {
				return nil, newValidationError(f.ID, name, fmt.Errorf("%w: %v", ErrUnbalancedTemplate, err))
			}
		}
		for event, target := range st.Transitions {
			if _, ok := f.States[target]; !ok {
				return nil, newValidationError(f.ID, name, fmt.Errorf("transition %q targets undeclared state %q", event, target))
			}
		}
		if st.OnError != nil && st.OnError.FallbackState != "" {
			if _, ok := f.States[st.OnError.FallbackState]; !ok {
				return nil, newValidationError(f.ID, name, fmt.Errorf("on_error.fallback_state %q is not a declared state", st.OnError.FallbackState))
			}
		}
		isFinal := f.IsFinal(name)
		if !isFinal && len(st.Actions) == 0 && len(st.Transitions) == 0 && len(st.Conditions) == 0 {
			return nil, newValidationError(f.ID, name, fmt.Errorf("non-final state has neither actions nor transitions"))
		}
	}

	reachable := reachableStates(f)
	for name := range f.States {
		if _, ok := reachable[name]; !ok && name != f.InitialState {
			warnings = append(warnings, fmt.Sprintf("flow %q: state %q is unreachable from initial_state", f.ID, name))
		}
	}
	for _, fs := range f.FinalStates {
		if _, ok := reachable[fs]; !ok && fs != f.InitialState {
			return warnings, newValidationError(f.ID, fs, fmt.Errorf("%w: %s", ErrUnreachableState, fs))
		}
	}

	return warnings, nil
}

// reachableStates walks transitions and decision conditions from
// f.InitialState, returning every state name reached.
func reachableStates(f *Flow) map[string]struct{} {
	seen := map[string]struct{}{f.InitialState: {}}
	queue := []string{f.InitialState}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		st, ok := f.States[name]
		if !ok {
			continue
		}
		targets := make([]string, 0, len(st.Transitions)+len(st.Conditions))
		for _, target := range st.Transitions {
			targets = append(targets, target)
		}
		for _, c := range st.Conditions {
			if target, ok := st.Transitions[c.Event]; ok {
				targets = append(targets, target)
			}
		}
		for _, target := range targets {
			if _, visited := seen[target]; !visited {
				seen[target] = struct{}{}
				queue = append(queue, target)
			}
		}
	}
	return seen
}

// checkTemplateBalance walks a config value recursively and verifies every
// string leaf has balanced `{{`/`}}` placeholder delimiters.
func checkTemplateBalance(node any) error {
	switch v := node.(type) {
	case string:
		if strings.Count(v, "{{") != strings.Count(v, "}}") {
			return fmt.Errorf("unbalanced placeholder in %q", v)
		}
	case map[string]any:
		for _, child := range v {
			if err := checkTemplateBalance(child); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range v {
			if err := checkTemplateBalance(child); err != nil {
				return err
			}
		}
	}
	return nil
}
