// Package selection implements the "selection" executor: parses a user's
// reply ("1", "first", "the pizza one") against a prior list of options,
// accepting numeric, ordinal, and fuzzy substring matches.
package selection

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/flowtalk/engine/pkg/executor"
)

var ordinals = map[string]int{
	"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5,
	"sixth": 6, "seventh": 7, "eighth": 8, "ninth": 9, "tenth": 10,
}

// Config is the "selection" executor's configuration shape.
type Config struct {
	Options  []map[string]any `json:"options"`
	UserText string           `json:"userText"`
}

// Executor parses a selection reply against a prior options list.
type Executor struct{}

// New constructs the selection executor.
func New() *Executor { return &Executor{} }

func (e *Executor) Capability() executor.Capability {
	return executor.Capability{RequiresUserInput: false, Idempotent: true}
}

func (e *Executor) Execute(_ context.Context, config any, _ map[string]any) executor.Result {
	var cfg Config
	if err := executor.DecodeConfig(config, &cfg); err != nil {
		return executor.Result{Error: executor.NewError(executor.KindValidation, fmt.Sprintf("selection config: %v", err), err)}
	}
	if len(cfg.Options) == 0 {
		return executor.Result{Error: executor.NewError(executor.KindValidation, "selection has no options to match against", nil)}
	}

	text := strings.ToLower(strings.TrimSpace(cfg.UserText))
	if text == "" {
		return executor.Result{Events: []string{"invalid"}}
	}

	if idx, ok := matchNumeric(text, len(cfg.Options)); ok {
		return selected(idx, cfg.Options)
	}
	if idx, ok := matchOrdinal(text, len(cfg.Options)); ok {
		return selected(idx, cfg.Options)
	}

	matches := matchSubstring(text, cfg.Options)
	switch len(matches) {
	case 0:
		return executor.Result{Events: []string{"invalid"}}
	case 1:
		return selected(matches[0], cfg.Options)
	default:
		return executor.Result{Events: []string{"ambiguous"}, Output: map[string]any{"candidates": matches}}
	}
}

func matchNumeric(text string, count int) (int, bool) {
	n, err := strconv.Atoi(text)
	if err != nil || n < 1 || n > count {
		return 0, false
	}
	return n - 1, true
}

func matchOrdinal(text string, count int) (int, bool) {
	n, ok := ordinals[text]
	if !ok || n < 1 || n > count {
		return 0, false
	}
	return n - 1, true
}

func matchSubstring(text string, options []map[string]any) []int {
	words := strings.Fields(text)
	var matches []int
	for i, opt := range options {
		name, _ := opt["name"].(string)
		if name == "" {
			name, _ = opt["title"].(string)
		}
		lowerName := strings.ToLower(name)
		if name != "" && strings.Contains(lowerName, text) {
			matches = append(matches, i)
			continue
		}
	nameWords:
		for _, nw := range strings.Fields(lowerName) {
			for _, w := range words {
				if len(nw) > 3 && nw == w {
					matches = append(matches, i)
					break nameWords
				}
			}
		}
	}
	return matches
}

func selected(idx int, options []map[string]any) executor.Result {
	return executor.Result{
		Output: map[string]any{"index": idx, "item": options[idx]},
		Events: []string{"selected"},
	}
}
