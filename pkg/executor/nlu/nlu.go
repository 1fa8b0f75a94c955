// Package nlu implements the "nlu" executor: intent classification with a
// fast-classifier-first, LLM-fallback-on-low-confidence strategy.
package nlu

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/flowtalk/engine/pkg/executor"
	"github.com/flowtalk/engine/pkg/rpcclient"
)

// defaultThreshold is used when the flow author and engine config both
// omit a confidence threshold.
const defaultThreshold = 0.65

// Config is the "nlu" executor's configuration shape.
type Config struct {
	Text               string   `json:"text"`
	ConfidenceThreshold float64 `json:"confidenceThreshold,omitempty"`
	// Intents is the closed set the LLM fallback is constrained to pick
	// from — the union of all flow trigger values plus the fixed
	// conversational intents (spec §6.2).
	Intents []string `json:"intents,omitempty"`
}

// Executor classifies text, falling back to an LLM with a strict intent
// list when the fast classifier's confidence is below threshold.
type Executor struct {
	NLU       rpcclient.NLUClient
	LLM       rpcclient.LLMClient
	Threshold float64
}

// New constructs the nlu executor. threshold is the engine-wide default
// (spec §6.4 nlu.confidenceThreshold); a per-call config value overrides it.
func New(nluClient rpcclient.NLUClient, llmClient rpcclient.LLMClient, threshold float64) *Executor {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	return &Executor{NLU: nluClient, LLM: llmClient, Threshold: threshold}
}

func (e *Executor) Capability() executor.Capability {
	return executor.Capability{RequiresUserInput: false, Idempotent: false}
}

func (e *Executor) Execute(ctx context.Context, config any, _ map[string]any) executor.Result {
	var cfg Config
	if err := executor.DecodeConfig(config, &cfg); err != nil {
		return executor.Result{Error: executor.NewError(executor.KindValidation, fmt.Sprintf("nlu config: %v", err), err)}
	}
	threshold := e.Threshold
	if cfg.ConfidenceThreshold > 0 {
		threshold = cfg.ConfidenceThreshold
	}

	result, err := e.NLU.Classify(ctx, cfg.Text)
	if err != nil {
		return executor.Result{Error: executor.NewError(executor.KindTransient, "classifier call failed", err)}
	}

	event := "high_conf"
	if result.Confidence < threshold {
		event = "low_conf"
		if e.LLM != nil && len(cfg.Intents) > 0 {
			fallback, err := e.classifyWithLLM(ctx, cfg.Text, cfg.Intents)
			if err == nil {
				result = fallback
				event = "high_conf"
			}
		}
	}

	return executor.Result{
		Output: map[string]any{
			"intent":     result.Intent,
			"confidence": result.Confidence,
			"entities":   result.Entities,
		},
		Events: []string{event},
	}
}

func (e *Executor) classifyWithLLM(ctx context.Context, text string, intents []string) (rpcclient.NLUResult, error) {
	prompt := fmt.Sprintf(
		"Classify the following message into exactly one of these intents: %s.\nRespond with strict JSON: {\"intent\": string, \"confidence\": number}.\nMessage: %q",
		strings.Join(intents, ", "), text,
	)
	res, err := e.LLM.Chat(ctx, rpcclient.ChatRequest{
		SystemPrompt: "You are an intent classifier restricted to a fixed list of intents.",
		Messages:     []rpcclient.ChatMessage{{Role: "user", Content: prompt}},
		MaxTokens:    128,
	})
	if err != nil {
		return rpcclient.NLUResult{}, err
	}
	var parsed struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(res.Content), &parsed); err != nil {
		return rpcclient.NLUResult{}, err
	}
	return rpcclient.NLUResult{Intent: parsed.Intent, Confidence: parsed.Confidence}, nil
}
