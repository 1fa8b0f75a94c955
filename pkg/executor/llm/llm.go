// Package llm implements the "llm" executor: natural-language or
// structured-JSON generation against the configured provider chain. It
// always injects a language-match instruction. When the flow omits
// maxTokens, a default token limit is applied; a maxTokens set by the flow
// is passed through without any upper cap.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/flowtalk/engine/pkg/executor"
	"github.com/flowtalk/engine/pkg/rpcclient"
)

// defaultMaxTokens bounds a single generation when the flow author omits
// maxTokens, preventing an unbounded-cost call from a misconfigured flow.
const defaultMaxTokens = 1024

// Config is the "llm" executor's configuration shape.
type Config struct {
	SystemPrompt string         `json:"systemPrompt"`
	UserPrompt   string         `json:"userPrompt,omitempty"`
	MaxTokens    int            `json:"maxTokens,omitempty"`
	Temperature  float64        `json:"temperature,omitempty"`
	JSONSchema   map[string]any `json:"jsonSchema,omitempty"`
}

// Executor generates text or structured JSON via an LLMClient.
type Executor struct {
	Client rpcclient.LLMClient
}

// New constructs the llm executor against client.
func New(client rpcclient.LLMClient) *Executor {
	return &Executor{Client: client}
}

func (e *Executor) Capability() executor.Capability {
	return executor.Capability{RequiresUserInput: false, Idempotent: false}
}

func (e *Executor) Execute(ctx context.Context, config any, turnCtx map[string]any) executor.Result {
	var cfg Config
	if err := executor.DecodeConfig(config, &cfg); err != nil {
		return executor.Result{Error: executor.NewError(executor.KindValidation, fmt.Sprintf("llm config: %v", err), err)}
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}

	lang := "the user's language"
	if v, ok := turnCtx["_user_language"]; ok {
		if s, ok := v.(string); ok && s != "" {
			lang = s
		}
	}
	systemPrompt := cfg.SystemPrompt + fmt.Sprintf("\n\nAlways reply in %s, matching the user's own language.", lang)

	req := rpcclient.ChatRequest{
		SystemPrompt: systemPrompt,
		Messages:     []rpcclient.ChatMessage{{Role: "user", Content: cfg.UserPrompt}},
		MaxTokens:    cfg.MaxTokens,
		Temperature:  cfg.Temperature,
		JSONSchema:   cfg.JSONSchema,
	}

	res, err := e.Client.Chat(ctx, req)
	if err != nil {
		return executor.Result{Error: classify(err)}
	}

	if cfg.JSONSchema != nil {
		var parsed any
		if err := json.Unmarshal([]byte(res.Content), &parsed); err != nil {
			return executor.Result{Error: executor.NewError(executor.KindUpstream, "llm response was not valid JSON against the declared schema", err)}
		}
		return executor.Result{Output: parsed}
	}
	return executor.Result{Output: res.Content}
}

func classify(err error) *executor.Error {
	var classified *executor.Error
	if errors.As(err, &classified) {
		return classified
	}
	return executor.NewError(executor.KindTransient, "llm provider chain exhausted", err)
}
