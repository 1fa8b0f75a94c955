package main

import (
	"context"
	"fmt"

	"github.com/flowtalk/engine/pkg/orchestrator"
	"github.com/flowtalk/engine/pkg/rpcclient"
)

// nluAdapter satisfies orchestrator.NLUClassifier against the narrower
// rpcclient.NLUClient, translating rpcclient's transport-shaped
// NLUResult into the orchestrator's own Intent type.
type nluAdapter struct {
	client rpcclient.NLUClient
}

func (a nluAdapter) Classify(ctx context.Context, text string) (orchestrator.Intent, error) {
	res, err := a.client.Classify(ctx, text)
	if err != nil {
		return orchestrator.Intent{}, err
	}
	return orchestrator.Intent{Name: res.Intent, Confidence: res.Confidence, Entities: res.Entities}, nil
}

// clarifierAdapter satisfies orchestrator.Clarifier against
// rpcclient.LLMClient, prompting it with a fixed clarification template
// rather than exposing the full ChatRequest shape to the orchestrator.
type clarifierAdapter struct {
	client rpcclient.LLMClient
}

func (a clarifierAdapter) Clarify(ctx context.Context, options []string) (string, error) {
	prompt := "The user's message didn't clearly match any of the following options. Ask a short clarifying question offering them:"
	for _, o := range options {
		prompt += fmt.Sprintf("\n- %s", o)
	}
	res, err := a.client.Chat(ctx, rpcclient.ChatRequest{
		SystemPrompt: "You write one short, friendly clarifying question for a chat ordering assistant.",
		Messages:     []rpcclient.ChatMessage{{Role: "user", Content: prompt}},
		MaxTokens:    120,
		Temperature:  0.3,
	})
	if err != nil {
		return "", err
	}
	return res.Content, nil
}
