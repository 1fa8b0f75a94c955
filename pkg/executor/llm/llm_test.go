package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowtalk/engine/pkg/rpcclient"
)

type stubLLM struct {
	gotSystemPrompt string
	content         string
	err             error
}

func (s *stubLLM) Chat(_ context.Context, req rpcclient.ChatRequest) (rpcclient.ChatResult, error) {
	s.gotSystemPrompt = req.SystemPrompt
	return rpcclient.ChatResult{Content: s.content}, s.err
}

func TestExecute_InjectsLanguageInstruction(t *testing.T) {
	stub := &stubLLM{content: "hola"}
	e := New(stub)
	config := map[string]any{"systemPrompt": "You are a helpful assistant."}
	res := e.Execute(context.Background(), config, map[string]any{"_user_language": "Spanish"})
	require.Nil(t, res.Error)
	assert.Contains(t, stub.gotSystemPrompt, "Spanish")
	assert.Equal(t, "hola", res.Output)
}

func TestExecute_JSONSchemaParsesOutput(t *testing.T) {
	stub := &stubLLM{content: `{"intent":"order_food"}`}
	e := New(stub)
	config := map[string]any{
		"systemPrompt": "classify",
		"jsonSchema":   map[string]any{"type": "object"},
	}
	res := e.Execute(context.Background(), config, map[string]any{})
	require.Nil(t, res.Error)
	out, ok := res.Output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "order_food", out["intent"])
}

func TestExecute_InvalidJSONAgainstSchemaIsUpstreamError(t *testing.T) {
	stub := &stubLLM{content: "not json"}
	e := New(stub)
	config := map[string]any{
		"systemPrompt": "classify",
		"jsonSchema":   map[string]any{"type": "object"},
	}
	res := e.Execute(context.Background(), config, map[string]any{})
	require.NotNil(t, res.Error)
}
