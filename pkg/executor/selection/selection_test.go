package selection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func options() map[string]any {
	return map[string]any{"options": []map[string]any{
		{"name": "Margherita Pizza"},
		{"name": "Pepperoni Pizza"},
		{"name": "Caesar Salad"},
	}}
}

func withText(text string) map[string]any {
	cfg := options()
	cfg["userText"] = text
	return cfg
}

func TestExecute_NumericSelection(t *testing.T) {
	e := New()
	res := e.Execute(context.Background(), withText("2"), map[string]any{})
	require.Nil(t, res.Error)
	assert.Equal(t, []string{"selected"}, res.Events)
	out := res.Output.(map[string]any)
	assert.Equal(t, 1, out["index"])
}

func TestExecute_OrdinalSelection(t *testing.T) {
	e := New()
	res := e.Execute(context.Background(), withText("first"), map[string]any{})
	require.Nil(t, res.Error)
	out := res.Output.(map[string]any)
	assert.Equal(t, 0, out["index"])
}

func TestExecute_FuzzySubstringSelection(t *testing.T) {
	e := New()
	res := e.Execute(context.Background(), withText("the pepperoni one"), map[string]any{})
	require.Nil(t, res.Error)
	out := res.Output.(map[string]any)
	assert.Equal(t, 1, out["index"])
}

func TestExecute_AmbiguousSubstringSelection(t *testing.T) {
	e := New()
	res := e.Execute(context.Background(), withText("pizza"), map[string]any{})
	require.Nil(t, res.Error)
	assert.Equal(t, []string{"ambiguous"}, res.Events)
}

func TestExecute_InvalidSelection(t *testing.T) {
	e := New()
	res := e.Execute(context.Background(), withText("quinoa bowl"), map[string]any{})
	require.Nil(t, res.Error)
	assert.Equal(t, []string{"invalid"}, res.Events)
}
