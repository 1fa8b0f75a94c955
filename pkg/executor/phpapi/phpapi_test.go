package phpapi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPHPAPI struct {
	data map[string]any
	err  error
}

func (s *stubPHPAPI) Call(_ context.Context, _ string, _ map[string]any) (map[string]any, error) {
	return s.data, s.err
}

func TestExecute_DispatchesActionAndReturnsData(t *testing.T) {
	e := New(&stubPHPAPI{data: map[string]any{"ok": true}})
	res := e.Execute(context.Background(), map[string]any{"action": "vendor.list", "params": map[string]any{}}, map[string]any{})
	require.Nil(t, res.Error)
	assert.Equal(t, []string{"vendor.list_ok"}, res.Events)
}

func TestExecute_MissingActionIsValidationError(t *testing.T) {
	e := New(&stubPHPAPI{})
	res := e.Execute(context.Background(), map[string]any{}, map[string]any{})
	require.NotNil(t, res.Error)
	assert.Equal(t, "validation", string(res.Error.Kind))
}
