package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubExecutor struct {
	cap Capability
}

func (s *stubExecutor) Execute(_ context.Context, _ any, _ map[string]any) Result {
	return Result{}
}

func (s *stubExecutor) Capability() Capability { return s.cap }

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("response", &stubExecutor{}))

	e, err := r.Get("response")
	require.NoError(t, err)
	assert.NotNil(t, e)
}

func TestRegistry_DuplicateNameRejected(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("llm", &stubExecutor{}))
	err := r.Register("llm", &stubExecutor{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateExecutor)
}

func TestRegistry_GetUnknownName(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExecutorNotFound)
}

func TestRegistry_ClosedRejectsFurtherRegistration(t *testing.T) {
	r := NewRegistry()
	r.Close()
	err := r.Register("response", &stubExecutor{})
	require.Error(t, err)
}

func TestRegistry_Has(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Has("address"))
	require.NoError(t, r.Register("address", &stubExecutor{}))
	assert.True(t, r.Has("address"))
}

func TestErrorKind_DefaultRetryable(t *testing.T) {
	assert.True(t, KindTransient.DefaultRetryable())
	assert.False(t, KindUpstream.DefaultRetryable())
	assert.False(t, KindValidation.DefaultRetryable())
	assert.False(t, KindUserOutOfScope.DefaultRetryable())
	assert.False(t, KindInternal.DefaultRetryable())
	assert.False(t, KindCancelled.DefaultRetryable())
}

func TestNewError_WithRetryableOverride(t *testing.T) {
	err := NewError(KindUpstream, "pricing service returned a business rejection", nil).WithRetryable(true)
	assert.True(t, err.Retryable)
	assert.Equal(t, KindUpstream, err.Kind)
}
