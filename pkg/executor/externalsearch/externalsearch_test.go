package externalsearch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPlaces struct {
	places []Place
	err    error
}

func (s *stubPlaces) Search(_ context.Context, _, _ string) ([]Place, error) {
	return s.places, s.err
}

func TestExecute_FoundEmitsFoundEvent(t *testing.T) {
	e := New(&stubPlaces{places: []Place{{Name: "Taco Stand"}}})
	res := e.Execute(context.Background(), map[string]any{"query": "tacos", "city": "CDMX"}, map[string]any{})
	require.Nil(t, res.Error)
	assert.Equal(t, []string{"found"}, res.Events)
}

func TestExecute_EmptyEmitsNotFoundEvent(t *testing.T) {
	e := New(&stubPlaces{})
	res := e.Execute(context.Background(), map[string]any{"query": "nothing here"}, map[string]any{})
	require.Nil(t, res.Error)
	assert.Equal(t, []string{"not_found"}, res.Events)
}
