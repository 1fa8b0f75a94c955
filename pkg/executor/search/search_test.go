package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowtalk/engine/pkg/rpcclient"
)

type stubSearch struct {
	result rpcclient.SearchResult
	gotQ   rpcclient.SearchQuery
}

func (s *stubSearch) Query(_ context.Context, q rpcclient.SearchQuery) (rpcclient.SearchResult, error) {
	s.gotQ = q
	return s.result, nil
}

func TestExecute_FoundEmitsFoundEvent(t *testing.T) {
	stub := &stubSearch{result: rpcclient.SearchResult{Items: []rpcclient.SearchItem{{ID: "1"}}, Total: 1}}
	e := New(stub)
	res := e.Execute(context.Background(), map[string]any{"query": "pizza", "module": "food", "zoneId": "Z1"}, map[string]any{})
	require.Nil(t, res.Error)
	assert.Equal(t, []string{"found"}, res.Events)
	assert.Equal(t, "Z1", stub.gotQ.ZoneID)
}

func TestExecute_EmptyResultEmitsNoResultsEvent(t *testing.T) {
	stub := &stubSearch{result: rpcclient.SearchResult{Total: 0}}
	e := New(stub)
	res := e.Execute(context.Background(), map[string]any{"query": "nonexistent", "module": "food"}, map[string]any{})
	require.Nil(t, res.Error)
	assert.Equal(t, []string{"no_results"}, res.Events)
}
