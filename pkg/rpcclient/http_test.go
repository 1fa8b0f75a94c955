package rpcclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flowexecutor "github.com/flowtalk/engine/pkg/executor"
)

func TestHTTPClient_SuccessDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"intent": "order_food", "confidence": 0.9})
	}))
	defer srv.Close()

	client := &NLUHTTPClient{HTTP: NewHTTPClient(srv.URL, "", time.Second)}
	res, err := client.Classify(context.Background(), "I want a pizza")
	require.NoError(t, err)
	assert.Equal(t, "order_food", res.Intent)
	assert.Equal(t, 0.9, res.Confidence)
}

func TestHTTPClient_BusinessErrorNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid zone"}`))
	}))
	defer srv.Close()

	client := &ZoneHTTPClient{HTTP: NewHTTPClient(srv.URL, "", time.Second)}
	_, err := client.ZoneFor(context.Background(), LatLng{Lat: 1, Lng: 1}, "food")
	require.Error(t, err)
	var classified *flowexecutor.Error
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, flowexecutor.KindUpstream, classified.Kind)
	assert.Equal(t, 1, calls)
}

func TestHTTPClient_TransientErrorRetriedThenSucceeds(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"km": 4.2, "durationMin": 12.0})
	}))
	defer srv.Close()

	httpClient := NewHTTPClient(srv.URL, "", time.Second)
	httpClient.MaxRetries = 3
	client := &RoutingHTTPClient{HTTP: httpClient}
	res, err := client.Route(context.Background(), LatLng{}, LatLng{})
	require.NoError(t, err)
	assert.Equal(t, 4.2, res.KM)
	assert.GreaterOrEqual(t, calls, 2)
}

func TestFallbackLLMClient_UsesFirstSuccessfulProvider(t *testing.T) {
	failing := stubLLM{err: assertErr{}}
	succeeding := stubLLM{result: ChatResult{Content: "hello"}}
	f := &FallbackLLMClient{Providers: []LLMClient{&failing, &succeeding}}

	res, err := f.Chat(context.Background(), ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Content)
}

type stubLLM struct {
	result ChatResult
	err    error
}

func (s *stubLLM) Chat(_ context.Context, _ ChatRequest) (ChatResult, error) {
	return s.result, s.err
}

type assertErr struct{}

func (assertErr) Error() string { return "provider unavailable" }
