package pricing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowtalk/engine/pkg/rpcclient"
)

type stubPricing struct {
	quote rpcclient.PricingQuote
	gotReq rpcclient.PricingRequest
}

func (s *stubPricing) Quote(_ context.Context, req rpcclient.PricingRequest) (rpcclient.PricingQuote, error) {
	s.gotReq = req
	return s.quote, nil
}

func TestExecute_DelegatesToRemoteService(t *testing.T) {
	stub := &stubPricing{quote: rpcclient.PricingQuote{Total: 42.5}}
	e := New(stub)
	config := map[string]any{"type": "food", "distanceKm": 3.4}
	res := e.Execute(context.Background(), config, map[string]any{})
	require.Nil(t, res.Error)
	assert.Equal(t, []string{"calculated"}, res.Events)
	out := res.Output.(map[string]any)
	assert.Equal(t, 42.5, out["total"])
	assert.Equal(t, "food", stub.gotReq.Type)
}
