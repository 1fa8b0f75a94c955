package rpcclient

import (
	"context"

	"github.com/flowtalk/engine/pkg/executor/externalsearch"
)

// NLUHTTPClient calls a classifier service over HTTP/JSON.
type NLUHTTPClient struct{ HTTP *HTTPClient }

func (c *NLUHTTPClient) Classify(ctx context.Context, text string) (NLUResult, error) {
	var out NLUResult
	err := c.HTTP.Do(ctx, "POST", "/classify", map[string]any{"text": text}, &out)
	return out, err
}

// LLMHTTPClient calls an LLM provider over HTTP/JSON. Fallback across
// multiple providers (spec §6.2) is handled by FallbackLLMClient, which
// wraps one LLMHTTPClient per provider.
type LLMHTTPClient struct{ HTTP *HTTPClient }

func (c *LLMHTTPClient) Chat(ctx context.Context, req ChatRequest) (ChatResult, error) {
	var out ChatResult
	err := c.HTTP.Do(ctx, "POST", "/chat", req, &out)
	return out, err
}

// FallbackLLMClient tries each provider in declared order, returning the
// first non-error response (spec §6.2: "providers are tried in a fixed
// fallback order ... the first non-error response wins").
type FallbackLLMClient struct {
	Providers []LLMClient
}

func (f *FallbackLLMClient) Chat(ctx context.Context, req ChatRequest) (ChatResult, error) {
	var lastErr error
	for _, p := range f.Providers {
		res, err := p.Chat(ctx, req)
		if err == nil {
			return res, nil
		}
		lastErr = err
	}
	return ChatResult{}, lastErr
}

// SearchHTTPClient calls a product/store index over HTTP/JSON.
type SearchHTTPClient struct{ HTTP *HTTPClient }

func (c *SearchHTTPClient) Query(ctx context.Context, q SearchQuery) (SearchResult, error) {
	var out SearchResult
	err := c.HTTP.Do(ctx, "POST", "/search", q, &out)
	return out, err
}

// RoutingHTTPClient calls a routing/distance service over HTTP/JSON.
type RoutingHTTPClient struct{ HTTP *HTTPClient }

func (c *RoutingHTTPClient) Route(ctx context.Context, from, to LatLng) (RouteResult, error) {
	var out RouteResult
	err := c.HTTP.Do(ctx, "POST", "/route", map[string]any{"from": from, "to": to}, &out)
	return out, err
}

// ZoneHTTPClient calls a zone-serviceability service over HTTP/JSON.
type ZoneHTTPClient struct{ HTTP *HTTPClient }

func (c *ZoneHTTPClient) ZoneFor(ctx context.Context, point LatLng, module string) (ZoneResult, error) {
	var out ZoneResult
	err := c.HTTP.Do(ctx, "POST", "/zone", map[string]any{"point": point, "module": module}, &out)
	return out, err
}

// PricingHTTPClient calls a pricing service over HTTP/JSON.
type PricingHTTPClient struct{ HTTP *HTTPClient }

func (c *PricingHTTPClient) Quote(ctx context.Context, req PricingRequest) (PricingQuote, error) {
	var out PricingQuote
	err := c.HTTP.Do(ctx, "POST", "/pricing/quote", req, &out)
	return out, err
}

// OrderHTTPClient places orders against the business backend over
// HTTP/JSON, forwarding the caller-derived idempotency key as the
// idempotency_key query parameter so
// the backend itself is responsible for de-duplicating retried placement
// attempts.
type OrderHTTPClient struct{ HTTP *HTTPClient }

func (c *OrderHTTPClient) Place(ctx context.Context, req OrderRequest, idempotencyKey string) (OrderResult, error) {
	var out OrderResult
	err := c.HTTP.Do(ctx, "POST", "/orders?idempotency_key="+idempotencyKey, req, &out)
	return out, err
}

// AuthHTTPClient wraps the phone/OTP authentication backend over
// HTTP/JSON.
type AuthHTTPClient struct{ HTTP *HTTPClient }

func (c *AuthHTTPClient) SendOTP(ctx context.Context, phone string) error {
	return c.HTTP.Do(ctx, "POST", "/auth/otp/send", map[string]any{"phone": phone}, nil)
}

func (c *AuthHTTPClient) VerifyOTP(ctx context.Context, phone, code string) (AuthResult, error) {
	var out AuthResult
	err := c.HTTP.Do(ctx, "POST", "/auth/otp/verify", map[string]any{"phone": phone, "code": code}, &out)
	return out, err
}

func (c *AuthHTTPClient) SyncUser(ctx context.Context, userID, token string) (UserProfile, error) {
	var out UserProfile
	err := c.HTTP.Do(ctx, "POST", "/auth/sync", map[string]any{"user_id": userID, "token": token}, &out)
	return out, err
}

// PHPAPIHTTPClient dispatches generic action-coded calls to the business
// backend over HTTP/JSON.
type PHPAPIHTTPClient struct{ HTTP *HTTPClient }

func (c *PHPAPIHTTPClient) Call(ctx context.Context, action string, params map[string]any) (map[string]any, error) {
	var out map[string]any
	err := c.HTTP.Do(ctx, "POST", "/api/"+action, params, &out)
	return out, err
}

// PlacesHTTPClient calls an external vendor/places search API over
// HTTP/JSON, backing the "external_search" executor's fallback lookup.
type PlacesHTTPClient struct{ HTTP *HTTPClient }

var _ externalsearch.PlacesClient = (*PlacesHTTPClient)(nil)

func (c *PlacesHTTPClient) Search(ctx context.Context, query, city string) ([]externalsearch.Place, error) {
	var out []externalsearch.Place
	err := c.HTTP.Do(ctx, "POST", "/places/search", map[string]any{"query": query, "city": city}, &out)
	return out, err
}

// ASRHTTPClient calls an external speech-to-text service over HTTP/JSON.
type ASRHTTPClient struct{ HTTP *HTTPClient }

func (c *ASRHTTPClient) Transcribe(ctx context.Context, audioURL string) (TranscribeResult, error) {
	var out TranscribeResult
	err := c.HTTP.Do(ctx, "POST", "/transcribe", map[string]any{"audio_url": audioURL}, &out)
	return out, err
}
