// Package rpcclient declares the narrow outbound contracts the core
// consumes from backend services (spec §6.2) and an HTTP/JSON
// implementation of each. Executors depend on these interfaces, never on
// a concrete transport, so tests substitute fakes freely.
package rpcclient

import "context"

// LatLng is a coordinate pair shared by routing and zone lookups.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// NLUResult is the outcome of intent classification.
type NLUResult struct {
	Intent     string         `json:"intent"`
	Confidence float64        `json:"confidence"`
	Entities   map[string]any `json:"entities"`
}

// NLUClient classifies free text into one of the flow registry's known
// intents.
type NLUClient interface {
	Classify(ctx context.Context, text string) (NLUResult, error)
}

// ChatMessage is one turn in an LLM conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the payload sent to the LLM provider chain.
type ChatRequest struct {
	SystemPrompt string
	Messages     []ChatMessage
	MaxTokens    int
	Temperature  float64
	JSONSchema   map[string]any
}

// ChatResult is the LLM provider's response.
type ChatResult struct {
	Content string
}

// LLMClient generates natural-language or structured-JSON completions.
// Implementations try providers in a fixed fallback order and return the
// first non-error response (spec §6.2).
type LLMClient interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResult, error)
}

// SearchItem is one result row from the product/store index.
type SearchItem struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Price   float64        `json:"price"`
	StoreID string         `json:"store_id"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// SearchQuery is the filter set passed to SearchClient.Query.
type SearchQuery struct {
	Module  string
	Text    string
	ZoneID  string
	Geo     *LatLng
	Filters map[string]any
	Size    int
}

// SearchResult is the outcome of a product/store index query.
type SearchResult struct {
	Items []SearchItem
	Total int
}

// SearchClient queries a module's product/store index.
type SearchClient interface {
	Query(ctx context.Context, q SearchQuery) (SearchResult, error)
}

// RouteResult is the outcome of a routing computation.
type RouteResult struct {
	KM          float64
	DurationMin float64
}

// RoutingClient computes distance and duration between two points.
type RoutingClient interface {
	Route(ctx context.Context, from, to LatLng) (RouteResult, error)
}

// ZoneResult is the outcome of a serviceability lookup.
type ZoneResult struct {
	ZoneID      string
	ZoneName    string
	Serviceable bool
}

// ZoneClient resolves whether a point lies within a serviceable zone.
type ZoneClient interface {
	ZoneFor(ctx context.Context, point LatLng, module string) (ZoneResult, error)
}

// PricingQuote is the outcome of a pricing computation.
type PricingQuote struct {
	Subtotal   float64
	Delivery   float64
	Tax        float64
	Total      float64
	Breakdown  map[string]float64
}

// PricingRequest describes what to price.
type PricingRequest struct {
	Type        string
	Items       []map[string]any
	DistanceKM  float64
	FromZoneID  string
	ToZoneID    string
	Category    string
}

// PricingClient computes an order total for a given module.
type PricingClient interface {
	Quote(ctx context.Context, req PricingRequest) (PricingQuote, error)
}

// OrderRequest is the payload submitted to place an order.
type OrderRequest struct {
	Type      string
	Items     []map[string]any
	Addresses map[string]any
	Payment   map[string]any
	Pricing   PricingQuote
	UserID    string
	Token     string
}

// OrderResult is the outcome of placing an order.
type OrderResult struct {
	OrderID string
	Status  string
}

// OrderClient places an order via the business backend. idempotencyKey is
// derived by the caller from (sessionId, runId, stateName) (spec §4.3);
// implementations must return the cached result on a repeated key rather
// than placing a duplicate order.
type OrderClient interface {
	Place(ctx context.Context, req OrderRequest, idempotencyKey string) (OrderResult, error)
}

// UserProfile is the authenticated-user record returned by auth RPCs.
type UserProfile struct {
	UserID string         `json:"user_id"`
	Name   string         `json:"name"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// AuthResult is the outcome of a successful OTP verification.
type AuthResult struct {
	UserID  string
	Token   string
	Profile *UserProfile
}

// AuthClient wraps the phone/OTP authentication backend.
type AuthClient interface {
	SendOTP(ctx context.Context, phone string) error
	VerifyOTP(ctx context.Context, phone, code string) (AuthResult, error)
	SyncUser(ctx context.Context, userID, token string) (UserProfile, error)
}

// PHPAPIClient is the generic, action-code-dispatched gateway to the
// business backend used by auth/vendor/delivery sub-flows (spec §4.3
// php_api executor).
type PHPAPIClient interface {
	Call(ctx context.Context, action string, params map[string]any) (map[string]any, error)
}

// TranscribeResult is the outcome of transcribing a voice attachment.
type TranscribeResult struct {
	Text     string
	Language string
}

// ASRClient transcribes an audio attachment URL to text before the
// channel webhook gateway hands the message to the orchestrator (spec
// §1 "audio is transcribed by an external ASR before reaching the
// core", §6.1 "Audio attachments are transcribed before dispatch").
type ASRClient interface {
	Transcribe(ctx context.Context, audioURL string) (TranscribeResult, error)
}
