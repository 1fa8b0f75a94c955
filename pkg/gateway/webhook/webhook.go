// Package webhook implements the stateless channel-webhook side of the
// Channel Gateway Surface (C9): WhatsApp/Telegram-style inbound POSTs,
// normalized to the same (sessionId, identifier, text, meta) tuple the
// WebSocket gateway (pkg/gateway/ws) produces before either hands off to
// the orchestrator (spec §4.9, §6.1). Rendering an outbound reply back
// into a channel's native shape is a pure function of the payload, kept
// behind the Sender contract so this package carries no per-channel
// business logic of its own — the same "per-channel driver, one routing
// core" split the pack's go-mizu gateway.Service uses for its
// channel.Driver registry.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/flowtalk/engine/pkg/orchestrator"
	"github.com/flowtalk/engine/pkg/rpcclient"
)

// AttachmentType discriminates the media kinds a channel payload may
// carry. Only Audio is acted on today (spec §6.1: "Audio attachments are
// transcribed before dispatch"); others pass through untouched.
type AttachmentType string

// Recognized attachment types.
const (
	AttachmentAudio AttachmentType = "audio"
	AttachmentImage AttachmentType = "image"
	AttachmentOther AttachmentType = "other"
)

// Attachment is one media item attached to an inbound channel message.
type Attachment struct {
	Type AttachmentType
	URL  string
}

// Normalized is a channel-native payload reduced to the shape every
// adapter converges on before the gateway dispatches it (spec §6.2
// "the gateway normalizes to (sessionId, identifier, text,
// attachments?)").
type Normalized struct {
	Identifier  string
	Text        string
	Attachments []Attachment
	Meta        map[string]any
}

// Adapter decodes one channel's native webhook payload shape. WhatsApp
// and Telegram ship as the two reference adapters (spec §1 "WhatsApp/
// Telegram webhooks"); additional channels implement the same three
// methods.
type Adapter interface {
	// Channel names the channel this adapter decodes, used as
	// orchestrator.Inbound.Channel and passed to Sender.Send.
	Channel() string
	// Parse decodes body into a Normalized message.
	Parse(body []byte) (Normalized, error)
	// SessionID derives a stable session identifier from the sender's
	// channel-native identifier (e.g. a WhatsApp phone number, a
	// Telegram chat id), so the same sender always resumes the same
	// session across deliveries.
	SessionID(identifier string) string
}

// Sender pushes a turn's reply back into a channel's native outbound API.
// Rendering (e.g. cards -> a numbered list on a plain-text channel) is
// the sender's responsibility, never the gateway's (spec §6.1 "Rendering
// per channel is lossy").
type Sender interface {
	Send(ctx context.Context, channel, identifier string, reply orchestrator.Reply) error
}

// Router is the narrow contract Gateway drives text through; the same
// contract pkg/gateway/ws.Hub uses, so both channel surfaces share one
// implementation (orchestrator.Router).
type Router interface {
	Route(ctx context.Context, in orchestrator.Inbound) (*orchestrator.Reply, error)
}

// Gateway is the stateless HTTP entry point for channel webhooks.
type Gateway struct {
	Router   Router
	Sender   Sender
	ASR      rpcclient.ASRClient
	Adapters map[string]Adapter
}

// New constructs a Gateway with no adapters registered; call Register for
// each channel the deployment accepts webhooks from.
func New(router Router, sender Sender, asr rpcclient.ASRClient) *Gateway {
	return &Gateway{Router: router, Sender: sender, ASR: asr, Adapters: make(map[string]Adapter)}
}

// Register adds an Adapter, keyed by its own Channel() name.
func (g *Gateway) Register(a Adapter) {
	g.Adapters[a.Channel()] = a
}

// Handle is the http.HandlerFunc serving POST /webhook/{channel}; channel
// must name an Adapter previously passed to Register. It always
// acknowledges with 200 once the payload is structurally valid — channel
// webhook providers retry aggressively on non-2xx, and a downstream
// routing failure is not the sender's problem to resolve.
func (g *Gateway) Handle(channel string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adapter, ok := g.Adapters[channel]
		if !ok {
			http.Error(w, fmt.Sprintf("unknown channel %q", channel), http.StatusNotFound)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "could not read request body", http.StatusBadRequest)
			return
		}

		norm, err := adapter.Parse(body)
		if err != nil {
			slog.Warn("webhook payload parse failed", "channel", channel, "error", err)
			http.Error(w, "malformed payload", http.StatusBadRequest)
			return
		}
		if norm.Identifier == "" {
			http.Error(w, "payload missing sender identifier", http.StatusBadRequest)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))

		// r.Context() is cancelled once the handler returns, but
		// transcription and routing continue past the 200 ack, so they
		// run against a detached context rather than the request's.
		g.process(context.WithoutCancel(r.Context()), adapter, norm)
	}
}

func (g *Gateway) process(ctx context.Context, adapter Adapter, norm Normalized) {
	text := norm.Text
	for _, a := range norm.Attachments {
		if a.Type != AttachmentAudio || g.ASR == nil {
			continue
		}
		result, err := g.ASR.Transcribe(ctx, a.URL)
		if err != nil {
			slog.Warn("asr transcription failed", "channel", adapter.Channel(), "error", err)
			continue
		}
		text = result.Text
		break
	}
	if text == "" {
		return
	}

	sessionID := adapter.SessionID(norm.Identifier)
	reply, err := g.Router.Route(ctx, orchestrator.Inbound{
		SessionID:  sessionID,
		Identifier: norm.Identifier,
		Text:       text,
		Channel:    adapter.Channel(),
		Meta:       norm.Meta,
	})
	if err != nil {
		slog.Error("webhook route failed", "channel", adapter.Channel(), "sessionId", sessionID, "error", err)
		return
	}
	if reply == nil {
		return
	}
	if err := g.Sender.Send(ctx, adapter.Channel(), norm.Identifier, *reply); err != nil {
		slog.Error("webhook reply send failed", "channel", adapter.Channel(), "sessionId", sessionID, "error", err)
	}
}

// decodeJSON is a small helper adapters share to unmarshal their
// channel-native payload before picking fields off it.
func decodeJSON(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode webhook payload: %w", err)
	}
	return nil
}
