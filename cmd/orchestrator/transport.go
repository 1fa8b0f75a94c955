package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/flowtalk/engine/pkg/rpcclient"
)

// channelTransport dispatches outbound text to each channel's native send
// API over HTTP/JSON, one endpoint per channel read from
// <CHANNEL>_SEND_URL / <CHANNEL>_SEND_TOKEN environment variables (e.g.
// WHATSAPP_SEND_URL, TELEGRAM_SEND_URL) since a channel's send credentials
// are operational secrets, not flow configuration (spec §6.4 keeps those
// out of the YAML config entirely). A channel with no URL configured logs
// and drops the reply rather than failing the inbound webhook that
// triggered it.
type channelTransport struct {
	clients map[string]*rpcclient.HTTPClient
}

func newChannelTransport() *channelTransport {
	t := &channelTransport{clients: make(map[string]*rpcclient.HTTPClient)}
	for _, channel := range []string{"whatsapp", "telegram"} {
		url := getEnv(envPrefix(channel)+"_SEND_URL", "")
		if url == "" {
			continue
		}
		token := getEnv(envPrefix(channel)+"_SEND_TOKEN", "")
		t.clients[channel] = rpcclient.NewHTTPClient(url, token, 10*time.Second)
	}
	return t
}

func (t *channelTransport) SendText(ctx context.Context, channel, identifier, text string) error {
	client, ok := t.clients[channel]
	if !ok {
		slog.Warn("no send transport configured for channel, dropping reply", "channel", channel, "identifier", identifier)
		return nil
	}
	return client.Do(ctx, "POST", "/send", map[string]any{"to": identifier, "text": text}, nil)
}

func envPrefix(channel string) string {
	switch channel {
	case "whatsapp":
		return "WHATSAPP"
	case "telegram":
		return "TELEGRAM"
	default:
		return channel
	}
}
