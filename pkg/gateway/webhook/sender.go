package webhook

import (
	"context"
	"fmt"
	"strings"

	"github.com/flowtalk/engine/pkg/orchestrator"
)

// TransportSender is the narrow per-channel transport a TextSender
// delivers the rendered string through (e.g. the WhatsApp Cloud API
// "send message" call, Telegram's sendMessage).
type TransportSender interface {
	SendText(ctx context.Context, channel, identifier, text string) error
}

// TextSender renders a Reply to plain text before handing it to a
// channel-specific TransportSender, the lossy-rendering path spec §6.1
// describes for channels with no native card/button widgets ("plain text
// channels serialize cards as a numbered list").
type TextSender struct {
	Transport TransportSender
}

var _ Sender = (*TextSender)(nil)

func (s *TextSender) Send(ctx context.Context, channel, identifier string, reply orchestrator.Reply) error {
	return s.Transport.SendText(ctx, channel, identifier, Render(reply))
}

// Render flattens a Reply into a single plain-text message: the
// message body, followed by a numbered list of cards, followed by a
// bracketed list of button labels (since a text channel has no tappable
// widgets, buttons are spelled out as reply options instead).
func Render(reply orchestrator.Reply) string {
	var b strings.Builder
	b.WriteString(reply.Message)

	for i, card := range reply.Cards {
		b.WriteString(fmt.Sprintf("\n%d. %s", i+1, card.Title))
		if card.Subtitle != "" {
			b.WriteString(" - " + card.Subtitle)
		}
		if card.Price != "" {
			b.WriteString(" (" + card.Price + ")")
		}
	}

	if len(reply.Buttons) > 0 {
		labels := make([]string, len(reply.Buttons))
		for i, btn := range reply.Buttons {
			labels[i] = btn.Label
		}
		b.WriteString("\n[" + strings.Join(labels, " | ") + "]")
	}

	return b.String()
}
