package webhook

import "fmt"

// whatsappPayload is the (trimmed) shape of a WhatsApp Business Cloud API
// webhook delivery: a nested entry/changes/value structure carrying zero
// or more inbound messages. Only the fields the gateway needs are kept.
type whatsappPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []struct {
					From string `json:"from"`
					Type string `json:"type"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
					Audio struct {
						ID  string `json:"id"`
						URL string `json:"url"`
					} `json:"audio"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// WhatsAppAdapter decodes WhatsApp Business Cloud API webhook deliveries.
type WhatsAppAdapter struct{}

var _ Adapter = WhatsAppAdapter{}

func (WhatsAppAdapter) Channel() string { return "whatsapp" }

func (WhatsAppAdapter) Parse(body []byte) (Normalized, error) {
	var payload whatsappPayload
	if err := decodeJSON(body, &payload); err != nil {
		return Normalized{}, err
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				if msg.From == "" {
					continue
				}
				norm := Normalized{Identifier: msg.From}
				switch msg.Type {
				case "audio":
					norm.Attachments = []Attachment{{Type: AttachmentAudio, URL: msg.Audio.URL}}
				default:
					norm.Text = msg.Text.Body
				}
				return norm, nil
			}
		}
	}
	return Normalized{}, fmt.Errorf("webhook: no inbound message in whatsapp payload")
}

// SessionID uses the sender's phone number directly: WhatsApp identifies
// senders by phone, which is exactly the identifier the Centralized Auth
// Service (C8) keys on, so no separate mapping is needed.
func (WhatsAppAdapter) SessionID(identifier string) string {
	return "whatsapp:" + identifier
}
