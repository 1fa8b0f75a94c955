package webhook

import "fmt"

// telegramPayload is the (trimmed) shape of a Telegram Bot API update:
// https://core.telegram.org/bots/api#update.
type telegramPayload struct {
	Message struct {
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text  string `json:"text"`
		Voice struct {
			FileID string `json:"file_id"`
		} `json:"voice"`
	} `json:"message"`
}

// TelegramAdapter decodes Telegram Bot API update payloads. Voice notes
// carry only a file_id in the update itself; resolving it to a
// downloadable URL is the bot-token-scoped getFile call the Sender's
// transport owns, not this adapter — here the file_id is passed through
// as the attachment URL and the ASR client is expected to resolve it.
type TelegramAdapter struct{}

var _ Adapter = TelegramAdapter{}

func (TelegramAdapter) Channel() string { return "telegram" }

func (TelegramAdapter) Parse(body []byte) (Normalized, error) {
	var payload telegramPayload
	if err := decodeJSON(body, &payload); err != nil {
		return Normalized{}, err
	}
	if payload.Message.Chat.ID == 0 {
		return Normalized{}, fmt.Errorf("webhook: no inbound message in telegram payload")
	}

	norm := Normalized{Identifier: fmt.Sprintf("%d", payload.Message.Chat.ID)}
	if payload.Message.Voice.FileID != "" {
		norm.Attachments = []Attachment{{Type: AttachmentAudio, URL: payload.Message.Voice.FileID}}
	} else {
		norm.Text = payload.Message.Text
	}
	return norm, nil
}

// SessionID uses the Telegram chat id: unlike WhatsApp this is not a
// phone number, so the resulting session starts unauthenticated until the
// user completes the phone/OTP flow (spec §4.7 step 7 auth interception).
func (TelegramAdapter) SessionID(identifier string) string {
	return "telegram:" + identifier
}
