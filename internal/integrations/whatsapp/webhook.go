package whatsapp

import (
	"encoding/json"
	"fmt"
	"strings"
)

// InboundMessage is one user message delivered by the webhook.
type InboundMessage struct {
	ID          string
	From        string
	ProfileName string
	Type        string
	Text        string
	Timestamp   string
}

// IsText reports whether the message carries text the engine can process.
// Button replies count as text.
func (m InboundMessage) IsText() bool {
	return strings.TrimSpace(m.Text) != ""
}

type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []struct {
					ID        string `json:"id"`
					From      string `json:"from"`
					Timestamp string `json:"timestamp"`
					Type      string `json:"type"`
					Text      *struct {
						Body string `json:"body"`
					} `json:"text"`
					Interactive *struct {
						Type        string `json:"type"`
						ButtonReply *struct {
							ID    string `json:"id"`
							Title string `json:"title"`
						} `json:"button_reply"`
					} `json:"interactive"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// ParseWebhook extracts the user messages from a Cloud API notification.
// Status callbacks (delivered, read) carry no messages and yield an empty
// slice.
func ParseWebhook(body []byte) ([]InboundMessage, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("whatsapp: decode webhook: %w", err)
	}

	var out []InboundMessage
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, m := range change.Value.Messages {
				msg := InboundMessage{
					ID:          m.ID,
					From:        m.From,
					ProfileName: names[m.From],
					Type:        m.Type,
					Timestamp:   m.Timestamp,
				}
				switch {
				case m.Text != nil:
					msg.Text = m.Text.Body
				case m.Interactive != nil && m.Interactive.ButtonReply != nil:
					msg.Text = m.Interactive.ButtonReply.Title
				}
				out = append(out, msg)
			}
		}
	}
	return out, nil
}

// VerifyChallenge checks a webhook subscription request and returns the
// challenge to echo back.
func VerifyChallenge(mode, token, challenge, expected string) (string, bool) {
	if mode != "subscribe" || expected == "" || token != expected {
		return "", false
	}
	return challenge, true
}
