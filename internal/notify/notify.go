// Package notify emits conversation-update messages to the side channel the
// hosting page listens on. Delivery is best-effort: a lost notification only
// means the page misses a live update, the persistence layer is unaffected.
package notify

import (
	"bytes"
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"
)

// MessageType tags every conversation-update message on the transport.
const MessageType = "LLMLOG_CONVERSATION_UPDATE"

// titleMaxBytes is the byte length the prompt is truncated to for titles.
const titleMaxBytes = 50

// Update is the payload of one conversation-update message.
type Update struct {
	Platform  string
	Prompt    string
	Response  string
	URL       string
	CreatedAt time.Time
}

// Notifier delivers conversation updates across the process boundary.
type Notifier interface {
	ConversationUpdate(ctx context.Context, u Update)
}

// Nop is a Notifier that drops every update, used when no transport is
// configured and in tests.
type Nop struct{}

func (Nop) ConversationUpdate(context.Context, Update) {}

// Webhook posts each update as JSON to a fixed URL.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook returns a Webhook notifier targeting url.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// ConversationUpdate posts the update. Failures are logged and swallowed.
func (w *Webhook) ConversationUpdate(ctx context.Context, u Update) {
	body := EncodeUpdate(u)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		log.Errorf("notify: failed to build request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		log.Warnf("notify: delivery failed: %v", err)
		return
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warnf("notify: delivery rejected with status %d", resp.StatusCode)
	}
}

// EncodeUpdate builds the wire message for an update.
func EncodeUpdate(u Update) []byte {
	msg := `{"type":"","payload":{}}`
	msg, _ = sjson.Set(msg, "type", MessageType)
	msg, _ = sjson.Set(msg, "payload.platform", u.Platform)
	msg, _ = sjson.Set(msg, "payload.prompt", u.Prompt)
	msg, _ = sjson.Set(msg, "payload.response", u.Response)
	msg, _ = sjson.Set(msg, "payload.url", u.URL)
	msg, _ = sjson.Set(msg, "payload.createdAt", u.CreatedAt.Format(time.RFC3339))
	msg, _ = sjson.Set(msg, "payload.title", TitleFromPrompt(u.Prompt))
	return []byte(msg)
}

// TitleFromPrompt returns the byte-for-byte prefix of the prompt used as a
// record title. The cut is not word-boundary-aware.
func TitleFromPrompt(prompt string) string {
	if len(prompt) <= titleMaxBytes {
		return prompt
	}
	return prompt[:titleMaxBytes]
}
