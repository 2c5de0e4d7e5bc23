// Package claude parses Claude-style traffic. The captured request carries no
// prompt; the full response body is one JSON conversation document from which
// both the latest human prompt and assistant reply are recovered. A freshly
// reconstructed exchange is announced on the side channel unless the same
// content was announced moments ago.
package claude

import (
	"context"
	"io"
	"regexp"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/llmlog/llmlog/internal/adapter"
	"github.com/llmlog/llmlog/internal/capture"
	"github.com/llmlog/llmlog/internal/dedupe"
	"github.com/llmlog/llmlog/internal/notify"
)

const platform = "claude"

var endpointPattern = regexp.MustCompile(`/api/organizations/[^/]+/chat_conversations/[^/?]+`)

// Adapter implements adapter.Adapter for Claude-style endpoints.
type Adapter struct {
	recent   *dedupe.Cache
	notifier notify.Notifier
	now      func() time.Time
}

// New returns a Claude-style adapter announcing new exchanges on notifier.
// recent suppresses repeat announcements of the same content; pass nil to use
// a cache with default window and size.
func New(notifier notify.Notifier, recent *dedupe.Cache) *Adapter {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if recent == nil {
		recent = dedupe.New(0, 0)
	}
	return &Adapter{recent: recent, notifier: notifier, now: time.Now}
}

func (a *Adapter) Platform() string { return platform }

func (a *Adapter) MatchEndpoint(url string) bool {
	return endpointPattern.MatchString(url)
}

// ParseRequest is a no-op: Claude-style requests do not carry the prompt.
func (a *Adapter) ParseRequest(*capture.Request) string { return "" }

// ParseResponse reads the buffered conversation document, pairs the two most
// recent messages into a prompt/reply exchange, and announces it. Duplicate
// suppression gates only the announcement, never the returned result.
func (a *Adapter) ParseResponse(ctx context.Context, resp *capture.Response) adapter.Result {
	if resp == nil {
		return adapter.Result{}
	}
	body := buffered(resp)
	if len(body) == 0 || !gjson.ValidBytes(body) {
		log.Errorf("%s: response body is not a JSON document", platform)
		return adapter.Result{}
	}
	doc := gjson.ParseBytes(body)

	// The conversation id is surfaced even when content extraction fails.
	convID := doc.Get("uuid").String()

	messages := doc.Get("chat_messages")
	if !messages.IsArray() {
		log.Errorf("%s: document has no chat_messages array", platform)
		return adapter.Result{ConversationID: convID}
	}
	arr := messages.Array()
	if len(arr) < 2 {
		log.Warnf("%s: fewer than two messages, nothing to pair", platform)
		return adapter.Result{ConversationID: convID}
	}

	// The two most recent messages form the exchange; their order in the
	// document is not assumed.
	last, prev := arr[len(arr)-1], arr[len(arr)-2]
	prompt, response := pairExchange(prev, last)
	if prompt == "" && response == "" {
		log.Errorf("%s: no human/assistant pair in latest messages", platform)
		return adapter.Result{ConversationID: convID}
	}

	result := adapter.Result{Text: response, Prompt: prompt, ConversationID: convID}
	fingerprint := dedupe.Fingerprint(prompt, response)
	if a.recent.Seen(fingerprint) {
		return result
	}
	a.notifier.ConversationUpdate(ctx, notify.Update{
		Platform:  platform,
		Prompt:    prompt,
		Response:  response,
		URL:       resp.URL,
		CreatedAt: a.now(),
	})
	return result
}

// pairExchange assigns the human and assistant message of the pair, in either
// order. Both are empty when the pairing is not found.
func pairExchange(m1, m2 gjson.Result) (prompt, response string) {
	var human, assistant gjson.Result
	for _, m := range []gjson.Result{m1, m2} {
		switch m.Get("sender").String() {
		case "human":
			human = m
		case "assistant":
			assistant = m
		}
	}
	if !human.Exists() || !assistant.Exists() {
		return "", ""
	}
	return messageText(human), messageText(assistant)
}

// messageText joins a message's content-part texts with newlines. The legacy
// flat text field is used when no content list is present.
func messageText(msg gjson.Result) string {
	content := msg.Get("content")
	if !content.IsArray() {
		return msg.Get("text").String()
	}
	var texts []string
	for _, part := range content.Array() {
		if t := part.Get("text").String(); t != "" {
			texts = append(texts, t)
		}
	}
	return strings.Join(texts, "\n")
}

// buffered returns the response body, draining the stream when the host
// handed the document over in chunks.
func buffered(resp *capture.Response) []byte {
	if !resp.Streaming() {
		return resp.Body
	}
	var body []byte
	for {
		chunk, done, err := resp.Stream.Read()
		body = append(body, chunk...)
		if err != nil {
			if err != io.EOF {
				log.Errorf("%s: failed to drain response body: %v", platform, err)
			}
			return body
		}
		if done {
			return body
		}
	}
}
