// Package openai parses ChatGPT-style traffic: the full JSON request carries
// the user prompt, and the streamed response delivers the assistant reply as
// an incremental sequence of append and patch operations, occasionally
// interleaved with a complete message snapshot that supersedes everything
// accumulated before it.
package openai

import (
	"context"
	"regexp"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/llmlog/llmlog/internal/adapter"
	"github.com/llmlog/llmlog/internal/capture"
	"github.com/llmlog/llmlog/internal/sse"
)

const platform = "chatgpt"

// firstPartPath is the JSON-pointer target of append operations that carry
// visible reply text. Appends to any other path (metadata, citations) do not
// contribute.
const firstPartPath = "/message/content/parts/0"

var endpointPattern = regexp.MustCompile(`/backend-api(?:/f)?/conversation$`)

// Adapter implements adapter.Adapter for ChatGPT-style endpoints.
type Adapter struct{}

// New returns a ChatGPT-style adapter.
func New() *Adapter { return &Adapter{} }

func (a *Adapter) Platform() string { return platform }

func (a *Adapter) MatchEndpoint(url string) bool {
	return endpointPattern.MatchString(trimQuery(url))
}

// ParseRequest returns the newline-joined content parts of the most recent
// user-authored message in the request body, or an empty string when the body
// does not have that shape.
func (a *Adapter) ParseRequest(req *capture.Request) string {
	if req == nil || len(req.Body) == 0 {
		return ""
	}
	messages := gjson.GetBytes(req.Body, "messages")
	if !messages.IsArray() {
		log.Errorf("%s: request body has no messages array", platform)
		return ""
	}
	arr := messages.Array()
	for i := len(arr) - 1; i >= 0; i-- {
		msg := arr[i]
		if msg.Get("author.role").String() != "user" {
			continue
		}
		return joinParts(msg.Get("content.parts"))
	}
	log.Errorf("%s: no user message in request", platform)
	return ""
}

// ParseResponse drains the streamed response and folds its update records
// into one reply. Record arrival order is authoritative: a complete message
// snapshot replaces the accumulation at the point it is encountered, and
// later appends continue from there.
func (a *Adapter) ParseResponse(ctx context.Context, resp *capture.Response) adapter.Result {
	if resp == nil {
		return adapter.Result{}
	}
	var acc strings.Builder
	var convID string

	scanner := sse.NewScanner(ctx, source(resp))
	for scanner.Scan() {
		raw := scanner.Data()
		if !gjson.Valid(raw) {
			// Some records are plain protocol tokens, not JSON.
			log.Warnf("%s: skipping non-JSON record: %.40q", platform, raw)
			continue
		}
		rec := gjson.Parse(raw)

		// Records that lack a conversation id never reset a seen one.
		if id := firstExisting(rec, "conversation_id", "v.conversation_id"); id != "" {
			convID = id
		}

		op := rec.Get("o").String()
		path := rec.Get("p").String()
		value := rec.Get("v")

		switch {
		case op == "append" && path == firstPartPath:
			acc.WriteString(value.String())
		case op == "" && path == "" && value.Type == gjson.String:
			// Legacy encoding: a bare value field is one text chunk.
			acc.WriteString(value.String())
		case op == "patch" && value.IsArray():
			for _, sub := range value.Array() {
				if sub.Get("o").String() == "append" && sub.Get("p").String() == firstPartPath {
					acc.WriteString(sub.Get("v").String())
				}
			}
		default:
			if text, ok := finishedMessage(rec); ok {
				acc.Reset()
				acc.WriteString(text)
			}
			// Unrecognized shapes are expected to appear over time; skip
			// without logging.
		}
	}
	if err := scanner.Err(); err != nil {
		if acc.Len() == 0 {
			log.Errorf("%s: failed to read response stream: %v", platform, err)
			return adapter.Result{}
		}
		log.Warnf("%s: response stream ended early: %v", platform, err)
	}
	return adapter.Result{Text: acc.String(), ConversationID: convID}
}

// finishedMessage extracts the text of a complete finished assistant message
// record, reported via ok.
func finishedMessage(rec gjson.Result) (string, bool) {
	msg := rec.Get("message")
	if !msg.Exists() {
		msg = rec.Get("v.message")
	}
	if !msg.Exists() {
		return "", false
	}
	if msg.Get("author.role").String() != "assistant" {
		return "", false
	}
	if !strings.HasPrefix(msg.Get("status").String(), "finished") {
		return "", false
	}
	parts := msg.Get("content.parts")
	if !parts.IsArray() {
		return "", false
	}
	return joinParts(parts), true
}

func joinParts(parts gjson.Result) string {
	if !parts.IsArray() {
		return ""
	}
	var texts []string
	for _, part := range parts.Array() {
		if part.Type == gjson.String {
			texts = append(texts, part.String())
		}
	}
	return strings.Join(texts, "\n")
}

func firstExisting(rec gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := rec.Get(p); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func source(resp *capture.Response) capture.ChunkSource {
	if resp.Streaming() {
		return resp.Stream
	}
	return capture.SourceFromChunks(resp.Body)
}

func trimQuery(url string) string {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		return url[:i]
	}
	return url
}
