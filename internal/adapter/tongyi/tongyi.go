// Package tongyi parses Tongyi-style traffic. The streamed response emits
// staged records: in-progress snapshots that keep superseding each other and
// a final finished record per content type. Reply text may arrive either as
// a plain text content or embedded inside a thinking trace, where it has to
// be told apart from plugin invocations and other noise.
package tongyi

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/llmlog/llmlog/internal/adapter"
	"github.com/llmlog/llmlog/internal/capture"
	"github.com/llmlog/llmlog/internal/sse"
)

const platform = "tongyi"

const endpointPath = "/dialog/conversation"

// pluginCallMarker flags thinking-trace entries that invoke a tool rather
// than answer the user.
const pluginCallMarker = "pluginCall"

// minContentLength is the threshold below which a thinking-trace entry is
// treated as noise rather than a real answer.
const minContentLength = 10

const (
	statusFinished   = "finished"
	contentTypeText  = "text"
	contentTypeThink = "think"
)

// Adapter implements adapter.Adapter for Tongyi-style endpoints.
type Adapter struct{}

// New returns a Tongyi-style adapter.
func New() *Adapter { return &Adapter{} }

func (a *Adapter) Platform() string { return platform }

func (a *Adapter) MatchEndpoint(url string) bool {
	return strings.Contains(url, endpointPath)
}

// ParseRequest extracts the first user-role content field from the request.
func (a *Adapter) ParseRequest(req *capture.Request) string {
	if req == nil || len(req.Body) == 0 {
		return ""
	}
	contents := gjson.GetBytes(req.Body, "contents")
	if !contents.IsArray() {
		log.Errorf("%s: request body has no contents array", platform)
		return ""
	}
	for _, entry := range contents.Array() {
		if entry.Get("role").String() == "user" {
			return entry.Get("content").String()
		}
	}
	log.Errorf("%s: no user content in request", platform)
	return ""
}

// ParseResponse drains the stream and keeps, per content type, only the last
// record whose status is finished. In-progress records are snapshots of the
// same logical message and are superseded, never concatenated. Plain text
// content wins over an answer recovered from the thinking trace.
func (a *Adapter) ParseResponse(ctx context.Context, resp *capture.Response) adapter.Result {
	if resp == nil {
		return adapter.Result{}
	}
	var finalText, thinkText, convID string

	scanner := sse.NewScanner(ctx, source(resp))
	for scanner.Scan() {
		raw := scanner.Data()
		if !gjson.Valid(raw) {
			log.Warnf("%s: skipping non-JSON record: %.40q", platform, raw)
			continue
		}
		rec := gjson.Parse(raw)
		if id := rec.Get("sessionId").String(); id != "" {
			convID = id
		}
		if rec.Get("msgStatus").String() != statusFinished {
			continue
		}
		contents := rec.Get("contents")
		if !contents.IsArray() {
			continue
		}
		for _, content := range contents.Array() {
			switch content.Get("contentType").String() {
			case contentTypeText:
				if t := content.Get("content").String(); t != "" {
					finalText = t
				}
			case contentTypeThink:
				if t := answerFromThink(content.Get("content").String()); t != "" {
					thinkText = t
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		log.Errorf("%s: failed to read response stream: %v", platform, err)
	}

	text := finalText
	if text == "" {
		text = thinkText
	}
	if text == "" {
		return adapter.Result{ConversationID: convID}
	}
	return adapter.Result{Text: text, ConversationID: convID}
}

// answerFromThink digs the actual answer out of a thinking-trace content
// list: only entries themselves typed text qualify, and entries carrying a
// plugin invocation or shorter than the noise threshold contribute nothing.
func answerFromThink(raw string) string {
	entries := gjson.Parse(raw)
	if !entries.IsArray() {
		return ""
	}
	for _, entry := range entries.Array() {
		if entry.Get("contentType").String() != contentTypeText {
			continue
		}
		text := entry.Get("content").String()
		if strings.Contains(text, pluginCallMarker) {
			continue
		}
		if len(text) < minContentLength {
			continue
		}
		return text
	}
	return ""
}

func source(resp *capture.Response) capture.ChunkSource {
	if resp.Streaming() {
		return resp.Stream
	}
	return capture.SourceFromChunks(resp.Body)
}
