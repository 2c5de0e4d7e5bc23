package tongyi

import (
	"context"
	"strings"
	"testing"

	"github.com/llmlog/llmlog/internal/capture"
)

func sseResponse(records ...string) *capture.Response {
	var b strings.Builder
	for _, r := range records {
		// Per the SSE grammar, every line of a multi-line payload carries
		// its own data prefix.
		for _, line := range strings.Split(r, "\n") {
			b.WriteString("data: ")
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return &capture.Response{
		URL:    "https://qianwen.aliyun.com/dialog/conversation",
		Stream: capture.SourceFromChunks([]byte(b.String())),
	}
}

func TestParseRequestFirstUserContent(t *testing.T) {
	body := `{"contents":[
		{"role":"system","content":"be helpful"},
		{"role":"user","content":"how do goroutines work?"}
	]}`
	got := New().ParseRequest(&capture.Request{Body: []byte(body)})
	if got != "how do goroutines work?" {
		t.Fatalf("expected first user content, got %q", got)
	}
	if New().ParseRequest(&capture.Request{Body: []byte("not json")}) != "" {
		t.Error("malformed request must yield empty prompt")
	}
}

func TestOnlyFinishedRecordContributes(t *testing.T) {
	resp := sseResponse(
		`{"sessionId":"s1","msgStatus":"in_progress","contents":[{"contentType":"text","content":"They are"}]}`,
		`{"sessionId":"s1","msgStatus":"in_progress","contents":[{"contentType":"text","content":"They are lightweight"}]}`,
		`{"sessionId":"s1","msgStatus":"in_progress","contents":[{"contentType":"text","content":"They are lightweight threads"}]}`,
		`{"sessionId":"s1","msgStatus":"finished","contents":[{"contentType":"text","content":"They are lightweight threads managed by the runtime."}]}`,
	)
	got := New().ParseResponse(context.Background(), resp)
	if got.Text != "They are lightweight threads managed by the runtime." {
		t.Fatalf("expected only the finished record's text, got %q", got.Text)
	}
	if got.ConversationID != "s1" {
		t.Errorf("expected session id, got %q", got.ConversationID)
	}
}

func TestLastFinishedRecordWins(t *testing.T) {
	resp := sseResponse(
		`{"msgStatus":"finished","contents":[{"contentType":"text","content":"early final"}]}`,
		`{"msgStatus":"finished","contents":[{"contentType":"text","content":"late final"}]}`,
	)
	got := New().ParseResponse(context.Background(), resp)
	if got.Text != "late final" {
		t.Fatalf("expected last finished record to win, got %q", got.Text)
	}
}

func TestThinkBlockAnswerExtraction(t *testing.T) {
	think := `[
		{"contentType":"plugin","content":"{\"pluginCall\":{\"name\":\"search\"}}"},
		{"contentType":"text","content":"short"},
		{"contentType":"text","content":"the actual embedded answer text"}
	]`
	resp := sseResponse(
		`{"msgStatus":"finished","contents":[{"contentType":"think","content":` + quoteJSON(think) + `}]}`,
	)
	got := New().ParseResponse(context.Background(), resp)
	if got.Text != "the actual embedded answer text" {
		t.Fatalf("expected qualifying think entry verbatim, got %q", got.Text)
	}
}

func TestThinkEntriesWithNoiseContributeNothing(t *testing.T) {
	think := `[
		{"contentType":"text","content":"calling pluginCall now"},
		{"contentType":"text","content":"tiny"}
	]`
	resp := sseResponse(
		`{"msgStatus":"finished","contents":[{"contentType":"think","content":` + quoteJSON(think) + `}]}`,
	)
	got := New().ParseResponse(context.Background(), resp)
	if got.Text != "" {
		t.Fatalf("plugin-marker and below-threshold entries must contribute nothing, got %q", got.Text)
	}
}

func TestPlainTextWinsOverThinkAnswer(t *testing.T) {
	think := `[{"contentType":"text","content":"embedded answer from thinking"}]`
	resp := sseResponse(
		`{"msgStatus":"finished","contents":[
			{"contentType":"think","content":` + quoteJSON(think) + `},
			{"contentType":"text","content":"the direct answer"}
		]}`,
	)
	got := New().ParseResponse(context.Background(), resp)
	if got.Text != "the direct answer" {
		t.Fatalf("expected plain text content to win, got %q", got.Text)
	}
}

func TestMalformedRecordsSkipped(t *testing.T) {
	resp := sseResponse(
		`garbage`,
		`{"msgStatus":"finished","contents":[{"contentType":"text","content":"survives"}]}`,
	)
	got := New().ParseResponse(context.Background(), resp)
	if got.Text != "survives" {
		t.Fatalf("malformed record must not abort reconstruction, got %q", got.Text)
	}
}

// quoteJSON embeds a JSON document as a JSON string value, the way the vendor
// nests a thinking trace inside a content field.
func quoteJSON(doc string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range doc {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
