// Package adapter defines the interface every vendor adapter implements and
// the registry the ingest path uses to route a captured network event to the
// adapter that understands its endpoint. Vendor quirks live entirely inside
// each vendor package; adapters share no mutable state.
package adapter

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/llmlog/llmlog/internal/capture"
)

// Result is the normalized outcome of parsing a captured response.
type Result struct {
	// Text is the reconstructed assistant reply, empty on parse failure.
	Text string

	// Prompt is set only by adapters that recover the user prompt from the
	// response document itself (the request carries no prompt for them).
	Prompt string

	// ConversationID is the vendor-assigned conversation identifier, empty
	// when no record carried one.
	ConversationID string
}

// Adapter parses one vendor's request/response wire formats.
type Adapter interface {
	// Platform returns the vendor tag stored on captured records.
	Platform() string

	// MatchEndpoint reports whether the adapter handles the given URL.
	MatchEndpoint(url string) bool

	// ParseRequest extracts the user prompt from a captured request. It
	// returns an empty string on any structural mismatch or parse failure.
	ParseRequest(req *capture.Request) string

	// ParseResponse reconstructs the assistant reply from a captured
	// response, draining a streamed body when the vendor streams. Failures
	// are recovered locally and yield a zero Result.
	ParseResponse(ctx context.Context, resp *capture.Response) Result
}

// Registry routes captured events to adapters by endpoint.
type Registry struct {
	adapters []Adapter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds an adapter. Registration order is match order.
func (r *Registry) Register(a Adapter) {
	log.Debugf("registering %s adapter", a.Platform())
	r.adapters = append(r.adapters, a)
}

// Match returns the first adapter whose endpoint matcher accepts url.
func (r *Registry) Match(url string) (Adapter, bool) {
	for _, a := range r.adapters {
		if a.MatchEndpoint(url) {
			return a, true
		}
	}
	return nil, false
}

// Platforms lists the registered vendor tags in registration order.
func (r *Registry) Platforms() []string {
	out := make([]string, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a.Platform())
	}
	return out
}
