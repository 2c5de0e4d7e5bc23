// Package capture defines the boundary objects handed to vendor adapters by
// the host that intercepts network traffic. The host delivers already-fetched
// request and response bodies; this package never performs network I/O itself.
package capture

import "bytes"

// ChunkSource produces the body of a streamed response one chunk at a time.
// Read blocks until the next chunk is available; done reports that the stream
// is exhausted. A chunk may end in the middle of a multi-byte character.
type ChunkSource interface {
	Read() (chunk []byte, done bool, err error)
}

// Request is a captured outbound request.
type Request struct {
	URL  string
	Body []byte
}

// Clone returns an independently readable copy of the request.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	return &Request{URL: r.URL, Body: bytes.Clone(r.Body)}
}

// Response is a captured response. Exactly one of Body and Stream is set:
// Body for fully buffered responses, Stream for incrementally delivered ones.
type Response struct {
	URL    string
	Body   []byte
	Stream ChunkSource
}

// Streaming reports whether the response body arrives as chunks.
func (r *Response) Streaming() bool {
	return r != nil && r.Stream != nil
}

// Clone returns an independently readable copy of a buffered response.
// A streaming body is single-reader; its Stream is carried over as-is.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	return &Response{URL: r.URL, Body: bytes.Clone(r.Body), Stream: r.Stream}
}

// chunkSource replays a fixed set of chunks, used when the host hands over a
// body it has already buffered but the adapter expects a stream.
type chunkSource struct {
	chunks [][]byte
	pos    int
}

func (c *chunkSource) Read() ([]byte, bool, error) {
	if c.pos >= len(c.chunks) {
		return nil, true, nil
	}
	chunk := c.chunks[c.pos]
	c.pos++
	return chunk, false, nil
}

// SourceFromChunks wraps pre-buffered chunks in a ChunkSource.
func SourceFromChunks(chunks ...[]byte) ChunkSource {
	cloned := make([][]byte, 0, len(chunks))
	for _, chunk := range chunks {
		cloned = append(cloned, bytes.Clone(chunk))
	}
	return &chunkSource{chunks: cloned}
}
