// Package sse decodes Server-Sent-Events style byte streams into the raw
// payloads of their data fields. It only extracts; classifying a payload as
// JSON or a plain token is the caller's job.
package sse

import (
	"bytes"
	"context"
	"strings"

	"github.com/llmlog/llmlog/internal/capture"
)

// DoneSentinel is the payload some vendors emit as the final record of a
// stream instead of closing the transport.
const DoneSentinel = "[DONE]"

var (
	recordSep     = []byte("\n\n")
	recordSepCRLF = []byte("\r\n\r\n")
	dataPrefix    = "data:"
)

// Scanner pulls data payloads out of a chunked byte stream. Bytes are
// accumulated across chunk boundaries before any record is converted to text,
// so multi-byte characters split across reads are reassembled intact.
//
// Usage mirrors bufio.Scanner:
//
//	sc := sse.NewScanner(ctx, src)
//	for sc.Scan() {
//	    payload := sc.Data()
//	}
//	if err := sc.Err(); err != nil { ... }
type Scanner struct {
	ctx     context.Context
	src     capture.ChunkSource
	buf     []byte
	pending []string
	data    string
	done    bool
	err     error
}

// NewScanner returns a Scanner reading from src. The context bounds every
// blocking read; cancellation ends the scan with ctx.Err() as the error and
// whatever was already decoded remains available to the caller.
func NewScanner(ctx context.Context, src capture.ChunkSource) *Scanner {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Scanner{ctx: ctx, src: src}
}

// Scan advances to the next data payload. It returns false when the source is
// exhausted, a DoneSentinel record is seen, or an error occurs.
func (s *Scanner) Scan() bool {
	for {
		if len(s.pending) > 0 {
			payload := s.pending[0]
			s.pending = s.pending[1:]
			if payload == DoneSentinel {
				s.done = true
				s.pending = nil
				return false
			}
			s.data = payload
			return true
		}
		if s.done {
			return false
		}
		if err := s.ctx.Err(); err != nil {
			s.err = err
			s.done = true
			return false
		}
		chunk, done, err := s.src.Read()
		if len(chunk) > 0 {
			s.buf = append(s.buf, chunk...)
			s.splitRecords(false)
		}
		if err != nil {
			// Serve records decoded before the failure, then stop.
			s.err = err
			s.done = true
			continue
		}
		if done {
			s.splitRecords(true)
			s.done = true
		}
	}
}

// Data returns the payload extracted by the last successful Scan.
func (s *Scanner) Data() string { return s.data }

// Err returns the first error encountered while reading the source, or nil
// when the stream ended normally.
func (s *Scanner) Err() error { return s.err }

// splitRecords carves complete records off the front of the buffer and queues
// their data payloads. With flush set, the remaining tail is treated as a
// final record (a stream that closes without a trailing blank line).
func (s *Scanner) splitRecords(flush bool) {
	for {
		idx, sepLen := nextRecordSep(s.buf)
		if idx < 0 {
			break
		}
		record := s.buf[:idx]
		s.buf = s.buf[idx+sepLen:]
		s.extractData(record)
	}
	if flush && len(s.buf) > 0 {
		s.extractData(s.buf)
		s.buf = nil
	}
}

// extractData pulls the data field values out of one record. Per the SSE
// grammar, multiple data lines in a record join with a newline.
func (s *Scanner) extractData(record []byte) {
	var parts []string
	for _, line := range strings.Split(string(record), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		parts = append(parts, strings.TrimSpace(line[len(dataPrefix):]))
	}
	if len(parts) == 0 {
		return
	}
	s.pending = append(s.pending, strings.Join(parts, "\n"))
}

func nextRecordSep(buf []byte) (idx, sepLen int) {
	lf := bytes.Index(buf, recordSep)
	crlf := bytes.Index(buf, recordSepCRLF)
	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return crlf, len(recordSepCRLF)
	case lf >= 0:
		return lf, len(recordSep)
	}
	return -1, 0
}
