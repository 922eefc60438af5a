package stream

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/unipath/unipath/realtime/internal/model/event"
)

// doneSentinel terminates an assistant stream, mirroring the common
// `data: [DONE]` convention.
const doneSentinel = "[DONE]"

// responseChunk is the loosely-typed frame shape assistant backends emit.
// Plain-text frames that fail to parse as JSON are treated as raw deltas.
type responseChunk struct {
	Delta string `json:"delta"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

// ResponseReader decodes an assistant SSE body into typed response events.
// The sequence is finite per connection: after ResponseDone, ResponseError
// or ConnectionLost, Next returns io.EOF. Retry policy belongs to the
// caller; the reader never reopens the body.
type ResponseReader struct {
	dec      *SSEDecoder
	finished bool
}

// NewResponseReader wraps a chunked assistant response body.
func NewResponseReader(r io.Reader) *ResponseReader {
	return &ResponseReader{dec: NewSSEDecoder(r)}
}

// Next returns the next typed event from the stream.
func (r *ResponseReader) Next() (event.Event, error) {
	if r.finished {
		return event.Event{}, io.EOF
	}

	for {
		payload, err := r.dec.Next()
		if err == io.EOF {
			// Upstream closed without a terminal marker.
			r.finished = true
			return event.Event{Kind: event.ConnectionLost}, nil
		}
		if err != nil {
			r.finished = true
			return event.Event{Kind: event.ConnectionLost, Reason: err.Error()}, nil
		}

		if strings.TrimSpace(payload) == doneSentinel {
			r.finished = true
			return event.Event{Kind: event.ResponseDone}, nil
		}

		var chunk responseChunk
		if jsonErr := json.Unmarshal([]byte(payload), &chunk); jsonErr != nil {
			// Raw text frame.
			return event.Event{Kind: event.ResponseDelta, Delta: payload}, nil
		}
		if chunk.Error != "" {
			r.finished = true
			return event.Event{Kind: event.ResponseError, Reason: chunk.Error}, nil
		}
		if chunk.Done {
			r.finished = true
			return event.Event{Kind: event.ResponseDone}, nil
		}
		if chunk.Delta == "" {
			continue // nothing useful in this frame
		}
		return event.Event{Kind: event.ResponseDelta, Delta: chunk.Delta}, nil
	}
}
