package stream

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// SSEDecoder splits a server-sent-event body into data payloads. It reads
// line by line so a frame boundary falling mid-frame across two physical
// reads is buffered and resumed, never dropped. Empty frames are discarded.
type SSEDecoder struct {
	r *bufio.Reader
}

// NewSSEDecoder wraps a chunked response body.
func NewSSEDecoder(r io.Reader) *SSEDecoder {
	return &SSEDecoder{r: bufio.NewReader(r)}
}

// Next returns the data payload of the next non-empty frame. Multiple data
// lines within one frame are joined with a newline, as the SSE format
// prescribes.
// io.EOF signals a cleanly finished body; any other error is a transport
// failure mid-stream.
func (d *SSEDecoder) Next() (string, error) {
	var data []string
	for {
		line, err := d.r.ReadBytes('\n')
		if err != nil {
			if err == io.EOF && len(bytes.TrimSpace(line)) == 0 && len(data) == 0 {
				return "", io.EOF
			}
			if err == io.EOF {
				// Body ended without the closing blank line; flush what we have.
				if field, ok := dataField(string(line)); ok {
					data = append(data, field)
				}
				if len(data) > 0 {
					return strings.Join(data, "\n"), nil
				}
				return "", io.EOF
			}
			return "", err
		}

		trimmed := strings.TrimRight(string(line), "\r\n")
		if trimmed == "" {
			if len(data) == 0 {
				continue // empty frame
			}
			return strings.Join(data, "\n"), nil
		}
		if strings.HasPrefix(trimmed, ":") {
			continue // comment / keep-alive
		}
		if field, ok := dataField(trimmed); ok {
			data = append(data, field)
		}
		// Other fields (event:, id:, retry:) carry no payload for us.
	}
}

func dataField(line string) (string, bool) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	return strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "), true
}
