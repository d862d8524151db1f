package stream

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"strings"

	"github.com/lofyer/warp-multiproxy-go/internal/logging"
)

// chunkSize is deliberately small, so partial events are decoded as soon as
// a full SSE frame has arrived instead of waiting on a large internal
// buffer.
const chunkSize = 256

// ErrDone is returned by Reader.Next once the upstream sends "data: [DONE]"
// or the underlying stream is exhausted.
var ErrDone = errors.New("stream: done")

// Reader turns an SSE byte stream into a sequence of decoded ResponseEvents.
type Reader struct {
	src        *bufio.Reader
	buf        []byte
	data       strings.Builder
	eventType  string
	done       bool
}

// NewReader wraps r, the HTTP response body of an upstream streaming call.
func NewReader(r io.Reader) *Reader {
	return &Reader{src: bufio.NewReaderSize(r, chunkSize)}
}

// Next returns the next decoded event, ErrDone when the stream has ended
// cleanly, or any other error on a malformed frame or read failure.
func (r *Reader) Next() (*Event, error) {
	if r.done {
		return nil, ErrDone
	}

	for {
		line, ok, err := r.nextLine()
		if err != nil {
			return nil, err
		}
		if !ok {
			// Underlying stream ended without a trailing blank line; flush
			// whatever data accumulated instead of discarding it.
			r.done = true
			if r.data.Len() == 0 {
				return nil, ErrDone
			}
			return r.flush()
		}

		switch {
		case line == "":
			if r.data.Len() == 0 {
				continue
			}
			ev, err := r.flush()
			if err != nil {
				logging.L().Warn().Err(err).Msg("failed to parse SSE event, skipping")
				continue
			}
			return ev, nil

		case strings.HasPrefix(line, ":"):
			continue

		case strings.HasPrefix(line, "event:"):
			r.eventType = strings.TrimSpace(line[len("event:"):])

		case strings.HasPrefix(line, "data:"):
			d := strings.TrimSpace(line[len("data:"):])
			if d == "[DONE]" {
				r.done = true
				return nil, ErrDone
			}
			r.data.WriteString(d)
		}
	}
}

func (r *Reader) flush() (*Event, error) {
	raw := r.data.String()
	r.data.Reset()
	r.eventType = ""

	if mod := len(raw) % 4; mod != 0 {
		raw += strings.Repeat("=", 4-mod)
	}
	payload, err := base64.URLEncoding.DecodeString(raw)
	if err != nil {
		return nil, err
	}
	return DecodeEvent(payload)
}

// nextLine reads one newline-terminated line, trimmed of surrounding
// whitespace (tolerant of both CRLF and LF). ok is false only at true EOF.
func (r *Reader) nextLine() (string, bool, error) {
	for {
		if idx := bytes.IndexByte(r.buf, '\n'); idx >= 0 {
			line := string(r.buf[:idx])
			r.buf = r.buf[idx+1:]
			return strings.TrimSpace(line), true, nil
		}

		chunk := make([]byte, chunkSize)
		n, err := r.src.Read(chunk)
		if n > 0 {
			r.buf = append(r.buf, chunk[:n]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(r.buf) > 0 {
					line := string(r.buf)
					r.buf = nil
					return strings.TrimSpace(line), true, nil
				}
				return "", false, nil
			}
			return "", false, err
		}
	}
}
