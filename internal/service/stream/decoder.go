package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// DefaultMaxFrameSize bounds the bytes a Decoder buffers for one frame.
const DefaultMaxFrameSize = 1 << 20

var (
	frameDelimiter = []byte("\n\n")
	crlf           = []byte("\r\n")
	lf             = []byte("\n")
)

// Decoder turns an arbitrarily chunked SSE byte stream into events.
//
// Network reads never line up with frame boundaries, so any trailing bytes
// without a terminating blank line are carried over to the next Feed call.
// A Decoder serves one stream at a time and is not safe for concurrent use.
//
// A frame that grows past the size limit without a terminating blank line is
// dropped as a DecodeError; bytes up to its end are skipped.
type Decoder struct {
	buf       []byte
	maxFrame  int
	oversized bool
	logger    *zap.Logger
}

// NewDecoder returns an empty decoder. A nil logger discards decode errors.
func NewDecoder(logger *zap.Logger) *Decoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decoder{logger: logger, maxFrame: DefaultMaxFrameSize}
}

// Feed appends chunk to the carry-over buffer and returns the events of every
// frame it completes, in wire order. Malformed frames are logged and dropped.
func (d *Decoder) Feed(chunk []byte) []Event {
	if len(chunk) == 0 {
		return nil
	}

	d.buf = append(d.buf, chunk...)
	if bytes.Contains(d.buf, crlf) {
		d.buf = bytes.ReplaceAll(d.buf, crlf, lf)
	}

	consumed := 0
	if d.oversized {
		i := bytes.Index(d.buf, frameDelimiter)
		if i < 0 {
			d.dropTail()
			return nil
		}
		consumed = i + len(frameDelimiter)
		d.oversized = false
	}

	var events []Event
	for {
		i := bytes.Index(d.buf[consumed:], frameDelimiter)
		if i < 0 {
			break
		}
		block := d.buf[consumed : consumed+i]
		consumed += i + len(frameDelimiter)

		if ev, ok := d.decode(block); ok {
			events = append(events, ev)
		}
	}

	if consumed > 0 {
		d.buf = append(d.buf[:0], d.buf[consumed:]...)
	}

	if len(d.buf) > d.maxFrame {
		err := &DecodeError{Payload: preview(d.buf), Err: ErrFrameTooLarge}
		d.logger.Warn("dropping oversized frame", zap.Error(err), zap.Int("bytes", len(d.buf)))
		d.oversized = true
		d.dropTail()
	}
	return events
}

// dropTail empties the buffer but keeps a trailing line break, which may be
// the first half of the delimiter ending the skipped frame.
func (d *Decoder) dropTail() {
	keep := 0
	if n := len(d.buf); n > 0 && (d.buf[n-1] == '\n' || d.buf[n-1] == '\r') {
		keep = 1
	}
	d.buf = append(d.buf[:0], d.buf[len(d.buf)-keep:]...)
}

func preview(b []byte) string {
	const n = 64
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

// Pending returns the number of buffered bytes that do not form a frame yet.
func (d *Decoder) Pending() int {
	return len(d.buf)
}

// Flush ends the current stream. An incomplete trailing frame is not an event
// and is discarded; the decoder is ready for a new stream afterwards.
func (d *Decoder) Flush() {
	if len(bytes.TrimSpace(d.buf)) > 0 {
		d.logger.Debug("discarding partial frame at end of stream", zap.Int("bytes", len(d.buf)))
	}
	d.buf = d.buf[:0]
	d.oversized = false
}

func (d *Decoder) decode(block []byte) (Event, bool) {
	payload, ok := dataPayload(block)
	if !ok {
		// comment or heartbeat frame
		return Event{}, false
	}

	ev, err := parseFrame(payload)
	if err != nil {
		d.logger.Warn("dropping malformed frame", zap.Error(err))
		return Event{}, false
	}
	return ev, true
}

// dataPayload joins the data lines of a frame. Other SSE fields are ignored.
func dataPayload(block []byte) (string, bool) {
	var parts []string
	for _, line := range strings.Split(string(block), "\n") {
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		value := strings.TrimPrefix(line, "data:")
		parts = append(parts, strings.TrimPrefix(value, " "))
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "\n"), true
}

func parseFrame(payload string) (Event, error) {
	var f frame
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		return Event{}, &DecodeError{Payload: payload, Err: err}
	}

	switch f.Type {
	case frameConnected:
		return Event{Kind: Connected}, nil
	case frameMessage:
		return Event{Kind: Delta, Text: f.Content}, nil
	case frameCompleted:
		return Event{Kind: Completed}, nil
	case frameError:
		reason := f.Error
		if reason == "" {
			reason = "stream error"
		}
		return Event{Kind: Failed, Reason: reason}, nil
	default:
		return Event{}, &DecodeError{Payload: payload, Err: fmt.Errorf("unknown frame type %q", f.Type)}
	}
}
