// Server-sent event decoding for POST /upscale/stream
package services

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrMalformedEvent marks a single undecodable event. The stream remains readable.
var ErrMalformedEvent = errors.New("malformed event")

// EventType is the "type" discriminator of a stream event.
type EventType string

const (
	EventStart    EventType = "start"
	EventProgress EventType = "progress"
	EventFallback EventType = "fallback"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Terminal reports whether the event ends the stream's upscale.
func (t EventType) Terminal() bool {
	return t == EventComplete || t == EventError
}

// Event is one decoded `data: {...}` message. Fields are populated according to Type.
type Event struct {
	Type EventType `json:"type"`

	// progress
	Step    int     `json:"step,omitempty"`
	Total   int     `json:"total,omitempty"`
	Percent float64 `json:"percent,omitempty"`
	Preview string  `json:"preview,omitempty"`
	Message string  `json:"message,omitempty"`

	// fallback
	Reason string `json:"reason,omitempty"`

	// start, complete
	OriginalSize Size   `json:"original_size"`
	UpscaledSize Size   `json:"upscaled_size"`
	Image        string `json:"image,omitempty"`
	Method       string `json:"method,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}

// EventDecoder extracts `data:` payloads from a text/event-stream body.
//
// Bytes are consumed incrementally; a line split across reads is held in the
// buffered reader until its terminating newline arrives, and is never returned
// if the body ends first.
type EventDecoder struct {
	r   *bufio.Reader
	err error
}

// NewEventDecoder wraps r.
func NewEventDecoder(r io.Reader) *EventDecoder {
	return &EventDecoder{r: bufio.NewReader(r)}
}

// Next returns the payload of the next data line, or the read error (io.EOF at end of stream).
//
// Comment, event, id and retry fields and blank lines are skipped.
func (d *EventDecoder) Next() (string, error) {
	for {
		if d.err != nil {
			return "", d.err
		}

		line, err := d.r.ReadString('\n')
		if err != nil {
			// A line cut off by the end of the body is a truncated event and is dropped.
			d.err = err
			continue
		}

		line = strings.TrimRight(line, "\r\n")
		if payload, ok := strings.CutPrefix(line, "data:"); ok {
			return strings.TrimPrefix(payload, " "), nil
		}
	}
}

// EventStream reads typed [Event] values from an open streaming response.
type EventStream struct {
	body io.ReadCloser
	dec  *EventDecoder
}

// NewEventStream takes ownership of body.
func NewEventStream(body io.ReadCloser) *EventStream {
	return &EventStream{body: body, dec: NewEventDecoder(body)}
}

// Next blocks until the next event arrives.
//
// An undecodable payload yields an error wrapping [ErrMalformedEvent]; callers may keep reading.
// End of stream is reported as io.EOF.
func (s *EventStream) Next() (Event, error) {
	payload, err := s.dec.Next()
	if err != nil {
		return Event{}, err
	}

	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}

	return ev, nil
}

// Close releases the underlying response body.
func (s *EventStream) Close() error {
	return s.body.Close()
}
