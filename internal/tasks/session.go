package tasks

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/desertthunder/upscaler/internal/services"
)

// Status is the lifecycle state of a [Session].
type Status string

const (
	StatusIdle       Status = "idle"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// fallbackProgress is shown when the server abandons ML and resizes with Lanczos.
// The values are a fixed placeholder; the server sends no numbers with the event.
var fallbackProgress = Progress{Step: 1, Total: 3, Percent: 33, Message: "ML failed, using fallback..."}

// Progress is the most recent progress report. Each report replaces the previous one.
type Progress struct {
	Step    int
	Total   int
	Percent float64
	Preview string // base64 encoded intermediate image, if the server sent one
	Message string
}

// Result is the finished upscale delivered by the terminal complete event.
type Result struct {
	Image        string // base64 encoded as sent by the server
	OriginalSize services.Size
	UpscaledSize services.Size
	Method       string
}

// Bytes decodes the result image.
func (r *Result) Bytes() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(r.Image)
	if err != nil {
		return nil, fmt.Errorf("failed to decode result image: %w", err)
	}
	return data, nil
}

// Session is a snapshot of one upscale attempt.
//
// Progress is non-nil only while processing; Result only when complete; Err only on error.
type Session struct {
	ID       string
	Status   Status
	Err      error
	Progress *Progress
	Result   *Result
}

// Active reports whether a request is in flight.
func (s Session) Active() bool { return s.Status == StatusProcessing }

// ErrorMessage returns the user-facing error text, or "" when there is none.
func (s Session) ErrorMessage() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

// clone copies the pointer fields so snapshots never alias controller state.
func (s Session) clone() Session {
	if s.Progress != nil {
		p := *s.Progress
		s.Progress = &p
	}
	if s.Result != nil {
		r := *s.Result
		s.Result = &r
	}
	return s
}

// Cleared returns the idle session with nothing set.
func Cleared() Session {
	return Session{Status: StatusIdle}
}

// Started returns a fresh processing session for a new request.
func Started(id string) Session {
	return Session{ID: id, Status: StatusProcessing}
}

// Apply returns s advanced by ev. Events received outside processing and unknown types leave s unchanged.
func Apply(s Session, ev services.Event) Session {
	if s.Status != StatusProcessing {
		return s
	}

	switch ev.Type {
	case services.EventStart:
		s.Progress = &Progress{Step: 0, Total: 100, Percent: 0}
	case services.EventProgress:
		s.Progress = &Progress{
			Step:    ev.Step,
			Total:   ev.Total,
			Percent: ev.Percent,
			Preview: ev.Preview,
			Message: ev.Message,
		}
	case services.EventFallback:
		p := fallbackProgress
		s.Progress = &p
	case services.EventComplete:
		s.Status = StatusComplete
		s.Progress = nil
		s.Err = nil
		s.Result = &Result{
			Image:        ev.Image,
			OriginalSize: ev.OriginalSize,
			UpscaledSize: ev.UpscaledSize,
			Method:       ev.Method,
		}
	case services.EventError:
		msg := ev.Error
		if msg == "" {
			msg = "upscale failed"
		}
		s = Fail(s, errors.New(msg))
	}

	return s
}

// Fail moves s to the error state with err. Progress is cleared and any result dropped.
func Fail(s Session, err error) Session {
	s.Status = StatusError
	s.Err = err
	s.Progress = nil
	s.Result = nil
	return s
}

// Idle moves s to idle, as after a cancel. A cancelled request leaves no progress or error behind.
func Idle(s Session) Session {
	s.Status = StatusIdle
	s.Progress = nil
	s.Err = nil
	return s
}
