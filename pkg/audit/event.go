// Package audit keeps a history of hotspot sessions: every state
// transition and every start or stop request, as JSON lines.
package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/davytheprogrammer/hotspot-manager/pkg/hotspot"
	"github.com/davytheprogrammer/hotspot-manager/pkg/util"
)

// Operations recorded in the history.
const (
	OpStart      = "start"
	OpStop       = "stop"
	OpTransition = "transition"
)

// Event is one history entry.
type Event struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Operation string        `json:"operation"`
	SessionID string        `json:"session_id,omitempty"`
	Interface string        `json:"interface,omitempty"`
	SSID      string        `json:"ssid,omitempty"`
	From      string        `json:"from,omitempty"`
	To        string        `json:"to,omitempty"`
	Reason    util.Reason   `json:"reason,omitempty"`
	Message   string        `json:"message,omitempty"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// Filter selects events. Limit keeps the most recent matches.
type Filter struct {
	SessionID   string
	Operation   string
	StartTime   time.Time
	EndTime     time.Time
	FailureOnly bool
	Limit       int
}

// NewEvent creates an event for operation stamped with the current time.
func NewEvent(operation string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Operation: operation,
	}
}

// FromTransition records a session state change. Entering Error counts as
// a failure.
func FromTransition(t hotspot.Transition) *Event {
	e := NewEvent(OpTransition)
	if !t.At.IsZero() {
		e.Timestamp = t.At
	}
	e.SessionID = t.SessionID
	e.From = t.From.String()
	e.To = t.To.String()
	e.Reason = t.To.Reason
	e.Message = t.Message
	e.Success = t.To.State != hotspot.StateError
	return e
}

// WithConfig records the interface and SSID of a start request.
func (e *Event) WithConfig(cfg hotspot.HotspotConfig) *Event {
	e.Interface = cfg.Interface
	e.SSID = cfg.SSID
	return e
}

// WithResult marks the event successful when err is nil, otherwise failed
// with err's reason code.
func (e *Event) WithResult(err error) *Event {
	e.Success = err == nil
	if err != nil {
		e.Error = err.Error()
		e.Reason = util.ReasonOf(err)
	}
	return e
}

// WithDuration sets the operation duration
func (e *Event) WithDuration(d time.Duration) *Event {
	e.Duration = d
	return e
}
