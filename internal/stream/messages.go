package stream

import (
	"time"

	"github.com/lexiqai/interview-gateway/internal/calls"
	"github.com/lexiqai/interview-gateway/internal/interview"
)

// Inbound event names
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
)

// Outbound event names
const (
	EventSession = "session"
	EventClear   = "clear"
	EventError   = "error"
)

// Message is one frame on the media socket, in either direction
type Message struct {
	Event     string        `json:"event"`
	StreamSid string        `json:"streamSid,omitempty"`
	Start     *Start        `json:"start,omitempty"`
	Media     *Media        `json:"media,omitempty"`
	Session   *SessionEvent `json:"session,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Start opens an interview on a registered call
type Start struct {
	StreamSid string          `json:"streamSid"`
	CallID    string          `json:"call_id"`
	Interview calls.Interview `json:"interview"`
}

// Media carries base64 μ-law 8kHz audio
type Media struct {
	Track   string `json:"track,omitempty"`
	Chunk   string `json:"chunk,omitempty"`
	Payload string `json:"payload,omitempty"`
}

// data returns whichever payload field the client filled
func (m *Media) data() string {
	if m.Payload != "" {
		return m.Payload
	}
	return m.Chunk
}

// SessionEvent is the wire form of an interview.Event
type SessionEvent struct {
	Kind      string  `json:"kind"`
	SessionID string  `json:"session_id"`
	Index     int     `json:"index"`
	Text      string  `json:"text,omitempty"`
	Role      string  `json:"role,omitempty"`
	Reason    string  `json:"reason,omitempty"`
	Error     string  `json:"error,omitempty"`
	ElapsedMs int64   `json:"elapsed_ms"`
	Progress  float64 `json:"progress"`
}

func newSessionEvent(e interview.Event) *SessionEvent {
	out := &SessionEvent{
		Kind:      string(e.Kind),
		SessionID: e.SessionID,
		Index:     e.Index,
		Text:      e.Text,
		Reason:    string(e.Reason),
		ElapsedMs: int64(e.Elapsed / time.Millisecond),
		Progress:  e.Progress,
	}
	if e.Entry != nil {
		out.Role = string(e.Entry.Role)
	}
	if e.Err != nil {
		out.Error = e.Err.Error()
	}
	return out
}
