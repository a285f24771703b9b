package responses

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no response exists for a call ID
	ErrNotFound = errors.New("response not found")

	// ErrDuplicate is returned when a response already exists for a call ID
	ErrDuplicate = errors.New("response already exists")
)

// Details is the call detail blob stored with a response
type Details struct {
	Transcript string   `json:"transcript"`
	Questions  []string `json:"questions,omitempty"`
}

// Analytics is the scoring result produced for a finished call
type Analytics map[string]any

// Response is one respondent's record for one call
type Response struct {
	InterviewID    string    `json:"interview_id"`
	CallID         string    `json:"call_id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	IsEnded        bool      `json:"is_ended"`
	IsAnalysed     bool      `json:"is_analysed"`
	Duration       int       `json:"duration"` // seconds
	EndReason      string    `json:"end_reason,omitempty"`
	TabSwitchCount int       `json:"tab_switch_count"`
	Details        Details   `json:"details"`
	Analytics      Analytics `json:"analytics,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewResponse holds the fields known when a call is registered
type NewResponse struct {
	InterviewID string
	CallID      string
	Name        string
	Email       string
}

// Patch is a partial update; nil fields are left unchanged
type Patch struct {
	IsEnded        *bool
	IsAnalysed     *bool
	Duration       *int
	EndReason      *string
	TabSwitchCount *int
	Details        *Details
	Analytics      Analytics
}

// Store persists responses
type Store interface {
	CreateResponse(ctx context.Context, r NewResponse) (Response, error)
	SaveResponse(ctx context.Context, patch Patch, callID string) (Response, error)
	GetResponseByCallID(ctx context.Context, callID string) (Response, error)
	Ping(ctx context.Context) error
	Close()
}

func (p Patch) apply(r *Response) {
	if p.IsEnded != nil {
		r.IsEnded = *p.IsEnded
	}
	if p.IsAnalysed != nil {
		r.IsAnalysed = *p.IsAnalysed
	}
	if p.Duration != nil {
		r.Duration = *p.Duration
	}
	if p.EndReason != nil {
		r.EndReason = *p.EndReason
	}
	if p.TabSwitchCount != nil {
		r.TabSwitchCount = *p.TabSwitchCount
	}
	if p.Details != nil {
		r.Details = *p.Details
	}
	if p.Analytics != nil {
		r.Analytics = p.Analytics
	}
}

// Bool returns a pointer to b, for building patches
func Bool(b bool) *bool { return &b }

// Int returns a pointer to n
func Int(n int) *int { return &n }

// String returns a pointer to s
func String(s string) *string { return &s }
