package calls

import (
	"time"

	"commhub/internal/sip"
)

// Session is one logical call attempt, possibly spanning a SIP leg and a PSTN leg.
//
// Invariants:
// - exactly one Status at any time
// - EndedAt is set iff Status is terminal (completed or failed)
type Session struct {
	ID      string `json:"session_id"`
	OwnerID string `json:"owner_id"`

	ProviderCallID string `json:"provider_call_id,omitempty"`
	SIPCallID      string `json:"sip_call_id,omitempty"`

	From string `json:"from"`
	To   string `json:"to"`

	Status              Status `json:"status"`
	UseExternalProvider bool   `json:"use_external_provider"`

	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	Credential *sip.Credential `json:"sip_credentials,omitempty"`

	// ProviderError records a failed PSTN leg; the session still follows the registrar outcome.
	ProviderError string `json:"provider_error,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`

	// holdsSlot is true while a concurrency slot is held for OwnerID.
	holdsSlot bool
}

// DurationSeconds is floor((end - start) / 1s), or 0 while the session is open.
func (s Session) DurationSeconds() int64 {
	if s.EndedAt == nil {
		return 0
	}
	d := s.EndedAt.Sub(s.StartedAt)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

type Status string

const (
	StatusInitiating Status = "initiating"
	StatusRinging    Status = "ringing"
	StatusActive     Status = "active"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) Valid() bool {
	switch s {
	case StatusInitiating, StatusRinging, StatusActive, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

var transitions = map[Status][]Status{
	StatusInitiating: {StatusRinging, StatusFailed},
	StatusRinging:    {StatusActive, StatusCompleted, StatusFailed},
	StatusActive:     {StatusCompleted},
}

// CanTransition reports whether from -> to is an allowed lifecycle step.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Health aggregates registrar state with the local session count.
type Health struct {
	RegistrarStatus string `json:"opensips_status"`
	ActiveCalls     int    `json:"active_calls"`
	Up              bool   `json:"server_uptime"`
}

// InitiateRequest is the input to InitiateCall.
type InitiateRequest struct {
	OwnerID             string
	From                string
	To                  string
	UseExternalProvider bool
}
