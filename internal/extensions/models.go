package extensions

import (
	"time"

	"commhub/internal/sip"
)

// Extension is a virtual phone line with its own SIP identity.
// Number and Credential are immutable once created.
type Extension struct {
	ID          string `json:"id"`
	OwnerID     string `json:"owner_id"`
	Number      string `json:"extension_number"`
	DisplayName string `json:"display_name"`

	Credential sip.Credential `json:"sip_credentials"`
	Status     Status         `json:"status"`

	ForwardingEnabled bool   `json:"forwarding_enabled"`
	ForwardingNumber  string `json:"forwarding_number,omitempty"`
	VoicemailEnabled  bool   `json:"voicemail_enabled"`

	CreatedAt time.Time `json:"created_at"`
}

// SIPURI is sip:<username>@<domain> of the extension credential.
func (e Extension) SIPURI() string { return e.Credential.URI() }

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusBusy     Status = "busy"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusBusy:
		return true
	default:
		return false
	}
}

// Update carries the mutable settings of an extension. Nil fields are left alone.
type Update struct {
	DisplayName       *string `json:"display_name,omitempty"`
	ForwardingEnabled *bool   `json:"forwarding_enabled,omitempty"`
	ForwardingNumber  *string `json:"forwarding_number,omitempty"`
	VoicemailEnabled  *bool   `json:"voicemail_enabled,omitempty"`
	Status            *Status `json:"status,omitempty"`
}

func (u Update) empty() bool {
	return u.DisplayName == nil && u.ForwardingEnabled == nil && u.ForwardingNumber == nil &&
		u.VoicemailEnabled == nil && u.Status == nil
}
