package routing

// Decision is the provider-agnostic output of the routing engine.
//
// It must contain only what the provider adapter (e.g. the TwiML builder)
// needs to execute the decision. No provider-specific fields belong here.
type Decision struct {
	OwnerID     string `json:"owner_id,omitempty"`
	ExtensionID string `json:"extension_id,omitempty"`

	Action    Action `json:"action"`
	ConnectTo string `json:"connect_to,omitempty"`

	// Reason is optional and intended for internal logs.
	Reason string `json:"reason,omitempty"`
}

type Action string

const (
	ActionReject    Action = "reject"
	ActionConnect   Action = "connect"
	ActionHangup    Action = "hangup"
	ActionVoicemail Action = "voicemail"
)
