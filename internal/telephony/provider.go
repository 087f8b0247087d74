package telephony

import (
	"context"
	"errors"
	"time"
)

var ErrProviderFailed = errors.New("telephony: provider request failed")

// PSTNProvider places the external (PSTN) leg of a call.
//
// Rules:
// - No provider HTTP calls outside telephony adapters.
// - Request/response types stay provider-agnostic.
type PSTNProvider interface {
	Name() string
	HealthCheck(ctx context.Context) error
	PlaceLeg(ctx context.Context, req LegRequest) (LegResult, error)
}

// LegRequest asks the provider to dial To and bridge it to the session's SIP identity.
type LegRequest struct {
	SessionID string `json:"session_id"`
	OwnerID   string `json:"owner_id"`

	// From may be a SIP URI; providers substitute their configured caller id.
	From string `json:"from"`
	To   string `json:"to"`

	// BridgeURI is the SIP URI the answered leg is connected to.
	BridgeURI string `json:"bridge_uri"`
}

type LegResult struct {
	ProviderCallID string `json:"provider_call_id"`
	Status         string `json:"status"`
}

// InboundCallRequest represents an inbound call event received from a provider.
type InboundCallRequest struct {
	// ProviderCallID is the provider's unique identifier for this call.
	ProviderCallID string `json:"provider_call_id"`

	// From and To are E.164 where possible.
	From string `json:"from"`
	To   string `json:"to"`

	OccurredAt time.Time `json:"occurred_at"`

	// RawPayload is optional for debugging/audit; store as JSON string.
	RawPayload string `json:"raw_payload,omitempty"`
}

// InboundCallResult is the routing outcome used to drive next steps.
type InboundCallResult struct {
	OwnerID     string `json:"owner_id,omitempty"`
	ExtensionID string `json:"extension_id,omitempty"`

	Action InboundCallAction `json:"action"`

	// ConnectTo is used when Action == "connect".
	ConnectTo string `json:"connect_to,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type InboundCallAction string

const (
	InboundCallActionReject    InboundCallAction = "reject"
	InboundCallActionConnect   InboundCallAction = "connect"
	InboundCallActionHangup    InboundCallAction = "hangup"
	InboundCallActionVoicemail InboundCallAction = "voicemail"
)

// InboundRouter decides what happens to an inbound provider call.
type InboundRouter interface {
	RouteInboundCall(ctx context.Context, req InboundCallRequest) (InboundCallResult, error)
}

// SessionBridge is the call-session side of provider webhooks.
type SessionBridge interface {
	BridgeTarget(ctx context.Context, sessionID string) (string, error)
	ApplyProviderStatus(ctx context.Context, sessionID, providerCallID, providerStatus string) error
}
