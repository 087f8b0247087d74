package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - Type and Service are required.
// - Audit is best-effort; callers never block a call flow on audit failures.
type Event struct {
	ID      string `json:"id" db:"id"`
	OwnerID string `json:"owner_id" db:"owner_id"`

	Type    EventType `json:"event_type" db:"event_type"`
	Service string    `json:"service" db:"service"`
	Status  Status    `json:"status" db:"status"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventCallInitiated EventType = "voip_call_initiated"
	EventCallEnded     EventType = "voip_call_ended"
	EventCallStatus    EventType = "voip_call_status_changed"

	EventExtensionCreated EventType = "voip_extension_created"
	EventExtensionUpdated EventType = "voip_extension_updated"
	EventExtensionDeleted EventType = "voip_extension_deleted"

	EventRecurringCreated  EventType = "recurring_call_created"
	EventRecurringUpdated  EventType = "recurring_call_updated"
	EventRecurringDeleted  EventType = "recurring_call_deleted"
	EventRecurringExecuted EventType = "recurring_call_executed"
	EventRecurringFailed   EventType = "recurring_call_failed"
	EventRecurringOrphaned EventType = "recurring_call_orphaned"

	EventRegistrarStarted     EventType = "opensips_started"
	EventRegistrarStartFailed EventType = "opensips_start_failed"
	EventRegistrarStopped     EventType = "opensips_stopped"
	EventSIPUserRegistered    EventType = "sip_user_registered"

	EventRoutingOverrideApplied EventType = "routing_override_applied"
	EventInboundCallRouted      EventType = "inbound_call_routed"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusWarning Status = "warning"
)

// SystemOwner is recorded when an event has no owning user.
const SystemOwner = "system"

// Record is the caller-facing shape handed to a Sink.
type Record struct {
	OwnerID  string
	Type     EventType
	Service  string
	Message  string
	Status   Status
	Metadata map[string]any
	// At is when the event happened; zero means when it is stored.
	At time.Time
}
