package routing

import (
	"context"
	"errors"
	"time"

	"commhub/internal/audit"
	"commhub/internal/extensions"
	"commhub/internal/telephony"
)

const auditService = "voip-routing"

// Directory resolves a dialed number to an extension.
type Directory interface {
	FindByNumber(ctx context.Context, number string) (extensions.Extension, error)
}

// RoutingEngine decides what happens to an inbound call.
//
// Priority:
//  1. Admin override
//  2. Extension lookup by dialed number
//  3. Call forwarding
//  4. Extension status (active connects to its SIP URI)
//  5. Voicemail
//
// Route has no side effects beyond the override audit.
type RoutingEngine struct {
	Overrides  *AdminOverrideEngine
	Extensions Directory
	Now        func() time.Time
}

func NewRoutingEngine(dir Directory, overrides *AdminOverrideEngine) *RoutingEngine {
	return &RoutingEngine{Overrides: overrides, Extensions: dir, Now: time.Now}
}

func (e *RoutingEngine) Route(ctx context.Context, req telephony.InboundCallRequest) (Decision, error) {
	if req.To == "" {
		return Decision{Action: ActionReject, Reason: "dialed_number_required"}, nil
	}

	if e.Overrides != nil {
		d, applied, err := e.Overrides.Decide(ctx, req)
		if err != nil {
			return Decision{}, err
		}
		if applied {
			return d, nil
		}
	}

	if e.Extensions == nil {
		return Decision{}, errors.New("routing: extension directory not configured")
	}
	ext, err := e.Extensions.FindByNumber(ctx, req.To)
	if errors.Is(err, extensions.ErrExtensionNotFound) {
		return Decision{Action: ActionReject, Reason: "unknown_extension"}, nil
	}
	if err != nil {
		return Decision{}, err
	}

	d := Decision{OwnerID: ext.OwnerID, ExtensionID: ext.ID}
	switch {
	case ext.ForwardingEnabled && ext.ForwardingNumber != "":
		d.Action, d.ConnectTo, d.Reason = ActionConnect, ext.ForwardingNumber, "forwarded"
	case ext.Status == extensions.StatusActive:
		d.Action, d.ConnectTo, d.Reason = ActionConnect, ext.SIPURI(), "extension"
	case ext.VoicemailEnabled:
		d.Action, d.Reason = ActionVoicemail, "extension_"+string(ext.Status)
	default:
		d.Action, d.Reason = ActionReject, "extension_unavailable"
	}
	return d, nil
}

// NewEngineAdapter exposes a RoutingEngine through the provider-facing
// telephony.InboundRouter contract so webhook handlers stay free of business
// rules.
func NewEngineAdapter(engine *RoutingEngine, sink audit.Sink) telephony.InboundRouter {
	if sink == nil {
		sink = audit.Discard{}
	}
	return engineAdapter{engine: engine, audit: sink}
}

type engineAdapter struct {
	engine *RoutingEngine
	audit  audit.Sink
}

func (a engineAdapter) RouteInboundCall(ctx context.Context, req telephony.InboundCallRequest) (telephony.InboundCallResult, error) {
	if a.engine == nil {
		return telephony.InboundCallResult{}, errors.New("routing: engine is nil")
	}
	d, err := a.engine.Route(ctx, req)
	if err != nil {
		return telephony.InboundCallResult{}, err
	}

	res := telephony.InboundCallResult{OwnerID: d.OwnerID, ExtensionID: d.ExtensionID, Reason: d.Reason}
	switch d.Action {
	case ActionReject:
		res.Action = telephony.InboundCallActionReject
	case ActionHangup:
		res.Action = telephony.InboundCallActionHangup
	case ActionVoicemail:
		res.Action = telephony.InboundCallActionVoicemail
	case ActionConnect:
		res.Action = telephony.InboundCallActionConnect
		res.ConnectTo = d.ConnectTo
	default:
		return telephony.InboundCallResult{}, errors.New("routing: unknown decision action")
	}

	if d.OwnerID != "" {
		a.audit.Record(ctx, audit.Record{
			OwnerID: d.OwnerID,
			Type:    audit.EventInboundCallRouted,
			Service: auditService,
			Message: "Inbound call " + req.From + " -> " + req.To + ": " + string(d.Action),
			Metadata: map[string]any{
				"provider_call_id": req.ProviderCallID,
				"extension_id":     d.ExtensionID,
				"action":           string(d.Action),
			},
		})
	}
	return res, nil
}
