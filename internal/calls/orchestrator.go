package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"commhub/internal/audit"
	"commhub/internal/sip"
	"commhub/internal/store"
	"commhub/internal/telephony"

	"github.com/google/uuid"
)

const (
	auditService = "opensips-twilio"

	// DefaultGrace is how long terminal sessions stay readable before purge.
	DefaultGrace = 5 * time.Minute

	reasonConcurrencyLimit = "concurrent call limit reached"
)

var (
	ErrSessionNotFound   = errors.New("calls: session not found")
	ErrSessionEnded      = errors.New("calls: session already ended")
	ErrInvalidTransition = errors.New("calls: invalid status transition")
	ErrInvalidRequest    = errors.New("calls: invalid request")
)

// CredentialIssuer is the subset of sip.Issuer the orchestrator needs.
type CredentialIssuer interface {
	Generate(ownerID string) (sip.Credential, error)
}

type Deps struct {
	Issuer    CredentialIssuer
	Registrar sip.Gateway

	// Provider is optional; without it external legs are recorded as provider errors.
	Provider telephony.PSTNProvider
	Audit    audit.Sink
	// Limiter is optional.
	Limiter Limiter
	// Store defaults to an in-memory store.
	Store store.Store[Session]

	Log       *slog.Logger
	Clock     func() time.Time
	AfterFunc func(time.Duration, func())
	Grace     time.Duration
	NewID     func() string
}

// Orchestrator owns the CallSession lifecycle.
type Orchestrator struct {
	issuer    CredentialIssuer
	registrar sip.Gateway
	provider  telephony.PSTNProvider
	audit     audit.Sink
	limiter   Limiter
	sessions  store.Store[Session]

	log       *slog.Logger
	clock     func() time.Time
	afterFunc func(time.Duration, func())
	grace     time.Duration
	newID     func() string
}

func NewOrchestrator(d Deps) (*Orchestrator, error) {
	if d.Issuer == nil {
		return nil, errors.New("calls: credential issuer required")
	}
	if d.Registrar == nil {
		return nil, errors.New("calls: registrar gateway required")
	}
	o := &Orchestrator{
		issuer:    d.Issuer,
		registrar: d.Registrar,
		provider:  d.Provider,
		audit:     d.Audit,
		limiter:   d.Limiter,
		sessions:  d.Store,
		log:       d.Log,
		clock:     d.Clock,
		afterFunc: d.AfterFunc,
		grace:     d.Grace,
		newID:     d.NewID,
	}
	if o.audit == nil {
		o.audit = audit.Discard{}
	}
	if o.sessions == nil {
		o.sessions = store.NewMemory[Session]()
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	o.log = o.log.With("component", "calls")
	if o.clock == nil {
		o.clock = time.Now
	}
	if o.afterFunc == nil {
		o.afterFunc = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	}
	if o.grace <= 0 {
		o.grace = DefaultGrace
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	return o, nil
}

// InitiateCall creates a session and drives it to ringing or failed.
// A registrar failure is reported through the returned session, not the error.
func (o *Orchestrator) InitiateCall(ctx context.Context, req InitiateRequest) (Session, error) {
	if req.OwnerID == "" || req.To == "" {
		return Session{}, fmt.Errorf("%w: owner and destination required", ErrInvalidRequest)
	}

	cred, err := o.issuer.Generate(req.OwnerID)
	if err != nil {
		return Session{}, fmt.Errorf("calls: issue credential: %w", err)
	}

	s := Session{
		ID:                  o.newID(),
		OwnerID:             req.OwnerID,
		From:                req.From,
		To:                  req.To,
		Status:              StatusInitiating,
		UseExternalProvider: req.UseExternalProvider,
		StartedAt:           o.clock().UTC(),
		Credential:          &cred,
	}
	if err := o.sessions.Insert(ctx, s.ID, s); err != nil {
		return Session{}, fmt.Errorf("calls: store session: %w", err)
	}
	log := o.log.With("session_id", s.ID, "owner_id", s.OwnerID)

	if o.limiter != nil {
		ok, err := o.limiter.Acquire(ctx, s.OwnerID)
		switch {
		case err != nil:
			// fail open: the cap is advisory when redis is unreachable
			log.Warn("concurrency limiter unavailable", "err", err)
		case !ok:
			return o.finishInitiate(ctx, s.ID, false, func(cur *Session) {
				o.fail(cur, reasonConcurrencyLimit)
			})
		default:
			s.holdsSlot = true
		}
	}

	var providerCallID, providerErr string
	if req.UseExternalProvider {
		providerCallID, providerErr = o.placeLeg(ctx, s, cred)
		if providerErr != "" {
			log.Warn("pstn leg failed, continuing on sip", "err", providerErr)
		}
	}

	reg, regErr := o.registrar.RegisterUser(ctx, cred.Username, cred.Password, cred.Domain)
	if regErr != nil {
		log.Error("sip registration failed", "err", regErr)
	}

	return o.finishInitiate(ctx, s.ID, s.holdsSlot, func(cur *Session) {
		cur.ProviderCallID = providerCallID
		cur.ProviderError = providerErr
		if regErr != nil {
			o.fail(cur, regErr.Error())
			return
		}
		cur.SIPCallID = reg.URI
		cur.Status = StatusRinging
	})
}

func (o *Orchestrator) placeLeg(ctx context.Context, s Session, cred sip.Credential) (string, string) {
	if o.provider == nil {
		return "", "external provider not configured"
	}
	res, err := o.provider.PlaceLeg(ctx, telephony.LegRequest{
		SessionID: s.ID,
		OwnerID:   s.OwnerID,
		From:      s.From,
		To:        s.To,
		BridgeURI: cred.URI(),
	})
	if err != nil {
		return "", err.Error()
	}
	return res.ProviderCallID, ""
}

func (o *Orchestrator) fail(s *Session, reason string) {
	now := o.clock().UTC()
	s.Status = StatusFailed
	s.EndedAt = &now
	s.FailureReason = reason
}

// finishInitiate applies the initiation outcome unless the session was ended
// concurrently, then runs terminal bookkeeping and records the audit event.
func (o *Orchestrator) finishInitiate(ctx context.Context, id string, acquired bool, apply func(*Session)) (Session, error) {
	var slotToRelease bool
	out, err := o.sessions.Update(ctx, id, func(cur *Session) error {
		if cur.Status.Terminal() {
			slotToRelease = acquired
			return nil
		}
		cur.holdsSlot = acquired
		apply(cur)
		if cur.Status.Terminal() && cur.holdsSlot {
			cur.holdsSlot = false
			slotToRelease = true
		}
		return nil
	})
	if err != nil {
		return Session{}, fmt.Errorf("calls: update session: %w", err)
	}

	if slotToRelease {
		o.releaseSlot(ctx, out.OwnerID)
	}
	if out.Status.Terminal() {
		o.schedulePurge(out.ID)
	}

	st := audit.StatusSuccess
	if out.Status == StatusFailed {
		st = audit.StatusError
	}
	md := map[string]any{
		"session_id": out.ID,
		"status":     string(out.Status),
	}
	if out.Credential != nil {
		md["sip_username"] = out.Credential.Username
		md["sip_domain"] = out.Credential.Domain
	}
	if out.ProviderCallID != "" {
		md["provider_call_id"] = out.ProviderCallID
	}
	if out.ProviderError != "" {
		md["provider_error"] = out.ProviderError
	}
	if out.FailureReason != "" {
		md["failure_reason"] = out.FailureReason
	}
	o.audit.Record(ctx, audit.Record{
		OwnerID:  out.OwnerID,
		Type:     audit.EventCallInitiated,
		Service:  auditService,
		Status:   st,
		Message:  fmt.Sprintf("Call initiated: %s -> %s", out.From, out.To),
		Metadata: md,
	})
	return out, nil
}

func (o *Orchestrator) GetSession(ctx context.Context, id string) (Session, error) {
	s, err := o.sessions.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, ErrSessionNotFound
	}
	return s, err
}

// EndCall completes a live session. Ending a terminal session returns
// ErrSessionEnded and has no side effects.
func (o *Orchestrator) EndCall(ctx context.Context, id string) (Session, error) {
	var slotToRelease bool
	out, err := o.sessions.Update(ctx, id, func(cur *Session) error {
		if cur.Status.Terminal() {
			return ErrSessionEnded
		}
		now := o.clock().UTC()
		cur.Status = StatusCompleted
		cur.EndedAt = &now
		if cur.holdsSlot {
			cur.holdsSlot = false
			slotToRelease = true
		}
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}

	if slotToRelease {
		o.releaseSlot(ctx, out.OwnerID)
	}
	o.schedulePurge(out.ID)

	o.audit.Record(ctx, audit.Record{
		OwnerID: out.OwnerID,
		Type:    audit.EventCallEnded,
		Service: auditService,
		Message: "Call ended: " + out.ID,
		Metadata: map[string]any{
			"session_id": out.ID,
			"duration":   out.DurationSeconds(),
		},
	})
	return out, nil
}

// UpdateStatus moves a session along the lifecycle table.
func (o *Orchestrator) UpdateStatus(ctx context.Context, id string, next Status) (Session, error) {
	if !next.Valid() {
		return Session{}, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}
	return o.transition(ctx, id, next, "", "")
}

func (o *Orchestrator) transition(ctx context.Context, id string, next Status, providerCallID, reason string) (Session, error) {
	var (
		prev          Status
		slotToRelease bool
	)
	out, err := o.sessions.Update(ctx, id, func(cur *Session) error {
		if providerCallID != "" && cur.ProviderCallID != "" && cur.ProviderCallID != providerCallID {
			return fmt.Errorf("%w: provider call id mismatch", ErrInvalidTransition)
		}
		if !CanTransition(cur.Status, next) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, next)
		}
		prev = cur.Status
		if providerCallID != "" {
			cur.ProviderCallID = providerCallID
		}
		cur.Status = next
		if next.Terminal() {
			now := o.clock().UTC()
			cur.EndedAt = &now
			if next == StatusFailed {
				cur.FailureReason = reason
			}
			if cur.holdsSlot {
				cur.holdsSlot = false
				slotToRelease = true
			}
		}
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}

	if slotToRelease {
		o.releaseSlot(ctx, out.OwnerID)
	}
	if out.Status.Terminal() {
		o.schedulePurge(out.ID)
	}
	o.audit.Record(ctx, audit.Record{
		OwnerID: out.OwnerID,
		Type:    audit.EventCallStatus,
		Service: auditService,
		Message: fmt.Sprintf("Call %s: %s -> %s", out.ID, prev, out.Status),
		Metadata: map[string]any{
			"session_id": out.ID,
			"from":       string(prev),
			"to":         string(out.Status),
			"duration":   out.DurationSeconds(),
		},
	})
	return out, nil
}

// providerStatusMap maps Twilio call statuses onto the session lifecycle.
var providerStatusMap = map[string]Status{
	"ringing":     StatusRinging,
	"in-progress": StatusActive,
	"answered":    StatusActive,
	"completed":   StatusCompleted,
	"busy":        StatusFailed,
	"no-answer":   StatusFailed,
	"failed":      StatusFailed,
	"canceled":    StatusFailed,
}

// ApplyProviderStatus applies a PSTN provider status callback. Statuses that
// do not map to an allowed transition are ignored.
func (o *Orchestrator) ApplyProviderStatus(ctx context.Context, id, providerCallID, providerStatus string) error {
	cur, err := o.GetSession(ctx, id)
	if err != nil {
		return err
	}
	next, ok := providerStatusMap[providerStatus]
	if !ok {
		return nil
	}
	// an answered leg that then fails still ends the call
	if next == StatusFailed && cur.Status == StatusActive {
		next = StatusCompleted
	}

	_, err = o.transition(ctx, id, next, providerCallID, "provider: "+providerStatus)
	if errors.Is(err, ErrInvalidTransition) {
		o.log.Debug("provider status ignored", "session_id", id, "provider_status", providerStatus, "err", err)
		return nil
	}
	return err
}

// BridgeTarget is the SIP URI an answered PSTN leg should be connected to.
func (o *Orchestrator) BridgeTarget(ctx context.Context, id string) (string, error) {
	s, err := o.GetSession(ctx, id)
	if err != nil {
		return "", err
	}
	if s.Status.Terminal() {
		return "", ErrSessionEnded
	}
	if s.Credential == nil {
		return "", fmt.Errorf("calls: session %s has no sip credential", id)
	}
	return s.Credential.URI(), nil
}

// ListActiveSessions returns ringing and active sessions, oldest first.
func (o *Orchestrator) ListActiveSessions(ctx context.Context) ([]Session, error) {
	out, err := o.sessions.List(ctx, func(s Session) bool {
		return s.Status == StatusRinging || s.Status == StatusActive
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// HealthCheck never fails; registrar errors show up as status "error".
func (o *Orchestrator) HealthCheck(ctx context.Context) Health {
	active, err := o.ListActiveSessions(ctx)
	if err != nil {
		o.log.Warn("active session count failed", "err", err)
	}

	st, err := o.registrar.Status(ctx)
	if err != nil {
		return Health{RegistrarStatus: "error", ActiveCalls: len(active), Up: false}
	}
	return Health{RegistrarStatus: st.State, ActiveCalls: len(active), Up: st.State == sip.StateRunning}
}

func (o *Orchestrator) releaseSlot(ctx context.Context, ownerID string) {
	if o.limiter == nil {
		return
	}
	if err := o.limiter.Release(ctx, ownerID); err != nil {
		o.log.Warn("concurrency slot release failed", "owner_id", ownerID, "err", err)
	}
}

func (o *Orchestrator) schedulePurge(id string) {
	o.afterFunc(o.grace, func() {
		if err := o.sessions.Delete(context.Background(), id); err != nil && !errors.Is(err, store.ErrNotFound) {
			o.log.Warn("session purge failed", "session_id", id, "err", err)
		}
	})
}
