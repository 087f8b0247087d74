package extensions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"commhub/internal/audit"
	"commhub/internal/calls"
	"commhub/internal/sip"
	"commhub/internal/store"

	"github.com/google/uuid"
)

const auditService = "voip-extensions"

var (
	ErrExtensionNotFound = errors.New("extensions: extension not found")
	ErrDuplicateNumber   = errors.New("extensions: extension number already in use")
	ErrInvalidArgument   = errors.New("extensions: invalid argument")
)

// Registrar is the part of sip.Gateway used to provision extension credentials.
type Registrar interface {
	RegisterUser(ctx context.Context, username, password, domain string) (sip.Registration, error)
}

// CallPlacer starts call sessions; satisfied by *calls.Orchestrator.
type CallPlacer interface {
	InitiateCall(ctx context.Context, req calls.InitiateRequest) (calls.Session, error)
}

type Deps struct {
	Issuer    calls.CredentialIssuer
	Registrar Registrar
	Calls     CallPlacer
	Audit     audit.Sink
	Store     store.Store[Extension]
	Log       *slog.Logger
	Clock     func() time.Time
	NewID     func() string
}

// Manager owns extension identity. Numbers are unique across all owners.
type Manager struct {
	issuer    calls.CredentialIssuer
	registrar Registrar
	calls     CallPlacer
	audit     audit.Sink
	exts      store.Store[Extension]
	log       *slog.Logger
	clock     func() time.Time
	newID     func() string

	mu sync.Mutex
	// numbers maps extension number to extension id; "" marks a reservation in flight.
	numbers map[string]string
}

func NewManager(d Deps) (*Manager, error) {
	if d.Issuer == nil || d.Registrar == nil || d.Calls == nil {
		return nil, errors.New("extensions: issuer, registrar and call placer are required")
	}
	m := &Manager{
		issuer:    d.Issuer,
		registrar: d.Registrar,
		calls:     d.Calls,
		audit:     d.Audit,
		exts:      d.Store,
		log:       d.Log,
		clock:     d.Clock,
		newID:     d.NewID,
		numbers:   map[string]string{},
	}
	if m.audit == nil {
		m.audit = audit.Discard{}
	}
	if m.exts == nil {
		m.exts = store.NewMemory[Extension]()
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	m.log = m.log.With("component", "extensions")
	if m.clock == nil {
		m.clock = time.Now
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	return m, nil
}

// CreateExtension issues a credential, registers it and stores the extension.
// A registrar failure leaves nothing behind and frees the number.
func (m *Manager) CreateExtension(ctx context.Context, ownerID, number, displayName string) (Extension, error) {
	ownerID = strings.TrimSpace(ownerID)
	number = strings.TrimSpace(number)
	displayName = strings.TrimSpace(displayName)
	if ownerID == "" || number == "" || displayName == "" {
		return Extension{}, fmt.Errorf("%w: owner, number and display name are required", ErrInvalidArgument)
	}

	if err := m.reserve(number); err != nil {
		return Extension{}, err
	}
	committed := false
	defer func() {
		if !committed {
			m.unreserve(number)
		}
	}()

	cred, err := m.issuer.Generate(ownerID)
	if err != nil {
		return Extension{}, fmt.Errorf("extensions: issue credential: %w", err)
	}
	if _, err := m.registrar.RegisterUser(ctx, cred.Username, cred.Password, cred.Domain); err != nil {
		m.log.Error("extension registration failed", "owner_id", ownerID, "number", number, "err", err)
		if errors.Is(err, sip.ErrRegistrationFailed) {
			return Extension{}, err
		}
		return Extension{}, fmt.Errorf("%w: %v", sip.ErrRegistrationFailed, err)
	}

	ext := Extension{
		ID:               m.newID(),
		OwnerID:          ownerID,
		Number:           number,
		DisplayName:      displayName,
		Credential:       cred,
		Status:           StatusActive,
		VoicemailEnabled: true,
		CreatedAt:        m.clock().UTC(),
	}
	if err := m.exts.Insert(ctx, ext.ID, ext); err != nil {
		return Extension{}, fmt.Errorf("extensions: store: %w", err)
	}

	m.mu.Lock()
	m.numbers[number] = ext.ID
	m.mu.Unlock()
	committed = true

	m.audit.Record(ctx, audit.Record{
		OwnerID: ownerID,
		Type:    audit.EventExtensionCreated,
		Service: auditService,
		Message: fmt.Sprintf("Extension %s created for %s", number, displayName),
		Metadata: map[string]any{
			"extension_id":     ext.ID,
			"extension_number": number,
			"sip_username":     cred.Username,
		},
	})
	return ext, nil
}

func (m *Manager) reserve(number string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.numbers[number]; taken {
		return fmt.Errorf("%w: %s", ErrDuplicateNumber, number)
	}
	m.numbers[number] = ""
	return nil
}

func (m *Manager) unreserve(number string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.numbers, number)
}

func (m *Manager) GetExtension(ctx context.Context, id string) (Extension, error) {
	ext, err := m.exts.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return Extension{}, ErrExtensionNotFound
	}
	return ext, err
}

// FindByNumber resolves an extension by its number.
func (m *Manager) FindByNumber(ctx context.Context, number string) (Extension, error) {
	m.mu.Lock()
	id := m.numbers[strings.TrimSpace(number)]
	m.mu.Unlock()
	if id == "" {
		return Extension{}, ErrExtensionNotFound
	}
	return m.GetExtension(ctx, id)
}

func (m *Manager) ListExtensionsForOwner(ctx context.Context, ownerID string) ([]Extension, error) {
	return m.exts.List(ctx, func(e Extension) bool { return e.OwnerID == ownerID })
}

func (m *Manager) ListAllExtensions(ctx context.Context) ([]Extension, error) {
	return m.exts.List(ctx, nil)
}

func (m *Manager) UpdateExtension(ctx context.Context, id string, u Update) (Extension, error) {
	if u.Status != nil && !u.Status.Valid() {
		return Extension{}, fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, *u.Status)
	}
	if u.DisplayName != nil && strings.TrimSpace(*u.DisplayName) == "" {
		return Extension{}, fmt.Errorf("%w: display name cannot be empty", ErrInvalidArgument)
	}

	changed := []string{}
	out, err := m.exts.Update(ctx, id, func(e *Extension) error {
		if u.DisplayName != nil {
			e.DisplayName = strings.TrimSpace(*u.DisplayName)
			changed = append(changed, "display_name")
		}
		if u.ForwardingEnabled != nil {
			e.ForwardingEnabled = *u.ForwardingEnabled
			changed = append(changed, "forwarding_enabled")
		}
		if u.ForwardingNumber != nil {
			e.ForwardingNumber = strings.TrimSpace(*u.ForwardingNumber)
			changed = append(changed, "forwarding_number")
		}
		if u.VoicemailEnabled != nil {
			e.VoicemailEnabled = *u.VoicemailEnabled
			changed = append(changed, "voicemail_enabled")
		}
		if u.Status != nil {
			e.Status = *u.Status
			changed = append(changed, "status")
		}
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return Extension{}, ErrExtensionNotFound
	}
	if err != nil {
		return Extension{}, err
	}
	if u.empty() {
		return out, nil
	}

	m.audit.Record(ctx, audit.Record{
		OwnerID: out.OwnerID,
		Type:    audit.EventExtensionUpdated,
		Service: auditService,
		Message: fmt.Sprintf("Extension %s updated", out.Number),
		Metadata: map[string]any{
			"extension_id": out.ID,
			"fields":       changed,
		},
	})
	return out, nil
}

// DeleteExtension removes the extension and frees its number. Sessions and
// schedules that reference it are left alone.
func (m *Manager) DeleteExtension(ctx context.Context, id string) error {
	ext, err := m.GetExtension(ctx, id)
	if err != nil {
		return err
	}
	if err := m.exts.Delete(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrExtensionNotFound
		}
		return err
	}

	m.mu.Lock()
	if m.numbers[ext.Number] == ext.ID {
		delete(m.numbers, ext.Number)
	}
	m.mu.Unlock()

	m.audit.Record(ctx, audit.Record{
		OwnerID:  ext.OwnerID,
		Type:     audit.EventExtensionDeleted,
		Service:  auditService,
		Message:  fmt.Sprintf("Extension %s deleted", ext.Number),
		Metadata: map[string]any{"extension_id": ext.ID},
	})
	return nil
}

// PlaceCallFromExtension starts a call as the extension: from is its SIP URI
// and the session belongs to the extension owner.
func (m *Manager) PlaceCallFromExtension(ctx context.Context, id, to string, useExternalProvider bool) (calls.Session, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return calls.Session{}, fmt.Errorf("%w: destination required", ErrInvalidArgument)
	}
	ext, err := m.GetExtension(ctx, id)
	if err != nil {
		return calls.Session{}, err
	}
	return m.calls.InitiateCall(ctx, calls.InitiateRequest{
		OwnerID:             ext.OwnerID,
		From:                ext.SIPURI(),
		To:                  to,
		UseExternalProvider: useExternalProvider,
	})
}
