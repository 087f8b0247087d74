package extensions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"commhub/internal/audit"
	"commhub/internal/calls"
	"commhub/internal/sip"
)

type stubIssuer struct {
	mu sync.Mutex
	n  int
}

func (s *stubIssuer) Generate(ownerID string) (sip.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return sip.Credential{Username: fmt.Sprintf("user_%d", s.n), Password: "secret", Domain: "sip.example.com"}, nil
}

type stubRegistrar struct {
	mu    sync.Mutex
	err   error
	users []sip.Credential
}

func (r *stubRegistrar) RegisterUser(ctx context.Context, username, password, domain string) (sip.Registration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return sip.Registration{}, r.err
	}
	r.users = append(r.users, sip.Credential{Username: username, Password: password, Domain: domain})
	return sip.Registration{Username: username, Domain: domain, Registered: true}, nil
}

type stubPlacer struct {
	got []calls.InitiateRequest
}

func (p *stubPlacer) InitiateCall(ctx context.Context, req calls.InitiateRequest) (calls.Session, error) {
	p.got = append(p.got, req)
	return calls.Session{ID: "s1", OwnerID: req.OwnerID, From: req.From, To: req.To, Status: calls.StatusRinging}, nil
}

func newTestManager(t *testing.T) (*Manager, *stubRegistrar, *stubPlacer, *audit.MemoryRepo) {
	t.Helper()
	reg := &stubRegistrar{}
	placer := &stubPlacer{}
	repo := audit.NewMemoryRepo()
	m, err := NewManager(Deps{
		Issuer:    &stubIssuer{},
		Registrar: reg,
		Calls:     placer,
		Audit:     audit.NewService(repo, nil),
		Clock:     func() time.Time { return time.Date(2025, 1, 20, 10, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m, reg, placer, repo
}

func TestCreateExtension_RegistersCredential(t *testing.T) {
	m, reg, _, repo := newTestManager(t)

	ext, err := m.CreateExtension(context.Background(), "u1", "101", "Front Desk")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ext.Status != StatusActive || !ext.VoicemailEnabled || ext.ForwardingEnabled {
		t.Fatalf("unexpected defaults %+v", ext)
	}
	if len(reg.users) != 1 || reg.users[0] != ext.Credential {
		t.Fatalf("registered credential mismatch: %+v vs %+v", reg.users, ext.Credential)
	}
	if ext.SIPURI() != "sip:"+ext.Credential.Username+"@sip.example.com" {
		t.Fatalf("unexpected sip uri %q", ext.SIPURI())
	}
	if n := len(repo.OfType(audit.EventExtensionCreated)); n != 1 {
		t.Fatalf("expected create audit, got %d", n)
	}
}

func TestCreateExtension_RegistrarFailureLeavesNothing(t *testing.T) {
	m, reg, _, repo := newTestManager(t)
	reg.err = errors.New("opensipsctl: exit status 1")
	ctx := context.Background()

	_, err := m.CreateExtension(ctx, "u1", "101", "Front Desk")
	if !errors.Is(err, sip.ErrRegistrationFailed) {
		t.Fatalf("expected ErrRegistrationFailed, got %v", err)
	}
	all, _ := m.ListAllExtensions(ctx)
	if len(all) != 0 {
		t.Fatalf("expected no extension retained, got %+v", all)
	}
	if n := len(repo.Events()); n != 0 {
		t.Fatalf("expected no audit, got %d", n)
	}

	reg.err = nil
	if _, err := m.CreateExtension(ctx, "u1", "101", "Front Desk"); err != nil {
		t.Fatalf("number should be free after failed create: %v", err)
	}
}

func TestCreateExtension_Validation(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.CreateExtension(ctx, "u1", " ", "Desk"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := m.CreateExtension(ctx, "u1", "101", "Desk"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.CreateExtension(ctx, "u2", "101", "Other"); !errors.Is(err, ErrDuplicateNumber) {
		t.Fatalf("expected ErrDuplicateNumber across owners, got %v", err)
	}
}

func TestCreateExtension_ConcurrentSameNumber(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := m.CreateExtension(ctx, fmt.Sprintf("u%d", i), "200", "Desk"); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if created != 1 {
		t.Fatalf("expected exactly one winner, got %d", created)
	}
}

func TestUpdateExtension(t *testing.T) {
	m, _, _, repo := newTestManager(t)
	ctx := context.Background()
	ext, _ := m.CreateExtension(ctx, "u1", "101", "Desk")

	fwd := true
	num := "+15550009999"
	busy := StatusBusy
	out, err := m.UpdateExtension(ctx, ext.ID, Update{ForwardingEnabled: &fwd, ForwardingNumber: &num, Status: &busy})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !out.ForwardingEnabled || out.ForwardingNumber != num || out.Status != StatusBusy {
		t.Fatalf("unexpected update result %+v", out)
	}
	if out.Number != ext.Number || out.Credential != ext.Credential {
		t.Fatalf("number and credential must not change")
	}
	if n := len(repo.OfType(audit.EventExtensionUpdated)); n != 1 {
		t.Fatalf("expected update audit, got %d", n)
	}

	bad := Status("offline")
	if _, err := m.UpdateExtension(ctx, ext.ID, Update{Status: &bad}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := m.UpdateExtension(ctx, "missing", Update{Status: &busy}); !errors.Is(err, ErrExtensionNotFound) {
		t.Fatalf("expected ErrExtensionNotFound, got %v", err)
	}
}

func TestDeleteExtension_FreesNumber(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()
	ext, _ := m.CreateExtension(ctx, "u1", "101", "Desk")

	if err := m.DeleteExtension(ctx, ext.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := m.GetExtension(ctx, ext.ID); !errors.Is(err, ErrExtensionNotFound) {
		t.Fatalf("expected ErrExtensionNotFound, got %v", err)
	}
	if _, err := m.FindByNumber(ctx, "101"); !errors.Is(err, ErrExtensionNotFound) {
		t.Fatalf("expected number lookup to miss, got %v", err)
	}
	if err := m.DeleteExtension(ctx, ext.ID); !errors.Is(err, ErrExtensionNotFound) {
		t.Fatalf("expected ErrExtensionNotFound on second delete, got %v", err)
	}
	if _, err := m.CreateExtension(ctx, "u2", "101", "Desk"); err != nil {
		t.Fatalf("number should be reusable: %v", err)
	}
}

func TestListAndFind(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()
	a, _ := m.CreateExtension(ctx, "u1", "101", "A")
	_, _ = m.CreateExtension(ctx, "u2", "102", "B")
	c, _ := m.CreateExtension(ctx, "u1", "103", "C")

	mine, err := m.ListExtensionsForOwner(ctx, "u1")
	if err != nil || len(mine) != 2 || mine[0].ID != a.ID || mine[1].ID != c.ID {
		t.Fatalf("unexpected owner list %+v %v", mine, err)
	}
	all, _ := m.ListAllExtensions(ctx)
	if len(all) != 3 {
		t.Fatalf("expected 3 extensions, got %d", len(all))
	}
	got, err := m.FindByNumber(ctx, "103")
	if err != nil || got.ID != c.ID {
		t.Fatalf("unexpected lookup %+v %v", got, err)
	}
}

func TestPlaceCallFromExtension(t *testing.T) {
	m, _, placer, _ := newTestManager(t)
	ctx := context.Background()
	ext, _ := m.CreateExtension(ctx, "u1", "101", "Desk")

	s, err := m.PlaceCallFromExtension(ctx, ext.ID, "+15550001000", true)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if len(placer.got) != 1 {
		t.Fatalf("expected one call placed")
	}
	req := placer.got[0]
	if req.OwnerID != "u1" || req.From != ext.SIPURI() || req.To != "+15550001000" || !req.UseExternalProvider {
		t.Fatalf("unexpected request %+v", req)
	}
	if s.From != ext.SIPURI() {
		t.Fatalf("unexpected session %+v", s)
	}

	if _, err := m.PlaceCallFromExtension(ctx, "missing", "+1", false); !errors.Is(err, ErrExtensionNotFound) {
		t.Fatalf("expected ErrExtensionNotFound, got %v", err)
	}
}
