package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"commhub/internal/audit"
	"commhub/internal/auth"
	"commhub/internal/calls"
	"commhub/internal/config"
	"commhub/internal/extensions"
	"commhub/internal/httpapi"
	"commhub/internal/rbac"
	"commhub/internal/reporting"
	"commhub/internal/routing"
	"commhub/internal/schedule"
	"commhub/internal/sip"
	"commhub/internal/telephony"

	"github.com/gin-gonic/gin"
)

// fakeRunner answers registrar commands; failOn maps a first argument to an error.
type fakeRunner struct {
	mu     sync.Mutex
	failOn map[string]error
	calls  [][]string
}

func (r *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string{name}, args...))
	if len(args) > 0 {
		if err := r.failOn[args[0]]; err != nil {
			return "", err
		}
	}
	return "", nil
}

type testServer struct {
	engine *gin.Engine
	auth   *auth.Manager
	audit  *audit.MemoryRepo
	runner *fakeRunner
}

func newTestServer(t *testing.T, devTokens bool) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := audit.NewMemoryRepo()
	sink := audit.NewService(repo, nil)
	runner := &fakeRunner{failOn: map[string]error{}}
	gw := sip.NewProcessGateway(sip.ProcessConfig{CommandTimeout: time.Second}, runner, sink, nil)
	issuer := sip.NewIssuer("sip.example.com")

	orch, err := calls.NewOrchestrator(calls.Deps{
		Issuer:    issuer,
		Registrar: gw,
		Audit:     sink,
		AfterFunc: func(time.Duration, func()) {},
	})
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	exts, err := extensions.NewManager(extensions.Deps{Issuer: issuer, Registrar: gw, Calls: orch, Audit: sink})
	if err != nil {
		t.Fatalf("extensions: %v", err)
	}
	scheds, err := schedule.NewScheduler(schedule.Deps{Extensions: exts, Audit: sink})
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}
	overrides := routing.NewMemoryOverrideStore()
	router := routing.NewEngineAdapter(routing.NewRoutingEngine(exts, routing.NewAdminOverrideEngine(overrides, sink)), sink)

	am, err := auth.NewManager(config.AuthConfig{JWTSecret: "test-secret", AccessTokenTTL: time.Hour, RefreshTokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("auth: %v", err)
	}

	r := gin.New()
	registerRoutes(r, routeOptions{
		API: httpapi.Handlers{
			Auth:       am,
			Calls:      orch,
			Extensions: exts,
			Schedules:  scheds,
			Registrar:  gw,
			Overrides:  overrides,
			AuditLog:   repo,
			Reports:    reporting.NewService(repo),
		},
		Webhooks:  telephony.WebhookHandler{Sessions: orch, Router: router},
		DevTokens: devTokens,
	})
	return &testServer{engine: r, auth: am, audit: repo, runner: runner}
}

func (s *testServer) token(t *testing.T, userID, role string) string {
	t.Helper()
	pair, err := s.auth.IssuePair(time.Now(), userID, role)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return pair.AccessToken
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 && strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

func (s *testServer) form(t *testing.T, path string, values url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func TestRoutes_PublicAndAuth(t *testing.T) {
	s := newTestServer(t, false)

	if w, _ := s.do(t, http.MethodGet, "/healthz", "", nil); w.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", w.Code)
	}
	if w, body := s.do(t, http.MethodGet, "/readyz", "", nil); w.Code != http.StatusOK || body["ready"] != true {
		t.Fatalf("readyz: unexpected %d %v", w.Code, body)
	}
	if w, _ := s.do(t, http.MethodPost, "/auth/token", "", map[string]string{"user_id": "u1", "role": "agent"}); w.Code != http.StatusNotFound {
		t.Fatalf("dev token route must be absent, got %d", w.Code)
	}
	if w, _ := s.do(t, http.MethodGet, "/v1/me", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	dev := newTestServer(t, true)
	w, body := dev.do(t, http.MethodPost, "/auth/token", "", map[string]string{"user_id": "u1", "role": rbac.RoleAgent})
	if w.Code != http.StatusOK {
		t.Fatalf("dev token: expected 200, got %d", w.Code)
	}
	access, _ := body["access_token"].(string)
	w, body = dev.do(t, http.MethodGet, "/v1/me", access, nil)
	if w.Code != http.StatusOK || body["user_id"] != "u1" || body["role"] != rbac.RoleAgent {
		t.Fatalf("me: unexpected %d %v", w.Code, body)
	}
}

func TestRoutes_RefreshCannotRaiseRole(t *testing.T) {
	s := newTestServer(t, false)
	pair, err := s.auth.IssuePair(time.Now(), "agent-1", rbac.RoleAgent)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	w, body := s.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": pair.RefreshToken, "role": rbac.RoleSuperAdmin})
	if w.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	access, _ := body["access_token"].(string)

	w, me := s.do(t, http.MethodGet, "/v1/me", access, nil)
	if w.Code != http.StatusOK || me["role"] != rbac.RoleAgent {
		t.Fatalf("refreshed token must keep role agent, got %d %v", w.Code, me)
	}
	if w, _ := s.do(t, http.MethodGet, "/v1/admin/extensions", access, nil); w.Code != http.StatusForbidden {
		t.Fatalf("refreshed agent on admin: expected 403, got %d", w.Code)
	}
	if w, _ := s.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": pair.AccessToken}); w.Code != http.StatusUnauthorized {
		t.Fatalf("access token as refresh: expected 401, got %d", w.Code)
	}
}

func TestRoutes_ExtensionCallLifecycle(t *testing.T) {
	s := newTestServer(t, false)
	tok := s.token(t, "u1", rbac.RoleAgent)

	w, ext := s.do(t, http.MethodPost, "/v1/voip/extensions", tok, map[string]string{"extension_number": "101", "display_name": "Front desk"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create extension: expected 201, got %d (%s)", w.Code, w.Body.String())
	}
	extID, _ := ext["id"].(string)
	if ext["status"] != string(extensions.StatusActive) || extID == "" {
		t.Fatalf("unexpected extension %v", ext)
	}

	if w, _ := s.do(t, http.MethodPost, "/v1/voip/extensions", tok, map[string]string{"extension_number": "101", "display_name": "Dup"}); w.Code != http.StatusConflict {
		t.Fatalf("duplicate number: expected 409, got %d", w.Code)
	}

	w, sess := s.do(t, http.MethodPost, "/v1/voip/extensions/"+extID+"/call", tok, map[string]any{"to": "+15550001000"})
	if w.Code != http.StatusCreated || sess["status"] != string(calls.StatusRinging) {
		t.Fatalf("place call: unexpected %d %v", w.Code, sess)
	}
	sessionID, _ := sess["session_id"].(string)

	w, active := s.do(t, http.MethodGet, "/v1/calls/active", tok, nil)
	if w.Code != http.StatusOK || active["count"] != float64(1) {
		t.Fatalf("active calls: unexpected %d %v", w.Code, active)
	}

	other := s.token(t, "u2", rbac.RoleAgent)
	if w, _ := s.do(t, http.MethodGet, "/v1/calls/"+sessionID, other, nil); w.Code != http.StatusNotFound {
		t.Fatalf("foreign session must read as missing, got %d", w.Code)
	}
	if w, _ := s.do(t, http.MethodGet, "/v1/voip/extensions/"+extID, other, nil); w.Code != http.StatusNotFound {
		t.Fatalf("foreign extension must read as missing, got %d", w.Code)
	}
	if w, body := s.do(t, http.MethodGet, "/v1/calls/active", other, nil); w.Code != http.StatusOK || body["count"] != float64(0) {
		t.Fatalf("other owner must not see the call, got %d %v", w.Code, body)
	}

	w, ended := s.do(t, http.MethodPost, "/v1/calls/"+sessionID+"/end", tok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("end call: expected 200, got %d", w.Code)
	}
	if inner, _ := ended["session"].(map[string]any); inner["status"] != string(calls.StatusCompleted) {
		t.Fatalf("unexpected end body %v", ended)
	}
	if w, _ := s.do(t, http.MethodPost, "/v1/calls/"+sessionID+"/end", tok, nil); w.Code != http.StatusConflict {
		t.Fatalf("second end: expected 409, got %d", w.Code)
	}
	if n := len(s.audit.OfType(audit.EventCallEnded)); n != 1 {
		t.Fatalf("expected one call_ended audit, got %d", n)
	}

	w, report := s.do(t, http.MethodGet, "/v1/reports/calls", tok, nil)
	if w.Code != http.StatusOK || report["total_calls"] != float64(1) || report["completed_calls"] != float64(1) {
		t.Fatalf("call report: unexpected %d %v", w.Code, report)
	}
	if w, _ := s.do(t, http.MethodGet, "/v1/reports/calls?from=yesterday", tok, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad from: expected 400, got %d", w.Code)
	}
}

func TestRoutes_RegistrarFailureIsBadGateway(t *testing.T) {
	s := newTestServer(t, false)
	s.runner.failOn["add"] = errors.New("connection refused")
	tok := s.token(t, "u1", rbac.RoleAgent)

	if w, _ := s.do(t, http.MethodPost, "/v1/voip/extensions", tok, map[string]string{"extension_number": "101", "display_name": "Front desk"}); w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	w, list := s.do(t, http.MethodGet, "/v1/voip/extensions", tok, nil)
	if items, _ := list["extensions"].([]any); w.Code != http.StatusOK || len(items) != 0 {
		t.Fatalf("failed registration must not keep the extension: %d %v", w.Code, list)
	}

	// Direct calls still answer with a failed session.
	w, sess := s.do(t, http.MethodPost, "/v1/calls", tok, map[string]any{"from": "sip:a@example.com", "to": "+15550001000"})
	if w.Code != http.StatusCreated || sess["status"] != string(calls.StatusFailed) {
		t.Fatalf("initiate: unexpected %d %v", w.Code, sess)
	}
	if w, _ := s.do(t, http.MethodPost, "/v1/calls", tok, map[string]any{"to": "+1"}); w.Code != http.StatusBadRequest {
		t.Fatalf("missing from: expected 400, got %d", w.Code)
	}
}

func TestRoutes_Schedules(t *testing.T) {
	s := newTestServer(t, false)
	tok := s.token(t, "u1", rbac.RoleAgent)

	w, ext := s.do(t, http.MethodPost, "/v1/voip/extensions", tok, map[string]string{"extension_number": "200", "display_name": "Standup"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create extension: expected 201, got %d (%s)", w.Code, w.Body.String())
	}
	extID, _ := ext["id"].(string)

	body := map[string]any{
		"destination_number": "+15550001000",
		"schedule":           map[string]any{"frequency": "weekly", "time": "09:30", "day_of_week": 1, "timezone": "America/New_York"},
	}
	w, sc := s.do(t, http.MethodPost, "/v1/voip/extensions/"+extID+"/recurring-calls", tok, body)
	if w.Code != http.StatusCreated || sc["enabled"] != true {
		t.Fatalf("create schedule: unexpected %d %v", w.Code, sc)
	}
	scID, _ := sc["id"].(string)

	bad := map[string]any{"schedule": map[string]any{"frequency": "hourly", "time": "09:30"}}
	if w, _ := s.do(t, http.MethodPut, "/v1/voip/recurring-calls/"+scID, tok, bad); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid rule: expected 400, got %d", w.Code)
	}

	other := s.token(t, "u2", rbac.RoleAgent)
	if w, _ := s.do(t, http.MethodDelete, "/v1/voip/recurring-calls/"+scID, other, nil); w.Code != http.StatusNotFound {
		t.Fatalf("foreign schedule: expected 404, got %d", w.Code)
	}

	w, list := s.do(t, http.MethodGet, "/v1/voip/extensions/"+extID+"/recurring-calls", tok, nil)
	if items, _ := list["recurring_calls"].([]any); w.Code != http.StatusOK || len(items) != 1 {
		t.Fatalf("list schedules: unexpected %d %v", w.Code, list)
	}
	if w, _ := s.do(t, http.MethodDelete, "/v1/voip/recurring-calls/"+scID, tok, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete schedule: expected 204, got %d", w.Code)
	}
}

func TestRoutes_AdminRoles(t *testing.T) {
	s := newTestServer(t, false)

	agent := s.token(t, "u1", rbac.RoleAgent)
	if w, _ := s.do(t, http.MethodGet, "/v1/admin/extensions", agent, nil); w.Code != http.StatusForbidden {
		t.Fatalf("agent on admin: expected 403, got %d", w.Code)
	}

	owner := s.token(t, "o1", rbac.RoleOwner)
	if w, _ := s.do(t, http.MethodGet, "/v1/admin/extensions", owner, nil); w.Code != http.StatusOK {
		t.Fatalf("owner on admin: expected 200, got %d", w.Code)
	}
	if w, body := s.do(t, http.MethodGet, "/v1/admin/registrar/status", owner, nil); w.Code != http.StatusOK || body["up"] != true {
		t.Fatalf("registrar status: unexpected %d %v", w.Code, body)
	}

	s.runner.failOn["-f"] = errors.New("bind failed")
	if w, _ := s.do(t, http.MethodPost, "/v1/admin/registrar/start", owner, nil); w.Code != http.StatusBadGateway {
		t.Fatalf("registrar start failure: expected 502, got %d", w.Code)
	}
	if n := len(s.audit.OfType(audit.EventRegistrarStartFailed)); n != 1 {
		t.Fatalf("expected start failure audit, got %d", n)
	}

	if w, _ := s.do(t, http.MethodGet, "/v1/admin/routing/overrides", owner, nil); w.Code != http.StatusForbidden {
		t.Fatalf("owner on overrides: expected 403, got %d", w.Code)
	}
	operator := s.token(t, "n1", rbac.RoleNetworkOperator)
	if w, _ := s.do(t, http.MethodGet, "/v1/admin/extensions", operator, nil); w.Code != http.StatusForbidden {
		t.Fatalf("operator on admin: expected 403, got %d", w.Code)
	}
}

func TestRoutes_InboundWebhookHonorsOverride(t *testing.T) {
	s := newTestServer(t, false)
	tok := s.token(t, "u1", rbac.RoleAgent)
	w, ext := s.do(t, http.MethodPost, "/v1/voip/extensions", tok, map[string]string{"extension_number": "300", "display_name": "Sales"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create extension: expected 201, got %d (%s)", w.Code, w.Body.String())
	}
	cred, _ := ext["sip_credentials"].(map[string]any)
	username, _ := cred["username"].(string)
	if username == "" {
		t.Fatalf("extension without sip credentials: %v", ext)
	}

	voice := url.Values{"CallSid": {"CA1"}, "From": {"+15551230000"}, "To": {"300"}}
	w = s.form(t, "/webhooks/twilio/voice", voice)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "<Sip>sip:"+username+"@sip.example.com</Sip>") {
		t.Fatalf("voice: unexpected %d %s", w.Code, w.Body.String())
	}

	operator := s.token(t, "n1", rbac.RoleNetworkOperator)
	if w, _ := s.do(t, http.MethodPut, "/v1/admin/routing/overrides", operator, map[string]any{"number": "300", "connect_to": "+15559990000", "ttl_seconds": 60}); w.Code != http.StatusOK {
		t.Fatalf("set override: expected 200, got %d", w.Code)
	}
	w = s.form(t, "/webhooks/twilio/voice", voice)
	if !strings.Contains(w.Body.String(), "+15559990000") {
		t.Fatalf("override not applied: %s", w.Body.String())
	}

	if w, _ := s.do(t, http.MethodDelete, "/v1/admin/routing/overrides/300", operator, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete override: expected 204, got %d", w.Code)
	}
	w = s.form(t, "/webhooks/twilio/voice", url.Values{"CallSid": {"CA2"}, "To": {"999"}})
	if !strings.Contains(w.Body.String(), "<Reject") {
		t.Fatalf("unknown number must be rejected: %s", w.Body.String())
	}
}

func TestRoutes_StatusWebhookAppliesProviderStatus(t *testing.T) {
	s := newTestServer(t, false)
	tok := s.token(t, "u1", rbac.RoleAgent)

	_, sess := s.do(t, http.MethodPost, "/v1/calls", tok, map[string]any{"from": "sip:a@example.com", "to": "+15550001000"})
	id, _ := sess["session_id"].(string)

	w := s.form(t, "/webhooks/twilio/status?session_id="+id, url.Values{"CallSid": {"CA9"}, "CallStatus": {"in-progress"}})
	if w.Code != http.StatusNoContent {
		t.Fatalf("status webhook: expected 204, got %d", w.Code)
	}
	_, got := s.do(t, http.MethodGet, "/v1/calls/"+id, tok, nil)
	if got["status"] != string(calls.StatusActive) || got["provider_call_id"] != "CA9" {
		t.Fatalf("provider status not applied: %v", got)
	}

	w = s.form(t, "/webhooks/twilio/bridge?session_id="+id, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "<Sip>") {
		t.Fatalf("bridge: unexpected %d %s", w.Code, w.Body.String())
	}
}

func TestReadyHandler_ReportsFailingBackend(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/readyz", readyHandler([]readyCheck{
		{name: "postgres", check: func(context.Context) error { return nil }},
		{name: "redis", check: func(context.Context) error { return errors.New("redis ping failed") }},
	}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	var body struct {
		Ready  bool              `json:"ready"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Ready || body.Checks["postgres"] != "ok" || body.Checks["redis"] == "ok" {
		t.Fatalf("unexpected body %+v", body)
	}
}
