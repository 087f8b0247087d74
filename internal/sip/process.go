package sip

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"commhub/internal/audit"
)

const auditService = "opensips"

// CommandRunner executes a registrar control command and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner runs commands as local subprocesses.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return stdout.String(), fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return stdout.String(), fmt.Errorf("%s: %w", name, err)
	}
	return stdout.String(), nil
}

type ProcessConfig struct {
	Binary         string
	ControlBinary  string
	ConfigPath     string
	Host           string
	Port           int
	Protocol       string
	CommandTimeout time.Duration
}

func (c ProcessConfig) withDefaults() ProcessConfig {
	out := c
	if out.Binary == "" {
		out.Binary = "opensips"
	}
	if out.ControlBinary == "" {
		out.ControlBinary = "opensipsctl"
	}
	if out.ConfigPath == "" {
		out.ConfigPath = "opensips/opensips.cfg"
	}
	if out.Host == "" {
		out.Host = "0.0.0.0"
	}
	if out.Port <= 0 {
		out.Port = 5060
	}
	if out.Protocol == "" {
		out.Protocol = "udp"
	}
	if out.CommandTimeout <= 0 {
		out.CommandTimeout = 10 * time.Second
	}
	return out
}

// ProcessGateway drives an OpenSIPS instance through its control binaries.
type ProcessGateway struct {
	cfg    ProcessConfig
	runner CommandRunner
	audit  audit.Sink
	log    *slog.Logger
	clock  func() time.Time

	mu      sync.Mutex
	running bool
}

func NewProcessGateway(cfg ProcessConfig, runner CommandRunner, sink audit.Sink, log *slog.Logger) *ProcessGateway {
	if runner == nil {
		runner = ExecRunner{}
	}
	if sink == nil {
		sink = audit.Discard{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &ProcessGateway{
		cfg:    cfg.withDefaults(),
		runner: runner,
		audit:  sink,
		log:    log.With("component", "registrar"),
		clock:  time.Now,
	}
}

func (g *ProcessGateway) run(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.CommandTimeout)
	defer cancel()
	return g.runner.Run(ctx, name, args...)
}

func (g *ProcessGateway) Start(ctx context.Context) bool {
	_, err := g.run(ctx, g.cfg.Binary, "-f", g.cfg.ConfigPath)
	if err != nil {
		g.log.Error("registrar start failed", "err", err)
		g.audit.Record(ctx, audit.Record{
			Type:    audit.EventRegistrarStartFailed,
			Service: auditService,
			Status:  audit.StatusError,
			Message: "OpenSIPS failed to start: " + err.Error(),
		})
		return false
	}

	g.mu.Lock()
	g.running = true
	g.mu.Unlock()

	g.log.Info("registrar started", "host", g.cfg.Host, "port", g.cfg.Port, "protocol", g.cfg.Protocol)
	g.audit.Record(ctx, audit.Record{
		Type:    audit.EventRegistrarStarted,
		Service: auditService,
		Message: fmt.Sprintf("OpenSIPS listening on %s:%d/%s", g.cfg.Host, g.cfg.Port, g.cfg.Protocol),
		Metadata: map[string]any{
			"host":     g.cfg.Host,
			"port":     g.cfg.Port,
			"protocol": g.cfg.Protocol,
		},
	})
	return true
}

func (g *ProcessGateway) Stop(ctx context.Context) bool {
	if _, err := g.run(ctx, "killall", g.cfg.Binary); err != nil {
		g.log.Error("registrar stop failed", "err", err)
		return false
	}

	g.mu.Lock()
	g.running = false
	g.mu.Unlock()

	g.log.Info("registrar stopped")
	g.audit.Record(ctx, audit.Record{
		Type:    audit.EventRegistrarStopped,
		Service: auditService,
		Message: "OpenSIPS stopped",
	})
	return true
}

// Running reports whether this process started the registrar and has not stopped it.
func (g *ProcessGateway) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

func (g *ProcessGateway) RegisterUser(ctx context.Context, username, password, domain string) (Registration, error) {
	if username == "" || password == "" || domain == "" {
		return Registration{}, fmt.Errorf("%w: username, password and domain required", ErrRegistrationFailed)
	}
	if _, err := g.run(ctx, g.cfg.ControlBinary, "add", username+"@"+domain, password); err != nil {
		return Registration{}, fmt.Errorf("%w: %v", ErrRegistrationFailed, err)
	}

	// the registrar does not know which user owns the credential
	g.audit.Record(ctx, audit.Record{
		OwnerID: audit.SystemOwner,
		Type:    audit.EventSIPUserRegistered,
		Service: auditService,
		Message: fmt.Sprintf("SIP user registered: %s@%s", username, domain),
		Metadata: map[string]any{
			"username": username,
			"domain":   domain,
		},
	})

	return Registration{
		Username:     username,
		Domain:       domain,
		URI:          Credential{Username: username, Domain: domain}.URI(),
		Registered:   true,
		RegisteredAt: g.clock().UTC(),
	}, nil
}

func (g *ProcessGateway) Status(ctx context.Context) (Status, error) {
	out, err := g.run(ctx, g.cfg.ControlBinary, "fifo", "get_statistics", "all")
	if err != nil {
		return Status{State: StateStopped, Error: err.Error()}, fmt.Errorf("%w: %v", ErrRegistrarUnavailable, err)
	}
	return Status{
		Up:       true,
		State:    StateRunning,
		Host:     g.cfg.Host,
		Port:     g.cfg.Port,
		Protocol: g.cfg.Protocol,
		RawStats: out,
	}, nil
}

func (g *ProcessGateway) ActiveCalls(ctx context.Context) ([]Dialog, error) {
	out, err := g.run(ctx, g.cfg.ControlBinary, "fifo", "dlg_list")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegistrarUnavailable, err)
	}
	return ParseDialogList(out, g.clock()), nil
}
