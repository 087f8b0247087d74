package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_AppliesDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.App.Env != "local" || c.App.Port != 8080 {
		t.Fatalf("unexpected app defaults %+v", c.App)
	}
	if c.Registrar.Domain != "sip.nexus-core.com" || c.Registrar.Port != 5060 || c.Registrar.Protocol != "udp" {
		t.Fatalf("unexpected registrar defaults %+v", c.Registrar)
	}
	if c.Calls.PurgeGrace != 5*time.Minute {
		t.Fatalf("expected 5m grace, got %s", c.Calls.PurgeGrace)
	}
	if c.Scheduler.Interval != time.Minute || !c.Scheduler.Enabled {
		t.Fatalf("unexpected scheduler defaults %+v", c.Scheduler)
	}
	if c.DBEnabled() || c.RedisEnabled() || c.TwilioEnabled() {
		t.Fatalf("expected optional backends disabled by default")
	}
}

func TestLoad_ReportsMissingSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoad_RejectsBadDuration(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("CALL_PURGE_GRACE", "soon")
	if _, err := Load(); err == nil {
		t.Fatalf("expected parse error")
	}
}

func validConfig() Config {
	return Config{
		App:       AppConfig{Env: "local", Port: 8080},
		DB:        DBConfig{Port: 5432, SSLMode: "disable"},
		Redis:     RedisConfig{Port: 6379},
		Auth:      AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour},
		Registrar: RegistrarConfig{Domain: "sip.example.com", Port: 5060, Protocol: "udp", CommandTimeout: time.Second},
		Calls:     CallsConfig{PurgeGrace: 5 * time.Minute, ConcurrencyTTL: time.Hour},
		Scheduler: SchedulerConfig{Enabled: true, Interval: time.Minute},
		Audit:     AuditConfig{Buffer: 16},
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	c := validConfig()
	c.App.Env = "qa"
	c.Registrar.Protocol = "sctp"
	c.Auth.JWTSecret = ""

	err := c.Validate()
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"APP_ENV", "SIP_PROTOCOL", "JWT_SECRET"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %q", want, err.Error())
		}
	}
}

func TestValidate_ProductionRules(t *testing.T) {
	c := validConfig()
	c.App.Env = "production"
	c.DB = DBConfig{Host: "db", Port: 5432, User: "u", Name: "voip", SSLMode: "disable"}
	c.Auth.DevTokens = true

	err := c.Validate()
	if err == nil {
		t.Fatalf("expected production errors")
	}
	for _, want := range []string{"DB_SSLMODE", "JWT_ISSUER", "AUTH_DEV_TOKENS"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %q", want, err.Error())
		}
	}
}

func TestValidate_ConcurrencyCapNeedsRedis(t *testing.T) {
	c := validConfig()
	c.Calls.MaxConcurrentPerOwner = 3
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error without redis")
	}
	c.Redis.Host = "localhost"
	if err := c.Validate(); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}

func TestValidate_TwilioPairing(t *testing.T) {
	c := validConfig()
	c.Twilio.AccountSID = "AC1"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for sid without token")
	}
	c.Twilio.AuthToken = "tok"
	c.Twilio.CallerID = "+15550000000"
	if err := c.Validate(); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}

func TestValidate_ProductionTwilioNeedsSignatures(t *testing.T) {
	c := validConfig()
	c.App.Env = "production"
	c.App.PublicBaseURL = "https://voip.example.com"
	c.Auth.JWTIssuer = "commhub"
	c.Auth.JWTAudience = "commhub-api"
	c.Twilio = TwilioConfig{AccountSID: "AC1", AuthToken: "tok", CallerID: "+15550000000"}

	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "TWILIO_VALIDATE_SIGNATURES") {
		t.Fatalf("expected signature validation to be required, got %v", err)
	}
	c.Twilio.ValidateSignatures = true
	if err := c.Validate(); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}

func TestValidate_LogLevelAndPool(t *testing.T) {
	c := validConfig()
	c.App.LogLevel = "WARN"
	if err := c.Validate(); err != nil {
		t.Fatalf("expected case-insensitive level, got %v", err)
	}

	c.App.LogLevel = "trace"
	c.DB = DBConfig{Host: "db", Port: 5432, User: "u", Name: "voip", SSLMode: "disable", MaxOpenConns: 2, MaxIdleConns: 5}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected errors")
	}
	for _, want := range []string{"LOG_LEVEL", "DB_MAX_IDLE_CONNS"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %q", want, err.Error())
		}
	}
}
