package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all configuration required by the voipd process.
// All values come from env (or an env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Twilio    TwilioConfig
	Registrar RegistrarConfig
	Calls     CallsConfig
	Scheduler SchedulerConfig
	Audit     AuditConfig
}

type AppConfig struct {
	Env  string `env:"APP_ENV" envDefault:"local"`
	Port int    `env:"APP_PORT" envDefault:"8080"`
	// LogLevel overrides the env-derived level: debug, info, warn or error.
	LogLevel string `env:"LOG_LEVEL"`
	// PublicBaseURL is how providers reach our webhooks, e.g. https://voip.example.com.
	PublicBaseURL string `env:"APP_PUBLIC_BASE_URL"`
}

// DBConfig is optional. With no host the audit log stays in memory.
type DBConfig struct {
	Host     string `env:"DB_HOST"`
	Port     int    `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER"`
	Password string `env:"DB_PASSWORD"`
	Name     string `env:"DB_NAME"`

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string `env:"DB_SSLMODE" envDefault:"disable"`

	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
}

// RedisConfig is optional. It backs the per-owner concurrent call cap.
type RedisConfig struct {
	Host string `env:"REDIS_HOST"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

type AuthConfig struct {
	JWTSecret       string        `env:"JWT_SECRET"`
	JWTIssuer       string        `env:"JWT_ISSUER"`
	JWTAudience     string        `env:"JWT_AUDIENCE"`
	AccessTokenTTL  time.Duration `env:"JWT_ACCESS_TTL" envDefault:"15m"`
	RefreshTokenTTL time.Duration `env:"JWT_REFRESH_TTL" envDefault:"720h"`
	// DevTokens exposes POST /auth/token. Never allowed in production.
	DevTokens bool `env:"AUTH_DEV_TOKENS" envDefault:"false"`
}

type TwilioConfig struct {
	AccountSID         string `env:"TWILIO_ACCOUNT_SID"`
	AuthToken          string `env:"TWILIO_AUTH_TOKEN"`
	CallerID           string `env:"TWILIO_CALLER_ID"`
	ValidateSignatures bool   `env:"TWILIO_VALIDATE_SIGNATURES" envDefault:"false"`
}

type RegistrarConfig struct {
	Domain         string        `env:"SIP_DOMAIN" envDefault:"sip.nexus-core.com"`
	Host           string        `env:"SIP_HOST" envDefault:"0.0.0.0"`
	Port           int           `env:"SIP_PORT" envDefault:"5060"`
	Protocol       string        `env:"SIP_PROTOCOL" envDefault:"udp"`
	Binary         string        `env:"OPENSIPS_BIN" envDefault:"opensips"`
	ControlBinary  string        `env:"OPENSIPS_CTL" envDefault:"opensipsctl"`
	ConfigPath     string        `env:"OPENSIPS_CONFIG" envDefault:"opensips/opensips.cfg"`
	CommandTimeout time.Duration `env:"OPENSIPS_COMMAND_TIMEOUT" envDefault:"10s"`
	AutoStart      bool          `env:"OPENSIPS_AUTOSTART" envDefault:"false"`
}

type CallsConfig struct {
	PurgeGrace time.Duration `env:"CALL_PURGE_GRACE" envDefault:"5m"`
	// MaxConcurrentPerOwner of 0 means unlimited.
	MaxConcurrentPerOwner int           `env:"CALL_MAX_CONCURRENT_PER_OWNER" envDefault:"0"`
	ConcurrencyTTL        time.Duration `env:"CALL_CONCURRENCY_TTL" envDefault:"2h"`
}

type SchedulerConfig struct {
	Enabled  bool          `env:"SCHEDULER_ENABLED" envDefault:"true"`
	Interval time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"60s"`
}

type AuditConfig struct {
	Buffer int `env:"AUDIT_BUFFER" envDefault:"256"`
}

func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("environment variables are invalid: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	var errs []error

	if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if !isValidLogLevel(c.App.LogLevel) {
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", c.App.LogLevel))
	}
	if !validPort(c.App.Port) {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DBEnabled() {
		if !validPort(c.DB.Port) {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required when DB_HOST is set"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required when DB_HOST is set"))
		}
		if !isValidSSLMode(c.DB.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
		}
		if c.DB.MaxOpenConns < 0 || c.DB.MaxIdleConns < 0 || c.DB.MaxIdleConns > c.DB.MaxOpenConns {
			errs = append(errs, errors.New("DB_MAX_IDLE_CONNS must be between 0 and DB_MAX_OPEN_CONNS"))
		}
		if c.IsProduction() && c.DB.SSLMode == "disable" {
			errs = append(errs, errors.New("DB_SSLMODE must not be disable in production"))
		}
	}

	if c.Calls.MaxConcurrentPerOwner < 0 {
		errs = append(errs, errors.New("CALL_MAX_CONCURRENT_PER_OWNER must be >= 0"))
	}
	if c.Calls.MaxConcurrentPerOwner > 0 {
		if !c.RedisEnabled() {
			errs = append(errs, errors.New("REDIS_HOST is required when CALL_MAX_CONCURRENT_PER_OWNER is set"))
		}
		if c.Calls.ConcurrencyTTL <= 0 {
			errs = append(errs, errors.New("CALL_CONCURRENCY_TTL must be > 0"))
		}
	}
	if c.RedisEnabled() {
		if !validPort(c.Redis.Port) {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
		if c.Redis.DB < 0 {
			errs = append(errs, fmt.Errorf("REDIS_DB must be >= 0, got %d", c.Redis.DB))
		}
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
		if c.Auth.DevTokens {
			errs = append(errs, errors.New("AUTH_DEV_TOKENS must be false in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		errs = append(errs, errors.New("JWT_ACCESS_TTL must be > 0"))
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if (c.Twilio.AccountSID == "") != (c.Twilio.AuthToken == "") {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN must be set together"))
	}
	if c.TwilioEnabled() && c.Twilio.CallerID == "" {
		errs = append(errs, errors.New("TWILIO_CALLER_ID is required when Twilio is configured"))
	}
	if c.IsProduction() && c.TwilioEnabled() && !c.Twilio.ValidateSignatures {
		errs = append(errs, errors.New("TWILIO_VALIDATE_SIGNATURES must be true in production"))
	}
	if c.Twilio.ValidateSignatures && (c.Twilio.AuthToken == "" || c.App.PublicBaseURL == "") {
		errs = append(errs, errors.New("TWILIO_VALIDATE_SIGNATURES needs TWILIO_AUTH_TOKEN and APP_PUBLIC_BASE_URL"))
	}

	if strings.TrimSpace(c.Registrar.Domain) == "" {
		errs = append(errs, errors.New("SIP_DOMAIN is required"))
	}
	if !validPort(c.Registrar.Port) {
		errs = append(errs, fmt.Errorf("SIP_PORT must be a valid port, got %d", c.Registrar.Port))
	}
	switch strings.ToLower(c.Registrar.Protocol) {
	case "udp", "tcp", "tls":
	default:
		errs = append(errs, fmt.Errorf("SIP_PROTOCOL must be one of udp, tcp, tls, got %q", c.Registrar.Protocol))
	}
	if c.Registrar.CommandTimeout <= 0 {
		errs = append(errs, errors.New("OPENSIPS_COMMAND_TIMEOUT must be > 0"))
	}

	if c.Calls.PurgeGrace <= 0 {
		errs = append(errs, errors.New("CALL_PURGE_GRACE must be > 0"))
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval < time.Second {
		errs = append(errs, fmt.Errorf("SCHEDULER_INTERVAL must be at least 1s, got %s", c.Scheduler.Interval))
	}
	if c.Audit.Buffer <= 0 {
		errs = append(errs, errors.New("AUDIT_BUFFER must be > 0"))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) DBEnabled() bool { return c.DB.Host != "" }

func (c Config) RedisEnabled() bool { return c.Redis.Host != "" }

func (c Config) TwilioEnabled() bool { return c.Twilio.AccountSID != "" && c.Twilio.AuthToken != "" }

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func validPort(p int) bool { return p > 0 && p <= 65535 }

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidLogLevel(v string) bool {
	switch strings.ToLower(v) {
	case "", "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
