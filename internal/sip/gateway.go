package sip

import (
	"context"
	"errors"
	"time"
)

var (
	ErrRegistrationFailed   = errors.New("sip: registration failed")
	ErrRegistrarUnavailable = errors.New("sip: registrar unavailable")
)

// Gateway is the contract with the SIP registrar.
type Gateway interface {
	RegisterUser(ctx context.Context, username, password, domain string) (Registration, error)
	Status(ctx context.Context) (Status, error)
	ActiveCalls(ctx context.Context) ([]Dialog, error)
	Start(ctx context.Context) bool
	Stop(ctx context.Context) bool
}

type Registration struct {
	Username     string    `json:"username"`
	Domain       string    `json:"domain"`
	URI          string    `json:"sip_uri"`
	Registered   bool      `json:"registered"`
	RegisteredAt time.Time `json:"registered_at"`
}

const (
	StateRunning = "running"
	StateStopped = "stopped"
)

type Status struct {
	Up       bool   `json:"up"`
	State    string `json:"status"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Protocol string `json:"protocol,omitempty"`
	RawStats string `json:"statistics,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Dialog summarizes one registrar dialog (an in-progress SIP call).
type Dialog struct {
	CallID          string `json:"call_id"`
	From            string `json:"from"`
	To              string `json:"to"`
	State           string `json:"status"`
	DurationSeconds int64  `json:"duration"`
}
