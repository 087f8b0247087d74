package sip

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"
)

const (
	passwordLength  = 16
	passwordCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789!@#$%"
	suffixCharset   = "0123456789abcdefghijklmnopqrstuvwxyz"
	suffixLength    = 6
)

// Credential is a SIP identity. Immutable once issued.
type Credential struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Domain   string `json:"domain"`
}

// URI returns sip:<username>@<domain>.
func (c Credential) URI() string {
	return "sip:" + c.Username + "@" + c.Domain
}

// Issuer produces fresh SIP credentials.
type Issuer struct {
	domain string
	clock  func() time.Time
	rand   io.Reader
}

func NewIssuer(domain string) *Issuer {
	return &Issuer{domain: domain, clock: time.Now, rand: rand.Reader}
}

// Domain is the SIP domain credentials are issued under.
func (i *Issuer) Domain() string { return i.domain }

// Generate issues a credential on behalf of ownerID. Usernames are user_<millis>_<suffix>;
// the random suffix keeps two credentials issued in the same millisecond apart.
func (i *Issuer) Generate(ownerID string) (Credential, error) {
	if strings.TrimSpace(i.domain) == "" {
		return Credential{}, errors.New("sip: credential domain not configured")
	}

	suffix, err := randomString(i.rand, suffixCharset, suffixLength)
	if err != nil {
		return Credential{}, fmt.Errorf("sip: username suffix: %w", err)
	}
	password, err := randomString(i.rand, passwordCharset, passwordLength)
	if err != nil {
		return Credential{}, fmt.Errorf("sip: password: %w", err)
	}

	return Credential{
		Username: fmt.Sprintf("user_%d_%s", i.clock().UnixMilli(), suffix),
		Password: password,
		Domain:   i.domain,
	}, nil
}

func randomString(r io.Reader, charset string, n int) (string, error) {
	max := big.NewInt(int64(len(charset)))
	b := make([]byte, n)
	for k := range b {
		idx, err := rand.Int(r, max)
		if err != nil {
			return "", err
		}
		b[k] = charset[idx.Int64()]
	}
	return string(b), nil
}
