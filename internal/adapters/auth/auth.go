// Package auth resolves the caller identity of a socket connection from an
// HS256 bearer token. A connection without a token is anonymous.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// TokenParam is the query parameter accepted when headers cannot be set,
// as with browser WebSocket clients.
const TokenParam = "token"

// Sentinel errors.
var (
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrNoSecret     = errors.New("auth: no signing secret configured")
)

// Verifier checks tokens signed with a shared secret.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithClock overrides the time used for expiry checks and issuing.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewVerifier returns a verifier for secret. With an empty secret every
// caller is anonymous and supplied tokens are ignored.
func NewVerifier(secret string, opts ...Option) *Verifier {
	v := &Verifier{secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Enabled reports whether tokens are verified.
func (v *Verifier) Enabled() bool { return len(v.secret) > 0 }

// Identify returns the freelancer id carried by r, or nil for an anonymous
// caller. A token that is present but fails verification is an error.
func (v *Verifier) Identify(r *http.Request) (*string, error) {
	raw := tokenFrom(r)
	if raw == "" || !v.Enabled() {
		return nil, nil
	}
	sub, err := v.Verify(raw)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// Verify checks raw and returns its subject.
func (v *Verifier) Verify(raw string) (string, error) {
	if !v.Enabled() {
		return "", ErrNoSecret
	}
	claims := &gojwt.RegisteredClaims{}
	parser := gojwt.NewParser(
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithTimeFunc(v.now),
	)
	if _, err := parser.ParseWithClaims(raw, claims, func(*gojwt.Token) (any, error) { return v.secret, nil }); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// Issue signs a token for subject valid for ttl.
func (v *Verifier) Issue(subject string, ttl time.Duration) (string, error) {
	if !v.Enabled() {
		return "", ErrNoSecret
	}
	now := v.now()
	claims := gojwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  gojwt.NewNumericDate(now),
		ExpiresAt: gojwt.NewNumericDate(now.Add(ttl)),
	}
	return gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(v.secret)
}

func tokenFrom(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if after, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(after)
		}
	}
	return r.URL.Query().Get(TokenParam)
}
