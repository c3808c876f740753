// Package auth verifies bearer tokens for the studio API. Zitadel access
// tokens are checked against the issuer's JWKS; HMAC-signed legacy tokens
// are accepted when a shared secret is configured.
package auth

import (
	"errors"
	"strings"
)

var (
	// ErrNoVerifier is returned by an empty Chain
	ErrNoVerifier = errors.New("authentication not configured")

	// ErrMissingUser is returned for a valid token without a subject
	ErrMissingUser = errors.New("token carries no user id")
)

// Identity is the caller a token resolves to
type Identity struct {
	UserID string
	Email  string
	Name   string
}

// Verifier resolves a raw bearer token to an identity
type Verifier interface {
	Verify(token string) (*Identity, error)
}

// Chain tries each verifier in order and returns the first identity.
// The last error is reported when none accepts the token.
type Chain []Verifier

func (c Chain) Verify(token string) (*Identity, error) {
	err := ErrNoVerifier
	for _, v := range c {
		var id *Identity
		id, err = v.Verify(token)
		if err == nil {
			return id, nil
		}
	}
	return nil, err
}

// Configured reports whether any verifier is present
func (c Chain) Configured() bool {
	return len(c) > 0
}

// BearerToken extracts the token from an Authorization header value
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return "", false
	}
	return token, true
}
