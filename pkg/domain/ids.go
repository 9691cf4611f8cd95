// Package domain holds identifier and principal types shared by every
// feature package. Keeping them here lets services, stores and middleware
// agree on types without importing each other.
package domain

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"

	dErrors "geoverify/pkg/domain-errors"
)

// tokenBytes is the entropy of a verification token (256 bits).
const tokenBytes = 32

// tokenLen is the encoded length of a token: base64url without padding.
var tokenLen = base64.RawURLEncoding.EncodedLen(tokenBytes)

// verificationNamespace seeds derived verification IDs. Changing it would
// change every published verification ID.
var verificationNamespace = uuid.MustParse("6f1c2a4e-8d53-4b7a-9c0e-3f5d2e1b7a90")

// TokenID is the opaque, unguessable identifier carried in a verification link.
type TokenID string

// NewTokenID draws a fresh token identifier from crypto/rand.
func NewTokenID() (TokenID, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token id: %w", err)
	}
	return TokenID(base64.RawURLEncoding.EncodeToString(buf)), nil
}

// ParseTokenID validates the shape of a token presented by a client.
// Anything that could not have been issued is an invalid token.
func ParseTokenID(raw string) (TokenID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", dErrors.New(dErrors.CodeInvalidToken, "token is required")
	}
	if len(raw) != tokenLen {
		return "", dErrors.New(dErrors.CodeInvalidToken, "invalid verification token")
	}
	if _, err := base64.RawURLEncoding.DecodeString(raw); err != nil {
		return "", dErrors.New(dErrors.CodeInvalidToken, "invalid verification token")
	}
	return TokenID(raw), nil
}

func (t TokenID) String() string { return string(t) }

// Short returns a non-secret prefix safe for logs.
func (t TokenID) Short() string {
	if len(t) <= 8 {
		return string(t)
	}
	return string(t[:8])
}

// VerificationID derives the stable, one-to-one verification identifier for
// a token. It is safe to publish; the token cannot be recovered from it.
func (t TokenID) VerificationID() uuid.UUID {
	return uuid.NewSHA1(verificationNamespace, []byte(t))
}

// APIKeyID identifies an API key record ("key_" + random suffix).
type APIKeyID string

const apiKeyIDPrefix = "key_"

// NewAPIKeyID draws a new key identifier.
func NewAPIKeyID() (APIKeyID, error) {
	buf := make([]byte, 9)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key id: %w", err)
	}
	return APIKeyID(apiKeyIDPrefix + base64.RawURLEncoding.EncodeToString(buf)), nil
}

// ParseAPIKeyID validates a key identifier taken from a URL.
func ParseAPIKeyID(raw string) (APIKeyID, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, apiKeyIDPrefix) || len(raw) <= len(apiKeyIDPrefix) || len(raw) > 64 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid api key id")
	}
	return APIKeyID(raw), nil
}

func (k APIKeyID) String() string { return string(k) }

// PrincipalKind says how a caller authenticated.
type PrincipalKind string

const (
	PrincipalAdmin  PrincipalKind = "admin"
	PrincipalAPIKey PrincipalKind = "api_key"
)

// Principal is the authenticated caller of a request. Every request is
// authenticated on its own; there is no ambient session.
type Principal struct {
	Kind PrincipalKind `json:"kind"`
	ID   string        `json:"id"`
}

func (p Principal) IsZero() bool  { return p.Kind == "" && p.ID == "" }
func (p Principal) IsAdmin() bool { return p.Kind == PrincipalAdmin }

// CanSee reports whether p may read a record issued by owner. Admins see
// everything; API keys see only what they issued.
func (p Principal) CanSee(owner Principal) bool {
	if p.IsAdmin() {
		return true
	}
	return p.Kind == owner.Kind && p.ID == owner.ID
}
