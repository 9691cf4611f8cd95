// Package secrets generates, hashes and verifies raw API keys.
//
// Raw key format: gv_<env>_<43 chars base64url>. The first PrefixLength
// characters are stored in clear as the lookup prefix; the whole key is
// bcrypt-hashed.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	dErrors "geoverify/pkg/domain-errors"
)

const (
	// KeyMarker starts every raw API key.
	KeyMarker    = "gv_"
	PrefixLength = 20
	randomBytes  = 32
	randomChars  = 43
)

// Generate creates a raw key for env and returns it with its lookup prefix.
func Generate(env string) (raw, prefix string, err error) {
	buf := make([]byte, randomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("could not generate api key: %w", err)
	}
	raw = KeyMarker + env + "_" + base64.RawURLEncoding.EncodeToString(buf)
	return raw, raw[:PrefixLength], nil
}

// LooksLikeKey reports whether a credential should be treated as an API key
// rather than a bearer JWT.
func LooksLikeKey(credential string) bool {
	return strings.HasPrefix(credential, KeyMarker)
}

// Prefix validates the shape of a raw key and returns its lookup prefix.
func Prefix(raw string) (string, error) {
	rest, ok := strings.CutPrefix(raw, KeyMarker)
	if !ok {
		return "", dErrors.New(dErrors.CodeUnauthorized, "malformed api key")
	}
	env, secret, ok := strings.Cut(rest, "_")
	if !ok || env == "" || len(secret) != randomChars {
		return "", dErrors.New(dErrors.CodeUnauthorized, "malformed api key")
	}
	if _, err := base64.RawURLEncoding.DecodeString(secret); err != nil {
		return "", dErrors.New(dErrors.CodeUnauthorized, "malformed api key")
	}
	return raw[:PrefixLength], nil
}

// Hash creates a bcrypt hash of the provided secret.
func Hash(secret string) (string, error) {
	if secret == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "secret cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", dErrors.New(dErrors.CodeInvalidInput, "secret is too long")
		}
		return "", fmt.Errorf("could not hash secret: %w", err)
	}
	return string(hashed), nil
}

// Verify checks a raw secret against a bcrypt hash.
func Verify(secret, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return dErrors.New(dErrors.CodeUnauthorized, "invalid api key")
		}
		return fmt.Errorf("could not verify secret: %w", err)
	}
	return nil
}
