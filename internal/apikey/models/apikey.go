package models

import (
	"fmt"
	"slices"
	"strings"
	"time"

	id "geoverify/pkg/domain"
	dErrors "geoverify/pkg/domain-errors"
	"geoverify/pkg/platform/sentinel"
)

// Environment separates production keys from sandbox keys. It is embedded
// in the raw key so a leaked key's scope is visible at a glance.
type Environment string

const (
	EnvironmentLive Environment = "live"
	EnvironmentTest Environment = "test"
)

func ParseEnvironment(s string) (Environment, error) {
	switch s {
	case "", "live", "production":
		return EnvironmentLive, nil
	case "test", "sandbox":
		return EnvironmentTest, nil
	default:
		return "", dErrors.New(dErrors.CodeValidation, "environment must be live or test")
	}
}

// Permission is an action an API key may perform.
type Permission string

const (
	PermissionCreate Permission = "verification:create"
	PermissionRead   Permission = "verification:read"
	PermissionRevoke Permission = "verification:revoke"
)

var knownPermissions = []Permission{PermissionCreate, PermissionRead, PermissionRevoke}

// DefaultPermissions are granted when a key is created without a list.
var DefaultPermissions = []Permission{PermissionCreate, PermissionRead}

const (
	DefaultRateLimitPerHour = 1000
	MaxRateLimitPerHour     = 100_000
	maxNameLength           = 128
	maxDescriptionLength    = 1000
)

// ParsePermissions normalizes and validates a permission list.
func ParsePermissions(raw []string) ([]Permission, error) {
	cleaned := normalizeList(raw)
	out := make([]Permission, 0, len(cleaned))
	for _, p := range cleaned {
		perm := Permission(p)
		if !slices.Contains(knownPermissions, perm) {
			return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown permission %q", p))
		}
		out = append(out, perm)
	}
	return out, nil
}

// normalizeList lowercases and trims each value, dropping blanks and
// repeats. Order is preserved.
func normalizeList(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// APIKey is the aggregate for a third-party integration credential.
//
// Invariants:
//   - SecretHash is a bcrypt hash; the raw key is never stored
//   - KeyPrefix is unique and immutable
//   - UsageCount only increases, by exactly one per authentication
//   - an inactive or expired key never authenticates
type APIKey struct {
	ID               id.APIKeyID  `json:"id"`
	KeyPrefix        string       `json:"key_prefix"`
	SecretHash       string       `json:"-"`
	Name             string       `json:"name"`
	Company          string       `json:"company"`
	Description      string       `json:"description"`
	Environment      Environment  `json:"environment"`
	Permissions      []Permission `json:"permissions"`
	RateLimitPerHour int          `json:"rate_limit_per_hour"`
	Active           bool         `json:"active"`
	UsageCount       int64        `json:"usage_count"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
	ExpiresAt        *time.Time   `json:"expires_at,omitempty"`
	LastUsedAt       *time.Time   `json:"last_used_at,omitempty"`
}

// NewAPIKey builds an active key, applying defaults for permissions and
// rate limit.
func NewAPIKey(keyID id.APIKeyID, prefix, secretHash string, req CreateRequest, now time.Time) (*APIKey, error) {
	if prefix == "" || secretHash == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "key prefix and hash are required")
	}
	perms := req.Permissions
	if len(perms) == 0 {
		perms = slices.Clone(DefaultPermissions)
	}
	rate := req.RateLimitPerHour
	if rate == 0 {
		rate = DefaultRateLimitPerHour
	}
	var expiresAt *time.Time
	if req.ExpiresIn > 0 {
		at := now.Add(req.ExpiresIn)
		expiresAt = &at
	}
	return &APIKey{
		ID:               keyID,
		KeyPrefix:        prefix,
		SecretHash:       secretHash,
		Name:             req.Name,
		Company:          req.Company,
		Description:      req.Description,
		Environment:      req.Environment,
		Permissions:      perms,
		RateLimitPerHour: rate,
		Active:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
		ExpiresAt:        expiresAt,
	}, nil
}

func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}

// CheckUsable reports why a key cannot authenticate, or nil.
func (k *APIKey) CheckUsable(now time.Time) error {
	if !k.Active {
		return dErrors.New(dErrors.CodeUnauthorized, "api key is inactive")
	}
	if k.IsExpired(now) {
		return dErrors.New(dErrors.CodeUnauthorized, "api key has expired")
	}
	return nil
}

func (k *APIKey) HasPermission(p Permission) bool {
	return slices.Contains(k.Permissions, p)
}

// ApplyUsage records one authentication if the counter still equals
// expected. Stores call it under whatever makes the check atomic.
func (k *APIKey) ApplyUsage(expected int64, now time.Time) error {
	if k.UsageCount != expected {
		return fmt.Errorf("usage count is %d, expected %d: %w", k.UsageCount, expected, sentinel.ErrConflict)
	}
	k.UsageCount++
	at := now
	k.LastUsedAt = &at
	return nil
}

// Deactivate turns the key off. Deactivating twice is a no-op.
func (k *APIKey) Deactivate(now time.Time) {
	if !k.Active {
		return
	}
	k.Active = false
	k.UpdatedAt = now
}

func (k *APIKey) Clone() *APIKey {
	if k == nil {
		return nil
	}
	c := *k
	c.Permissions = slices.Clone(k.Permissions)
	if k.ExpiresAt != nil {
		at := *k.ExpiresAt
		c.ExpiresAt = &at
	}
	if k.LastUsedAt != nil {
		at := *k.LastUsedAt
		c.LastUsedAt = &at
	}
	return &c
}
