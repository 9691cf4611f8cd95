package models

import (
	"fmt"
	"strings"
	"time"

	"geoverify/internal/geo"
	id "geoverify/pkg/domain"
	"geoverify/pkg/platform/sentinel"
)

// Recipient is who the link was issued to and the address they claim.
// Immutable once the token is issued.
type Recipient struct {
	FullName         string `json:"full_name"`
	Email            string `json:"email"`
	Address          string `json:"address"`
	City             string `json:"city"`
	State            string `json:"state"`
	ZipCode          string `json:"zip_code"`
	OrganizationName string `json:"organization_name"`
}

// FullAddress formats the postal address for geocoding and display.
func (r Recipient) FullAddress() string {
	return strings.TrimSpace(fmt.Sprintf("%s, %s, %s %s", r.Address, r.City, r.State, r.ZipCode))
}

// Token is the aggregate owned by the token store.
//
// Invariants:
//   - ID, Recipient, ClaimedCoordinate, CreatedAt, ExpiresAt and IssuedBy
//     never change after Create
//   - Status only moves along Status.CanTransitionTo edges
//   - ConsumedAt and Result are written once, with the consuming transition
//   - Version increases by one on every successful transition
type Token struct {
	ID                id.TokenID      `json:"id"`
	Recipient         Recipient       `json:"recipient"`
	ClaimedCoordinate *geo.Coordinate `json:"claimed_coordinate,omitempty"`
	Status            Status          `json:"status"`
	IssuedBy          id.Principal    `json:"issued_by"`
	CreatedAt         time.Time       `json:"created_at"`
	ExpiresAt         time.Time       `json:"expires_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	ConsumedAt        *time.Time      `json:"consumed_at,omitempty"`
	Result            *Result         `json:"result,omitempty"`
	Version           int64           `json:"version"`
}

// NewToken builds a freshly issued token.
func NewToken(tokenID id.TokenID, recipient Recipient, claimed *geo.Coordinate, issuedBy id.Principal, now time.Time, ttl time.Duration) *Token {
	return &Token{
		ID:                tokenID,
		Recipient:         recipient,
		ClaimedCoordinate: claimed,
		Status:            StatusIssued,
		IssuedBy:          issuedBy,
		CreatedAt:         now,
		ExpiresAt:         now.Add(ttl),
		UpdatedAt:         now,
		Version:           1,
	}
}

// IsExpired is strict: a token is still usable at exactly ExpiresAt.
func (t *Token) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// ExpiresIn is the remaining lifetime, floored at zero.
func (t *Token) ExpiresIn(now time.Time) time.Duration {
	if d := t.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// ApplyTransition moves the token from expected to next. Stores call it
// while holding whatever makes the read-check-write atomic for them.
// Returns sentinel.ErrConflict when the current status is not expected and
// sentinel.ErrInvalidState when expected → next is not a legal edge.
func (t *Token) ApplyTransition(expected, next Status, result *Result, now time.Time) error {
	if err := CheckTransition(expected, next); err != nil {
		return err
	}
	if t.Status != expected {
		return fmt.Errorf("token status is %s, expected %s: %w", t.Status, expected, sentinel.ErrConflict)
	}
	t.Status = next
	t.UpdatedAt = now
	t.Version++
	if next.Consumes() {
		consumedAt := now
		t.ConsumedAt = &consumedAt
		t.Result = result
	}
	return nil
}

// CheckTransition validates an edge without touching a token. SQL stores use
// it before issuing their conditional update.
func CheckTransition(expected, next Status) error {
	if !expected.CanTransitionTo(next) {
		return fmt.Errorf("illegal transition %s -> %s: %w", expected, next, sentinel.ErrInvalidState)
	}
	return nil
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (t *Token) Clone() *Token {
	if t == nil {
		return nil
	}
	c := *t
	if t.ClaimedCoordinate != nil {
		coord := *t.ClaimedCoordinate
		c.ClaimedCoordinate = &coord
	}
	if t.ConsumedAt != nil {
		at := *t.ConsumedAt
		c.ConsumedAt = &at
	}
	c.Result = t.Result.Clone()
	return &c
}

// TokenFilter narrows List and CountByStatus. Zero value matches everything.
type TokenFilter struct {
	IssuedBy *id.Principal
	Status   Status
	Limit    int
}

// Matches reports whether t passes the filter (limit is applied by stores).
func (f TokenFilter) Matches(t *Token) bool {
	if f.IssuedBy != nil && (t.IssuedBy.Kind != f.IssuedBy.Kind || t.IssuedBy.ID != f.IssuedBy.ID) {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	return true
}

// EffectiveStatus reports expired for an open token past its expiry even
// before the lazy expiry write has happened.
func (t *Token) EffectiveStatus(now time.Time) Status {
	if !t.Status.IsTerminal() && t.IsExpired(now) {
		return StatusExpired
	}
	return t.Status
}
