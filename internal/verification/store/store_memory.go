package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"geoverify/internal/verification/models"
	id "geoverify/pkg/domain"
	"geoverify/pkg/platform/sentinel"
)

// Error Contract (all backends):
//   - ErrNotFound when the token does not exist
//   - ErrConflict when Create hits an existing id, or when a compare-and-set
//     finds a status other than the expected one
//   - ErrInvalidState when the requested edge is not a legal transition
//   - wrapped infrastructure errors otherwise

// tokenEntry serializes mutations of a single token. Tokens never share a
// lock, so operations on different tokens never block each other.
type tokenEntry struct {
	mu    sync.Mutex
	token *models.Token
}

// InMemory keeps tokens in a map for tests and single-instance deployments.
// The map lock only guards membership; status changes take the per-token
// lock.
type InMemory struct {
	mu     sync.RWMutex
	tokens map[id.TokenID]*tokenEntry
}

func NewInMemory() *InMemory {
	return &InMemory{tokens: make(map[id.TokenID]*tokenEntry)}
}

func (s *InMemory) Create(_ context.Context, token *models.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tokens[token.ID]; exists {
		return fmt.Errorf("token %s already exists: %w", token.ID.Short(), sentinel.ErrConflict)
	}
	s.tokens[token.ID] = &tokenEntry{token: token.Clone()}
	return nil
}

func (s *InMemory) entry(tokenID id.TokenID) (*tokenEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.tokens[tokenID]
	return e, ok
}

func (s *InMemory) FindByID(_ context.Context, tokenID id.TokenID) (*models.Token, error) {
	e, ok := s.entry(tokenID)
	if !ok {
		return nil, fmt.Errorf("token not found: %w", sentinel.ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.token.Clone(), nil
}

// CompareAndSetStatus atomically moves a token from expected to next,
// persisting result when next consumes the token.
func (s *InMemory) CompareAndSetStatus(_ context.Context, tokenID id.TokenID, expected, next models.Status, result *models.Result, now time.Time) (*models.Token, error) {
	e, ok := s.entry(tokenID)
	if !ok {
		return nil, fmt.Errorf("token not found: %w", sentinel.ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.token.ApplyTransition(expected, next, result.Clone(), now); err != nil {
		return e.token.Clone(), err
	}
	return e.token.Clone(), nil
}

func (s *InMemory) snapshot() []*models.Token {
	s.mu.RLock()
	entries := make([]*tokenEntry, 0, len(s.tokens))
	for _, e := range s.tokens {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]*models.Token, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.token.Clone())
		e.mu.Unlock()
	}
	return out
}

// List returns matching tokens, newest first.
func (s *InMemory) List(_ context.Context, filter models.TokenFilter) ([]*models.Token, error) {
	var out []*models.Token
	for _, t := range s.snapshot() {
		if filter.Matches(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *InMemory) CountByStatus(_ context.Context, filter models.TokenFilter) (map[models.Status]int, error) {
	counts := make(map[models.Status]int)
	filter.Status = ""
	for _, t := range s.snapshot() {
		if filter.Matches(t) {
			counts[t.Status]++
		}
	}
	return counts, nil
}

// DeleteExpiredBefore removes tokens whose expiry is older than cutoff.
// The time parameter is injected for testability.
func (s *InMemory) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for tokenID, e := range s.tokens {
		e.mu.Lock()
		stale := e.token.ExpiresAt.Before(cutoff)
		e.mu.Unlock()
		if stale {
			delete(s.tokens, tokenID)
			deleted++
		}
	}
	return deleted, nil
}
