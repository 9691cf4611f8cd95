package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"geoverify/internal/apikey/models"
	id "geoverify/pkg/domain"
	"geoverify/pkg/platform/sentinel"
)

// InMemory keeps API keys in process memory. Lookups return copies so
// callers cannot mutate stored state outside the store's lock.
type InMemory struct {
	mu       sync.RWMutex
	keys     map[id.APIKeyID]*models.APIKey
	byPrefix map[string]id.APIKeyID
}

func NewInMemory() *InMemory {
	return &InMemory{
		keys:     make(map[id.APIKeyID]*models.APIKey),
		byPrefix: make(map[string]id.APIKeyID),
	}
}

func (s *InMemory) Create(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key.ID]; ok {
		return fmt.Errorf("api key %s: %w", key.ID, sentinel.ErrConflict)
	}
	if _, ok := s.byPrefix[key.KeyPrefix]; ok {
		return fmt.Errorf("api key prefix: %w", sentinel.ErrConflict)
	}
	s.keys[key.ID] = key.Clone()
	s.byPrefix[key.KeyPrefix] = key.ID
	return nil
}

func (s *InMemory) FindByID(_ context.Context, keyID id.APIKeyID) (*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("api key %s: %w", keyID, sentinel.ErrNotFound)
	}
	return k.Clone(), nil
}

func (s *InMemory) FindByPrefix(_ context.Context, prefix string) (*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keyID, ok := s.byPrefix[prefix]
	if !ok {
		return nil, fmt.Errorf("api key prefix: %w", sentinel.ErrNotFound)
	}
	return s.keys[keyID].Clone(), nil
}

// List returns keys newest first.
func (s *InMemory) List(_ context.Context) ([]*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.APIKey, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, k.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Update runs mutate against a copy of the key under the store lock and
// persists it only when mutate succeeds.
func (s *InMemory) Update(_ context.Context, keyID id.APIKeyID, mutate func(*models.APIKey) error) (*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("api key %s: %w", keyID, sentinel.ErrNotFound)
	}
	working := current.Clone()
	if err := mutate(working); err != nil {
		return nil, err
	}
	working.ID = current.ID
	working.KeyPrefix = current.KeyPrefix
	working.SecretHash = current.SecretHash
	working.UsageCount = current.UsageCount
	s.keys[keyID] = working
	return working.Clone(), nil
}

// RecordUsage increments the usage counter if it still equals expected.
func (s *InMemory) RecordUsage(_ context.Context, keyID id.APIKeyID, expected int64, now time.Time) (*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("api key %s: %w", keyID, sentinel.ErrNotFound)
	}
	if err := current.ApplyUsage(expected, now); err != nil {
		return current.Clone(), err
	}
	return current.Clone(), nil
}
