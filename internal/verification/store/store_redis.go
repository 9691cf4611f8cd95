package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"geoverify/internal/verification/models"
	id "geoverify/pkg/domain"
	"geoverify/pkg/platform/sentinel"
)

const (
	redisTokenPrefix    = "geoverify:token:"
	redisCreatedIndex   = "geoverify:tokens:created"
	redisExpiryIndex    = "geoverify:tokens:expiry"
	defaultRedisKeep    = 7 * 24 * time.Hour
	maxWatchRetries     = 5
	redisListBatchLimit = 500
)

// RedisStore keeps each token as a JSON value with a key TTL of
// ExpiresAt + retention. Two sorted sets index tokens by creation and expiry
// time for listing and sweeping.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

type RedisOption func(*RedisStore)

// WithRetention sets how long a token outlives its expiry before redis
// evicts it.
func WithRetention(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		if d > 0 {
			s.retention = d
		}
	}
}

func NewRedis(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, retention: defaultRedisKeep}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func tokenKey(tokenID id.TokenID) string {
	return redisTokenPrefix + tokenID.String()
}

func (s *RedisStore) ttlFor(token *models.Token, now time.Time) time.Duration {
	ttl := token.ExpiresAt.Add(s.retention).Sub(now)
	if ttl < time.Second {
		return time.Second
	}
	return ttl
}

// createScript indexes the token and then writes it, all in one script.
// A failing ZADD raises before the SET, so no token is left unindexed.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[5])
redis.call('ZADD', KEYS[3], ARGV[4], ARGV[5])
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`)

func (s *RedisStore) Create(ctx context.Context, token *models.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	created, err := createScript.Run(ctx, s.client,
		[]string{tokenKey(token.ID), redisCreatedIndex, redisExpiryIndex},
		data,
		s.ttlFor(token, time.Now()).Milliseconds(),
		token.CreatedAt.UnixNano(),
		token.ExpiresAt.Unix(),
		token.ID.String(),
	).Int()
	if err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	if created == 0 {
		return fmt.Errorf("token %s already exists: %w", token.ID.Short(), sentinel.ErrConflict)
	}
	return nil
}

func (s *RedisStore) FindByID(ctx context.Context, tokenID id.TokenID) (*models.Token, error) {
	data, err := s.client.Get(ctx, tokenKey(tokenID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("token not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("get token: %w", err)
	}
	return decodeToken(data)
}

// CompareAndSetStatus watches the token key, applies the transition in
// memory and writes it back in MULTI/EXEC. A concurrent write aborts the
// transaction and the read is retried, so the loser observes the winner's
// status and reports ErrConflict.
func (s *RedisStore) CompareAndSetStatus(ctx context.Context, tokenID id.TokenID, expected, next models.Status, result *models.Result, now time.Time) (*models.Token, error) {
	if err := models.CheckTransition(expected, next); err != nil {
		return nil, err
	}
	key := tokenKey(tokenID)

	var updated *models.Token
	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("token not found: %w", sentinel.ErrNotFound)
			}
			return fmt.Errorf("get token: %w", err)
		}
		token, err := decodeToken(data)
		if err != nil {
			return err
		}
		if err := token.ApplyTransition(expected, next, result.Clone(), now); err != nil {
			updated = token
			return err
		}
		encoded, err := json.Marshal(token)
		if err != nil {
			return fmt.Errorf("marshal token: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, key, encoded, redis.SetArgs{KeepTTL: true})
			return nil
		})
		if err != nil {
			return err
		}
		updated = token
		return nil
	}

	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err := s.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return updated, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("token %s contended after %d attempts: %w", tokenID.Short(), maxWatchRetries, sentinel.ErrConflict)
}

// loadIndexed fetches tokens listed in the creation index, newest first.
// Index entries whose key has been evicted are skipped.
func (s *RedisStore) loadIndexed(ctx context.Context) ([]*models.Token, error) {
	ids, err := s.client.ZRevRange(ctx, redisCreatedIndex, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read token index: %w", err)
	}
	var out []*models.Token
	for start := 0; start < len(ids); start += redisListBatchLimit {
		end := min(start+redisListBatchLimit, len(ids))
		keys := make([]string, 0, end-start)
		for _, tokenID := range ids[start:end] {
			keys = append(keys, redisTokenPrefix+tokenID)
		}
		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("load tokens: %w", err)
		}
		for _, v := range values {
			raw, ok := v.(string)
			if !ok {
				continue
			}
			token, err := decodeToken([]byte(raw))
			if err != nil {
				return nil, err
			}
			out = append(out, token)
		}
	}
	return out, nil
}

func (s *RedisStore) List(ctx context.Context, filter models.TokenFilter) ([]*models.Token, error) {
	tokens, err := s.loadIndexed(ctx)
	if err != nil {
		return nil, err
	}
	var out []*models.Token
	for _, t := range tokens {
		if filter.Matches(t) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *RedisStore) CountByStatus(ctx context.Context, filter models.TokenFilter) (map[models.Status]int, error) {
	tokens, err := s.loadIndexed(ctx)
	if err != nil {
		return nil, err
	}
	filter.Status = ""
	counts := make(map[models.Status]int)
	for _, t := range tokens {
		if filter.Matches(t) {
			counts[t.Status]++
		}
	}
	return counts, nil
}

func (s *RedisStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := s.client.ZRangeByScore(ctx, redisExpiryIndex, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("(%d", cutoff.Unix()),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("read expiry index: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, 0, len(ids))
	members := make([]any, 0, len(ids))
	for _, tokenID := range ids {
		keys = append(keys, redisTokenPrefix+tokenID)
		members = append(members, tokenID)
	}
	var deleted *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, redisCreatedIndex, members...)
		pipe.ZRem(ctx, redisExpiryIndex, members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	return int(deleted.Val()), nil
}

func decodeToken(data []byte) (*models.Token, error) {
	var token models.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("unmarshal token: %w", err)
	}
	return &token, nil
}
