package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"geoverify/internal/apikey/models"
	id "geoverify/pkg/domain"
	"geoverify/pkg/platform/sentinel"
	"geoverify/pkg/platform/tx"
)

const uniqueViolation = "23505"

const keyColumns = `id, key_prefix, secret_hash, name, company, description, environment,
	permissions, rate_limit_per_hour, active, usage_count, created_at, updated_at,
	expires_at, last_used_at`

// PostgresStore persists API keys in the api_keys table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, key *models.APIKey) error {
	_, err := tx.QuerierFrom(ctx, s.db).ExecContext(ctx, `
		INSERT INTO api_keys (`+keyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		key.ID, key.KeyPrefix, key.SecretHash, key.Name, key.Company, key.Description,
		string(key.Environment), pq.Array(permissionStrings(key.Permissions)),
		key.RateLimitPerHour, key.Active, key.UsageCount, key.CreatedAt, key.UpdatedAt,
		nullTime(key.ExpiresAt), nullTime(key.LastUsedAt),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("api key %s: %w", key.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, keyID id.APIKeyID) (*models.APIKey, error) {
	row := tx.QuerierFrom(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE id = $1`, keyID)
	return scanKey(row)
}

func (s *PostgresStore) FindByPrefix(ctx context.Context, prefix string) (*models.APIKey, error) {
	row := tx.QuerierFrom(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE key_prefix = $1`, prefix)
	return scanKey(row)
}

func (s *PostgresStore) List(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := tx.QuerierFrom(ctx, s.db).QueryContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()
	var out []*models.APIKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return out, nil
}

// Update locks the row, applies mutate and writes the mutable columns back
// in one transaction.
func (s *PostgresStore) Update(ctx context.Context, keyID id.APIKeyID, mutate func(*models.APIKey) error) (*models.APIKey, error) {
	var updated *models.APIKey
	err := tx.Run(ctx, s.db, func(ctx context.Context) error {
		q := tx.QuerierFrom(ctx, s.db)
		current, err := scanKey(q.QueryRowContext(ctx,
			`SELECT `+keyColumns+` FROM api_keys WHERE id = $1 FOR UPDATE`, keyID))
		if err != nil {
			return err
		}
		if err := mutate(current); err != nil {
			return err
		}
		updated, err = scanKey(q.QueryRowContext(ctx, `
			UPDATE api_keys
			SET name = $2, description = $3, permissions = $4, rate_limit_per_hour = $5,
				active = $6, updated_at = $7
			WHERE id = $1
			RETURNING `+keyColumns,
			keyID, current.Name, current.Description,
			pq.Array(permissionStrings(current.Permissions)),
			current.RateLimitPerHour, current.Active, current.UpdatedAt,
		))
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// RecordUsage increments usage_count only when it still equals expected.
// A lost race returns the current row with ErrConflict.
func (s *PostgresStore) RecordUsage(ctx context.Context, keyID id.APIKeyID, expected int64, now time.Time) (*models.APIKey, error) {
	q := tx.QuerierFrom(ctx, s.db)
	updated, err := scanKey(q.QueryRowContext(ctx, `
		UPDATE api_keys
		SET usage_count = usage_count + 1, last_used_at = $3
		WHERE id = $1 AND usage_count = $2
		RETURNING `+keyColumns,
		keyID, expected, now,
	))
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, err
	}
	current, findErr := s.FindByID(ctx, keyID)
	if findErr != nil {
		return nil, findErr
	}
	return current, fmt.Errorf("api key %s usage moved: %w", keyID, sentinel.ErrConflict)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(row rowScanner) (*models.APIKey, error) {
	var (
		k           models.APIKey
		env         string
		perms       []string
		expiresAt   sql.NullTime
		lastUsedAt  sql.NullTime
		description sql.NullString
	)
	err := row.Scan(&k.ID, &k.KeyPrefix, &k.SecretHash, &k.Name, &k.Company, &description,
		&env, pq.Array(&perms), &k.RateLimitPerHour, &k.Active, &k.UsageCount,
		&k.CreatedAt, &k.UpdatedAt, &expiresAt, &lastUsedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("api key: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("scan api key: %w", err)
	}
	k.Environment = models.Environment(env)
	k.Description = description.String
	k.Permissions = make([]models.Permission, 0, len(perms))
	for _, p := range perms {
		k.Permissions = append(k.Permissions, models.Permission(strings.TrimSpace(p)))
	}
	if expiresAt.Valid {
		at := expiresAt.Time
		k.ExpiresAt = &at
	}
	if lastUsedAt.Valid {
		at := lastUsedAt.Time
		k.LastUsedAt = &at
	}
	return &k, nil
}

func permissionStrings(perms []models.Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
