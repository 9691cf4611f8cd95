package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"geoverify/internal/geo"
	"geoverify/internal/verification/models"
	id "geoverify/pkg/domain"
	"geoverify/pkg/platform/sentinel"
)

const pqUniqueViolation = "23505"

const tokenColumns = `id, recipient, claimed_latitude, claimed_longitude, status,
	issuer_kind, issuer_id, created_at, expires_at, updated_at, consumed_at, result, version`

// PostgresStore persists tokens in PostgreSQL. Status changes are a single
// conditional UPDATE so concurrent writers across instances serialize on
// the row.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, token *models.Token) error {
	recipient, err := json.Marshal(token.Recipient)
	if err != nil {
		return fmt.Errorf("marshal recipient: %w", err)
	}
	var lat, lon sql.NullFloat64
	if token.ClaimedCoordinate != nil {
		lat = sql.NullFloat64{Float64: token.ClaimedCoordinate.Latitude, Valid: true}
		lon = sql.NullFloat64{Float64: token.ClaimedCoordinate.Longitude, Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO verification_tokens (`+tokenColumns+`)
		VALUES ($1, $2::jsonb, $3, $4, $5, $6, $7, $8, $9, $10, NULL, NULL, $11)
	`, token.ID.String(), string(recipient), lat, lon, string(token.Status),
		string(token.IssuedBy.Kind), token.IssuedBy.ID,
		token.CreatedAt, token.ExpiresAt, token.UpdatedAt, token.Version)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return fmt.Errorf("token %s already exists: %w", token.ID.Short(), sentinel.ErrConflict)
		}
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, tokenID id.TokenID) (*models.Token, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM verification_tokens WHERE id = $1`, tokenID.String())
	token, err := scanToken(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("token not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find token: %w", err)
	}
	return token, nil
}

// CompareAndSetStatus issues UPDATE ... WHERE status = expected. Zero rows
// means either the token is missing or another writer got there first.
func (s *PostgresStore) CompareAndSetStatus(ctx context.Context, tokenID id.TokenID, expected, next models.Status, result *models.Result, now time.Time) (*models.Token, error) {
	if err := models.CheckTransition(expected, next); err != nil {
		return nil, err
	}

	consumes := next.Consumes()
	var resultJSON sql.NullString
	if consumes && result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}
		resultJSON = sql.NullString{String: string(raw), Valid: true}
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE verification_tokens
		SET status = $3,
			updated_at = $4,
			version = version + 1,
			consumed_at = CASE WHEN $5 THEN $4 ELSE consumed_at END,
			result = CASE WHEN $5 THEN $6::jsonb ELSE result END
		WHERE id = $1 AND status = $2
		RETURNING `+tokenColumns,
		tokenID.String(), string(expected), string(next), now, consumes, resultJSON)
	token, err := scanToken(row)
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("update token status: %w", err)
	}

	current, findErr := s.FindByID(ctx, tokenID)
	if findErr != nil {
		return nil, findErr
	}
	return current, fmt.Errorf("token status is %s, expected %s: %w", current.Status, expected, sentinel.ErrConflict)
}

func (s *PostgresStore) List(ctx context.Context, filter models.TokenFilter) ([]*models.Token, error) {
	kind, issuer := issuerArgs(filter)
	var limit sql.NullInt64
	if filter.Limit > 0 {
		limit = sql.NullInt64{Int64: int64(filter.Limit), Valid: true}
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+tokenColumns+`
		FROM verification_tokens
		WHERE ($1 = '' OR issuer_kind = $1)
			AND ($2 = '' OR issuer_id = $2)
			AND ($3 = '' OR status = $3)
		ORDER BY created_at DESC
		LIMIT $4
	`, kind, issuer, string(filter.Status), limit)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	var out []*models.Token
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		out = append(out, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tokens: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) CountByStatus(ctx context.Context, filter models.TokenFilter) (map[models.Status]int, error) {
	kind, issuer := issuerArgs(filter)
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM verification_tokens
		WHERE ($1 = '' OR issuer_kind = $1)
			AND ($2 = '' OR issuer_id = $2)
		GROUP BY status
	`, kind, issuer)
	if err != nil {
		return nil, fmt.Errorf("count tokens: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[models.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return counts, nil
}

func (s *PostgresStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM verification_tokens WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

func issuerArgs(filter models.TokenFilter) (kind, issuer string) {
	if filter.IssuedBy == nil {
		return "", ""
	}
	return string(filter.IssuedBy.Kind), filter.IssuedBy.ID
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (*models.Token, error) {
	var (
		token      models.Token
		tokenID    string
		recipient  []byte
		lat, lon   sql.NullFloat64
		status     string
		kind       string
		consumedAt sql.NullTime
		result     []byte
	)
	if err := row.Scan(&tokenID, &recipient, &lat, &lon, &status, &kind, &token.IssuedBy.ID,
		&token.CreatedAt, &token.ExpiresAt, &token.UpdatedAt, &consumedAt, &result, &token.Version); err != nil {
		return nil, err
	}
	token.ID = id.TokenID(tokenID)
	token.Status = models.Status(status)
	token.IssuedBy.Kind = id.PrincipalKind(kind)
	if err := json.Unmarshal(recipient, &token.Recipient); err != nil {
		return nil, fmt.Errorf("unmarshal recipient: %w", err)
	}
	if lat.Valid && lon.Valid {
		token.ClaimedCoordinate = &geo.Coordinate{Latitude: lat.Float64, Longitude: lon.Float64}
	}
	if consumedAt.Valid {
		at := consumedAt.Time
		token.ConsumedAt = &at
	}
	if len(result) > 0 {
		token.Result = &models.Result{}
		if err := json.Unmarshal(result, token.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return &token, nil
}
