// Package postgres implements store.Store on PostgreSQL through pgx. The
// counters of a usage period are a JSONB object patched in place by a single
// UPDATE, so concurrent writers never lose an increment.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xraph/genquota"
	"github.com/xraph/genquota/history"
	"github.com/xraph/genquota/id"
	genquotastore "github.com/xraph/genquota/store"
	"github.com/xraph/genquota/usage"
)

// compile-time interface check
var _ genquotastore.Store = (*Store)(nil)

// uniqueViolation is the SQLSTATE for a unique or primary key violation.
const uniqueViolation = "23505"

// Store implements store.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a PostgreSQL store on a connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects a new pool to dsn.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("genquota/postgres: connect: %w", err)
	}
	return New(pool), nil
}

// Pool returns the underlying pool for direct access.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Migrate creates the required tables and indexes.
func (s *Store) Migrate(_ context.Context) error {
	return s.runMigrations()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// ==================== Usage Period Store ====================

func (s *Store) GetPeriod(ctx context.Context, userID, periodID string) (*usage.Period, error) {
	m := new(periodModel)
	err := s.pool.QueryRow(ctx, `
SELECT id, user_id, year_month, counts_by_type, total, last_updated_at
FROM genquota_usage_periods
WHERE id = $1 AND user_id = $2`, periodID, userID).
		Scan(&m.ID, &m.UserID, &m.YearMonth, &m.CountsByType, &m.Total, &m.LastUpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("genquota/postgres: period %q: %w", periodID, genquota.ErrNotFound)
		}
		return nil, fmt.Errorf("genquota/postgres: get period: %w", err)
	}

	p, err := fromPeriodModel(m)
	if err != nil {
		return nil, fmt.Errorf("genquota/postgres: decode period %q: %w", periodID, err)
	}
	return p, nil
}

func (s *Store) CreatePeriod(ctx context.Context, p *usage.Period) error {
	m, err := toPeriodModel(p)
	if err != nil {
		return fmt.Errorf("genquota/postgres: encode period: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
INSERT INTO genquota_usage_periods (id, user_id, year_month, counts_by_type, total, last_updated_at)
VALUES ($1, $2, $3, $4::jsonb, $5, $6)`,
		m.ID, m.UserID, m.YearMonth, string(m.CountsByType), m.Total, m.LastUpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("genquota/postgres: period %q: %w: %w", p.ID, genquota.ErrConflict, err)
		}
		return fmt.Errorf("genquota/postgres: create period: %w", err)
	}
	return nil
}

func (s *Store) IncrementPeriod(ctx context.Context, userID, periodID string, inc usage.Increment) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE genquota_usage_periods
SET total = total + $1,
    counts_by_type = jsonb_set(
        counts_by_type,
        ARRAY[$2::text],
        to_jsonb(COALESCE((counts_by_type->>$2::text)::bigint, 0) + $1),
        true
    ),
    last_updated_at = $3
WHERE id = $4 AND user_id = $5`,
		inc.Count, string(inc.Type), inc.At.UTC(), periodID, userID)
	if err != nil {
		return fmt.Errorf("genquota/postgres: increment period: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("genquota/postgres: period %q: %w", periodID, genquota.ErrNotFound)
	}
	return nil
}

// ==================== Generation Record Store ====================

func (s *Store) CreateRecord(ctx context.Context, r *history.Record) error {
	m, err := toRecordModel(r)
	if err != nil {
		return fmt.Errorf("genquota/postgres: encode record: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
INSERT INTO genquota_generations (id, user_id, type, prompt, asset_ref, payload, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8)`,
		m.ID, m.UserID, m.Type, m.Prompt, m.AssetRef, string(m.Payload), string(m.Metadata), m.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("genquota/postgres: record %q: %w: %w", m.ID, genquota.ErrConflict, err)
		}
		return fmt.Errorf("genquota/postgres: create record: %w", err)
	}
	return nil
}

const recordColumns = `id, user_id, type, prompt, asset_ref, payload, metadata, created_at`

func (s *Store) GetRecord(ctx context.Context, userID string, recordID id.GenerationID) (*history.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM genquota_generations WHERE id = $1 AND user_id = $2`,
		recordID.String(), userID)

	r, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("genquota/postgres: record %q: %w", recordID, genquota.ErrNotFound)
		}
		return nil, fmt.Errorf("genquota/postgres: get record: %w", err)
	}
	return r, nil
}

func (s *Store) ListRecords(ctx context.Context, userID string, opts history.ListOpts) ([]*history.Record, error) {
	var (
		where = []string{"user_id = $1"}
		args  = []any{userID}
	)
	if opts.Type != "" {
		args = append(args, string(opts.Type))
		where = append(where, "type = $"+strconv.Itoa(len(args)))
	}

	query := `SELECT ` + recordColumns + ` FROM genquota_generations WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += " OFFSET $" + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("genquota/postgres: list records: %w", err)
	}
	defer rows.Close()

	result := make([]*history.Record, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("genquota/postgres: list records: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("genquota/postgres: list records: %w", err)
	}
	return result, nil
}

// ==================== Helpers ====================

func scanRecord(row pgx.Row) (*history.Record, error) {
	m := new(recordModel)
	if err := row.Scan(&m.ID, &m.UserID, &m.Type, &m.Prompt, &m.AssetRef, &m.Payload, &m.Metadata, &m.CreatedAt); err != nil {
		return nil, err
	}
	return fromRecordModel(m)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
