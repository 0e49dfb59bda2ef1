// Package sqlite implements store.Store on SQLite through database/sql and
// the pure Go modernc.org/sqlite driver. Usage periods live in one row each;
// the atomic patch is a single UPDATE using json_set on counts_by_type.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/xraph/genquota"
	"github.com/xraph/genquota/history"
	"github.com/xraph/genquota/id"
	genquotastore "github.com/xraph/genquota/store"
	"github.com/xraph/genquota/usage"
)

// compile-time interface check
var _ genquotastore.Store = (*Store)(nil)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

// Store implements store.Store using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a SQLite store on an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens the SQLite database at dsn with a single connection, which
// serializes writers the way SQLite requires.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("genquota/sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("genquota/sqlite: set busy_timeout: %w", err)
	}
	return New(db), nil
}

// DB returns the underlying database for direct access.
func (s *Store) DB() *sql.DB { return s.db }

// Migrate creates the required tables and indexes.
func (s *Store) Migrate(_ context.Context) error {
	return s.runMigrations()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Usage Period Store ====================

func (s *Store) GetPeriod(ctx context.Context, userID, periodID string) (*usage.Period, error) {
	m := new(periodModel)
	err := s.db.QueryRowContext(ctx, `
SELECT id, user_id, year_month, counts_by_type, total, last_updated_at
FROM genquota_usage_periods
WHERE id = ? AND user_id = ?`, periodID, userID).
		Scan(&m.ID, &m.UserID, &m.YearMonth, &m.CountsByType, &m.Total, &m.LastUpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("genquota/sqlite: period %q: %w", periodID, genquota.ErrNotFound)
		}
		return nil, fmt.Errorf("genquota/sqlite: get period: %w", err)
	}

	p, err := fromPeriodModel(m)
	if err != nil {
		return nil, fmt.Errorf("genquota/sqlite: decode period %q: %w", periodID, err)
	}
	return p, nil
}

func (s *Store) CreatePeriod(ctx context.Context, p *usage.Period) error {
	m, err := toPeriodModel(p)
	if err != nil {
		return fmt.Errorf("genquota/sqlite: encode period: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO genquota_usage_periods (id, user_id, year_month, counts_by_type, total, last_updated_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.YearMonth, m.CountsByType, m.Total, m.LastUpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("genquota/sqlite: period %q: %w: %w", p.ID, genquota.ErrConflict, err)
		}
		return fmt.Errorf("genquota/sqlite: create period: %w", err)
	}
	return nil
}

func (s *Store) IncrementPeriod(ctx context.Context, userID, periodID string, inc usage.Increment) error {
	path := "$." + string(inc.Type)

	res, err := s.db.ExecContext(ctx, `
UPDATE genquota_usage_periods
SET total = total + ?,
    counts_by_type = json_set(counts_by_type, ?, COALESCE(json_extract(counts_by_type, ?), 0) + ?),
    last_updated_at = ?
WHERE id = ? AND user_id = ?`,
		inc.Count, path, path, inc.Count, formatTime(inc.At), periodID, userID)
	if err != nil {
		return fmt.Errorf("genquota/sqlite: increment period: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("genquota/sqlite: increment period: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("genquota/sqlite: period %q: %w", periodID, genquota.ErrNotFound)
	}
	return nil
}

// ==================== Generation Record Store ====================

func (s *Store) CreateRecord(ctx context.Context, r *history.Record) error {
	m, err := toRecordModel(r)
	if err != nil {
		return fmt.Errorf("genquota/sqlite: encode record: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO genquota_generations (id, user_id, type, prompt, asset_ref, payload, metadata, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.Type, m.Prompt, m.AssetRef, m.Payload, m.Metadata, m.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("genquota/sqlite: record %q: %w: %w", m.ID, genquota.ErrConflict, err)
		}
		return fmt.Errorf("genquota/sqlite: create record: %w", err)
	}
	return nil
}

const recordColumns = `id, user_id, type, prompt, asset_ref, payload, metadata, created_at`

func (s *Store) GetRecord(ctx context.Context, userID string, recordID id.GenerationID) (*history.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM genquota_generations WHERE id = ? AND user_id = ?`,
		recordID.String(), userID)

	r, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("genquota/sqlite: record %q: %w", recordID, genquota.ErrNotFound)
		}
		return nil, fmt.Errorf("genquota/sqlite: get record: %w", err)
	}
	return r, nil
}

func (s *Store) ListRecords(ctx context.Context, userID string, opts history.ListOpts) ([]*history.Record, error) {
	var (
		where = []string{"user_id = ?"}
		args  = []any{userID}
	)
	if opts.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(opts.Type))
	}

	query := `SELECT ` + recordColumns + ` FROM genquota_generations WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY created_at DESC, id DESC`

	// SQLite needs a LIMIT before OFFSET; -1 means unbounded.
	limit := -1
	if opts.Limit > 0 {
		limit = opts.Limit
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, max(opts.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("genquota/sqlite: list records: %w", err)
	}
	defer rows.Close()

	result := make([]*history.Record, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("genquota/sqlite: list records: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("genquota/sqlite: list records: %w", err)
	}
	return result, nil
}

// ==================== Helpers ====================

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*history.Record, error) {
	m := new(recordModel)
	if err := sc.Scan(&m.ID, &m.UserID, &m.Type, &m.Prompt, &m.AssetRef, &m.Payload, &m.Metadata, &m.CreatedAt); err != nil {
		return nil, err
	}
	return fromRecordModel(m)
}

// isUniqueViolation reports a primary key or unique constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		// Extended result codes disabled.
		return strings.Contains(sqliteErr.Error(), "UNIQUE constraint failed")
	default:
		return false
	}
}
