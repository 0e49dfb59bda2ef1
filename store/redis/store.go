// Package redis implements store.Store on Redis. A usage period is a hash
// whose counters are changed with HINCRBY inside a Lua script, so increments
// never race. Keys carry the user id as a hash tag, which keeps every key a
// script touches in one cluster slot.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/genquota"
	"github.com/xraph/genquota/generation"
	"github.com/xraph/genquota/history"
	"github.com/xraph/genquota/id"
	genquotastore "github.com/xraph/genquota/store"
	"github.com/xraph/genquota/usage"
)

// compile-time interface check
var _ genquotastore.Store = (*Store)(nil)

// DefaultKeyPrefix is prepended to every key unless WithKeyPrefix is used.
const DefaultKeyPrefix = "genquota:"

// countField prefixes the hash field of each per-type counter.
const countField = "count:"

// Store implements store.Store using Redis.
type Store struct {
	client    goredis.Cmdable
	keyPrefix string
}

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the key prefix (default "genquota:").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// New creates a Redis store. The client must be a connected
// *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: DefaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open parses a redis:// URL and connects a client to it.
func Open(url string, opts ...Option) (*Store, error) {
	o, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("genquota/redis: parse url: %w", err)
	}
	return New(goredis.NewClient(o), opts...), nil
}

func (s *Store) userKey(userID string) string {
	return s.keyPrefix + "{" + userID + "}"
}

func (s *Store) periodKey(userID, periodID string) string {
	return s.userKey(userID) + ":period:" + periodID
}

func (s *Store) recordKey(userID, recordID string) string {
	return s.userKey(userID) + ":gen:" + recordID
}

func (s *Store) indexKey(userID string, typ generation.Type) string {
	if typ == "" {
		return s.userKey(userID) + ":gens"
	}
	return s.userKey(userID) + ":gens:" + string(typ)
}

// Migrate is a no-op; Redis needs no schema.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client when it supports closing.
func (s *Store) Close() error {
	if c, ok := s.client.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ==================== Usage Period Store ====================

func (s *Store) GetPeriod(ctx context.Context, userID, periodID string) (*usage.Period, error) {
	fields, err := s.client.HGetAll(ctx, s.periodKey(userID, periodID)).Result()
	if err != nil {
		return nil, fmt.Errorf("genquota/redis: get period: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("genquota/redis: period %q: %w", periodID, genquota.ErrNotFound)
	}

	p, err := decodePeriod(fields)
	if err != nil {
		return nil, fmt.Errorf("genquota/redis: decode period %q: %w", periodID, err)
	}
	return p, nil
}

func (s *Store) CreatePeriod(ctx context.Context, p *usage.Period) error {
	created, err := createPeriodScript.Run(ctx, s.client,
		[]string{s.periodKey(p.UserID, p.ID)},
		encodePeriod(p)...,
	).Int()
	if err != nil {
		return fmt.Errorf("genquota/redis: create period: %w", err)
	}
	if created == 0 {
		return fmt.Errorf("genquota/redis: period %q: %w", p.ID, genquota.ErrConflict)
	}
	return nil
}

func (s *Store) IncrementPeriod(ctx context.Context, userID, periodID string, inc usage.Increment) error {
	applied, err := incrementScript.Run(ctx, s.client,
		[]string{s.periodKey(userID, periodID)},
		inc.Count, countField+string(inc.Type), formatTime(inc.At),
	).Int()
	if err != nil {
		return fmt.Errorf("genquota/redis: increment period: %w", err)
	}
	if applied == 0 {
		return fmt.Errorf("genquota/redis: period %q: %w", periodID, genquota.ErrNotFound)
	}
	return nil
}

// ==================== Generation Record Store ====================

func (s *Store) CreateRecord(ctx context.Context, r *history.Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("genquota/redis: encode record: %w", err)
	}

	recordID := r.ID.String()
	created, err := createRecordScript.Run(ctx, s.client,
		[]string{
			s.recordKey(r.UserID, recordID),
			s.indexKey(r.UserID, ""),
			s.indexKey(r.UserID, r.Type),
		},
		string(data), r.CreatedAt.UnixMicro(), recordID,
	).Int()
	if err != nil {
		return fmt.Errorf("genquota/redis: create record: %w", err)
	}
	if created == 0 {
		return fmt.Errorf("genquota/redis: record %q: %w", recordID, genquota.ErrConflict)
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, userID string, recordID id.GenerationID) (*history.Record, error) {
	data, err := s.client.Get(ctx, s.recordKey(userID, recordID.String())).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("genquota/redis: record %q: %w", recordID, genquota.ErrNotFound)
		}
		return nil, fmt.Errorf("genquota/redis: get record: %w", err)
	}

	r := new(history.Record)
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("genquota/redis: decode record %q: %w", recordID, err)
	}
	return r, nil
}

// ListRecords orders by created_at at microsecond resolution, ties broken by
// record id, both descending.
func (s *Store) ListRecords(ctx context.Context, userID string, opts history.ListOpts) ([]*history.Record, error) {
	start := int64(max(opts.Offset, 0))
	stop := int64(-1)
	if opts.Limit > 0 {
		stop = start + int64(opts.Limit) - 1
	}

	ids, err := s.client.ZRevRange(ctx, s.indexKey(userID, opts.Type), start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("genquota/redis: list records: %w", err)
	}
	if len(ids) == 0 {
		return []*history.Record{}, nil
	}

	keys := make([]string, len(ids))
	for i, recordID := range ids {
		keys[i] = s.recordKey(userID, recordID)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("genquota/redis: list records: %w", err)
	}

	result := make([]*history.Record, 0, len(values))
	for i, v := range values {
		data, ok := v.(string)
		if !ok {
			continue
		}
		r := new(history.Record)
		if err := json.Unmarshal([]byte(data), r); err != nil {
			return nil, fmt.Errorf("genquota/redis: decode record %q: %w", ids[i], err)
		}
		result = append(result, r)
	}
	return result, nil
}

// ==================== Helpers ====================

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func encodePeriod(p *usage.Period) []any {
	args := []any{
		"id", p.ID,
		"user_id", p.UserID,
		"year_month", p.YearMonth,
		"total", p.Total,
		"last_updated_at", formatTime(p.LastUpdatedAt),
	}
	for typ, n := range p.CountsByType {
		args = append(args, countField+string(typ), n)
	}
	return args
}

func decodePeriod(fields map[string]string) (*usage.Period, error) {
	p := &usage.Period{
		ID:           fields["id"],
		UserID:       fields["user_id"],
		YearMonth:    fields["year_month"],
		CountsByType: make(map[generation.Type]int64),
	}

	var err error
	if p.Total, err = strconv.ParseInt(fields["total"], 10, 64); err != nil {
		return nil, fmt.Errorf("total: %w", err)
	}
	if p.LastUpdatedAt, err = time.Parse(timeLayout, fields["last_updated_at"]); err != nil {
		return nil, fmt.Errorf("last_updated_at: %w", err)
	}
	p.LastUpdatedAt = p.LastUpdatedAt.UTC()

	for k, v := range fields {
		typ, ok := strings.CutPrefix(k, countField)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		p.CountsByType[generation.Type(typ)] = n
	}
	return p, nil
}
