package genquota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/genquota/clock"
	"github.com/xraph/genquota/generation"
	"github.com/xraph/genquota/history"
	"github.com/xraph/genquota/id"
	"github.com/xraph/genquota/plugin"
	"github.com/xraph/genquota/quota"
	"github.com/xraph/genquota/store"
	"github.com/xraph/genquota/usage"
)

const (
	// DefaultMonthlyLimit is the limit Remaining applies when none is configured.
	DefaultMonthlyLimit int64 = 100

	// DefaultCreateRaceRetries is the number of patch retries after losing a
	// create race.
	DefaultCreateRaceRetries = 1

	// MaxCreateRaceRetries caps WithCreateRaceRetries.
	MaxCreateRaceRetries = 3

	// MaxIncrementCount is the largest count a single IncrementUsage accepts.
	MaxIncrementCount int64 = 1_000_000
)

// Ledger is the usage quota engine. It keeps no per-user state in process;
// every call is resolved against the store.
type Ledger struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger
	clock   clock.Clock
	newID   func() id.ID

	// Configuration
	defaultLimit      int64
	createRaceRetries int
	skipMigrate       bool
}

// New creates a new Ledger instance.
func New(s store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:             s,
		plugins:           plugin.NewRegistry(),
		logger:            slog.Default(),
		clock:             clock.System{},
		newID:             id.NewGenerationID,
		defaultLimit:      DefaultMonthlyLimit,
		createRaceRetries: DefaultCreateRaceRetries,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Option configures a Ledger instance.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
		l.plugins.WithLogger(logger)
	}
}

// WithClock sets the clock used for period keys and timestamps.
func WithClock(c clock.Clock) Option {
	return func(l *Ledger) {
		l.clock = c
	}
}

// WithIDGenerator sets the generator for generation record ids.
func WithIDGenerator(fn func() id.ID) Option {
	return func(l *Ledger) {
		l.newID = fn
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(l *Ledger) {
		_ = l.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithHookTimeout bounds how long a single plugin hook may run.
func WithHookTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		l.plugins.WithTimeout(d)
	}
}

// WithoutMigrate makes Start skip store migration. Plugins are still
// initialized.
func WithoutMigrate() Option {
	return func(l *Ledger) {
		l.skipMigrate = true
	}
}

// WithDefaultLimit sets the monthly limit used by Remaining.
func WithDefaultLimit(limit int64) Option {
	return func(l *Ledger) {
		l.defaultLimit = limit
	}
}

// WithCreateRaceRetries sets how many times the atomic patch is retried after
// a create conflict. Values below 1 are raised to 1 and values above
// MaxCreateRaceRetries are lowered to it.
func WithCreateRaceRetries(n int) Option {
	return func(l *Ledger) {
		l.createRaceRetries = min(max(n, 1), MaxCreateRaceRetries)
	}
}

// Plugins returns the plugin registry.
func (l *Ledger) Plugins() *plugin.Registry {
	return l.plugins
}

// Store returns the underlying store.
func (l *Ledger) Store() store.Store {
	return l.store
}

// DefaultLimit returns the monthly limit used by Remaining.
func (l *Ledger) DefaultLimit() int64 {
	return l.defaultLimit
}

// Start migrates the store, unless WithoutMigrate is set, and initializes
// plugins.
func (l *Ledger) Start(ctx context.Context) error {
	if !l.skipMigrate {
		if err := l.store.Migrate(ctx); err != nil {
			return err
		}
	}

	l.plugins.EmitInit(ctx, l)

	l.logger.Info("genquota started",
		"default_limit", l.defaultLimit,
		"create_race_retries", l.createRaceRetries,
		"migrate", !l.skipMigrate,
		"plugins", l.plugins.Count(),
	)

	return nil
}

// Stop shuts down plugins and closes the store.
func (l *Ledger) Stop() error {
	l.plugins.EmitShutdown(context.Background())
	return l.store.Close()
}

// ──────────────────────────────────────────────────
// Quota Gate
// ──────────────────────────────────────────────────

// CheckQuota reports how much of limit userID has used this month. A user
// without a period document has used nothing. The result is advisory and
// reserves nothing.
func (l *Ledger) CheckQuota(ctx context.Context, userID string, limit int64) (*quota.Result, error) {
	if userID == "" {
		return nil, opError(OpCheckQuota, userID, missingUser())
	}

	periodID := usage.Key(userID, l.clock.Now())

	var used int64
	p, err := l.store.GetPeriod(ctx, userID, periodID)
	switch {
	case err == nil:
		used = p.Total
	case IsNotFound(err):
		used = 0
	default:
		return nil, opError(OpCheckQuota, userID, err)
	}

	result := quota.Evaluate(periodID, used, limit)
	l.plugins.EmitQuotaChecked(ctx, userID, result)
	if !result.Allowed {
		l.plugins.EmitQuotaExhausted(ctx, userID, used, limit)
	}

	return result, nil
}

// Remaining returns what is left of the default monthly limit for userID.
func (l *Ledger) Remaining(ctx context.Context, userID string) (int64, error) {
	result, err := l.CheckQuota(ctx, userID, l.defaultLimit)
	if err != nil {
		return 0, err
	}
	return result.Remaining, nil
}

// ──────────────────────────────────────────────────
// Usage Counter
// ──────────────────────────────────────────────────

// IncrementUsage adds count generations of typ to userID's current month.
// A count below 1 is counted as 1; a count above MaxIncrementCount is
// rejected.
//
// The delta is applied with the store's atomic patch. When the month has no
// document yet one is created; if another writer creates it first the patch
// is retried against that document. Any other store error is returned
// unchanged inside an OpError.
func (l *Ledger) IncrementUsage(ctx context.Context, userID string, typ generation.Type, count int64) error {
	if userID == "" {
		return opError(OpIncrementUsage, userID, missingUser())
	}
	if !typ.Valid() {
		return opError(OpIncrementUsage, userID, invalidType(typ))
	}
	if count < 1 {
		count = 1
	}
	if count > MaxIncrementCount {
		return opError(OpIncrementUsage, userID, ValidationError{
			Field:   "count",
			Message: fmt.Sprintf("must not exceed %d", MaxIncrementCount),
		})
	}

	now := l.clock.Now()
	periodID := usage.Key(userID, now)
	inc := usage.Increment{Type: typ, Count: count, At: now}

	err := l.store.IncrementPeriod(ctx, userID, periodID, inc)
	if err == nil {
		l.plugins.EmitUsageIncremented(ctx, userID, typ, count)
		return nil
	}
	if !IsNotFound(err) {
		return opError(OpIncrementUsage, userID, err)
	}

	err = l.store.CreatePeriod(ctx, usage.NewPeriod(userID, now, typ, count))
	if err == nil {
		l.plugins.EmitUsageIncremented(ctx, userID, typ, count)
		return nil
	}
	if !IsConflict(err) {
		return opError(OpIncrementUsage, userID, err)
	}

	l.logger.Debug("usage period created concurrently, retrying increment",
		"user_id", userID,
		"period_id", periodID,
	)
	l.plugins.EmitCreateRace(ctx, userID, periodID)

	for attempt := 1; ; attempt++ {
		err = l.store.IncrementPeriod(ctx, userID, periodID, inc)
		if err == nil {
			l.plugins.EmitUsageIncremented(ctx, userID, typ, count)
			return nil
		}
		if attempt >= l.createRaceRetries || !IsNotFound(err) {
			return opError(OpIncrementUsage, userID, err)
		}
	}
}

// Usage returns userID's period for yearMonth ("YYYY-MM"), or the current
// month when yearMonth is empty. A month without a document is returned as a
// zero period.
func (l *Ledger) Usage(ctx context.Context, userID, yearMonth string) (*usage.Period, error) {
	if userID == "" {
		return nil, opError(OpGetUsage, userID, missingUser())
	}

	at := l.clock.Now()
	if yearMonth != "" {
		t, err := usage.ParseYearMonth(yearMonth)
		if err != nil {
			return nil, opError(OpGetUsage, userID, ValidationError{
				Field:   "year_month",
				Message: "must be YYYY-MM",
				Err:     ErrInvalidInput,
			})
		}
		at = t
	}

	periodID := usage.Key(userID, at)
	p, err := l.store.GetPeriod(ctx, userID, periodID)
	switch {
	case err == nil:
		return p, nil
	case IsNotFound(err):
		empty := usage.NewPeriod(userID, at, generation.TypeMoodboard, 0)
		empty.LastUpdatedAt = time.Time{}
		return empty, nil
	default:
		return nil, opError(OpGetUsage, userID, err)
	}
}

// ──────────────────────────────────────────────────
// History Recorder
// ──────────────────────────────────────────────────

// RecordGeneration appends a generation record and returns its id. The
// payload is stripped of embedded binary data first. Recording is not
// coupled to IncrementUsage; callers that need both call both.
func (l *Ledger) RecordGeneration(ctx context.Context, in history.Input) (id.ID, error) {
	if in.UserID == "" {
		return id.Nil, opError(OpRecordGeneration, in.UserID, missingUser())
	}
	if !in.Type.Valid() {
		return id.Nil, opError(OpRecordGeneration, in.UserID, invalidType(in.Type))
	}

	r := history.NewRecord(l.newID(), in, l.clock.Now())
	if err := l.store.CreateRecord(ctx, r); err != nil {
		return id.Nil, opError(OpRecordGeneration, in.UserID, err)
	}

	l.plugins.EmitGenerationRecorded(ctx, r)
	return r.ID, nil
}

// GetGeneration returns one of userID's generation records.
func (l *Ledger) GetGeneration(ctx context.Context, userID string, recordID id.GenerationID) (*history.Record, error) {
	if userID == "" {
		return nil, opError(OpGetGeneration, userID, missingUser())
	}
	r, err := l.store.GetRecord(ctx, userID, recordID)
	if err != nil {
		return nil, opError(OpGetGeneration, userID, err)
	}
	return r, nil
}

// ListGenerations returns userID's generation records, newest first.
func (l *Ledger) ListGenerations(ctx context.Context, userID string, opts history.ListOpts) ([]*history.Record, error) {
	if userID == "" {
		return nil, opError(OpListGenerations, userID, missingUser())
	}
	if opts.Type != "" && !opts.Type.Valid() {
		return nil, opError(OpListGenerations, userID, invalidType(opts.Type))
	}
	if opts.Limit < 0 || opts.Offset < 0 {
		return nil, opError(OpListGenerations, userID, ValidationError{
			Field:   "limit",
			Message: "limit and offset must not be negative",
		})
	}

	records, err := l.store.ListRecords(ctx, userID, opts)
	if err != nil {
		return nil, opError(OpListGenerations, userID, err)
	}
	return records, nil
}

func missingUser() error {
	return ValidationError{Field: "user_id", Message: "must not be empty"}
}

func invalidType(typ generation.Type) error {
	return ValidationError{
		Field:   "type",
		Message: fmt.Sprintf("unknown generation type %q", typ),
		Err:     ErrInvalidType,
	}
}
