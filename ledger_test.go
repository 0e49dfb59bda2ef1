package genquota_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/genquota"
	"github.com/xraph/genquota/clock"
	"github.com/xraph/genquota/generation"
	"github.com/xraph/genquota/history"
	"github.com/xraph/genquota/id"
	"github.com/xraph/genquota/quota"
	"github.com/xraph/genquota/store"
	"github.com/xraph/genquota/store/memory"
	"github.com/xraph/genquota/types"
	"github.com/xraph/genquota/usage"
)

var (
	march   = time.Date(2025, time.March, 14, 9, 30, 0, 0, time.UTC)
	errBoom = errors.New("boom: store unavailable")
)

// scriptedStore wraps a store and replays queued errors before delegating.
// A nil entry in a queue delegates that call.
type scriptedStore struct {
	store.Store

	mu         sync.Mutex
	getErrs    []error
	incErrs    []error
	createErrs []error
	recordErrs []error
	calls      []string
}

func (s *scriptedStore) next(call string, queue *[]error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	if len(*queue) == 0 {
		return nil
	}
	err := (*queue)[0]
	*queue = (*queue)[1:]
	return err
}

func (s *scriptedStore) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *scriptedStore) Migrate(ctx context.Context) error {
	s.mu.Lock()
	s.calls = append(s.calls, "migrate")
	s.mu.Unlock()
	return s.Store.Migrate(ctx)
}

func (s *scriptedStore) GetPeriod(ctx context.Context, userID, periodID string) (*usage.Period, error) {
	if err := s.next("get", &s.getErrs); err != nil {
		return nil, err
	}
	return s.Store.GetPeriod(ctx, userID, periodID)
}

func (s *scriptedStore) IncrementPeriod(ctx context.Context, userID, periodID string, inc usage.Increment) error {
	if err := s.next("increment", &s.incErrs); err != nil {
		return err
	}
	return s.Store.IncrementPeriod(ctx, userID, periodID, inc)
}

func (s *scriptedStore) CreatePeriod(ctx context.Context, p *usage.Period) error {
	if err := s.next("create", &s.createErrs); err != nil {
		return err
	}
	return s.Store.CreatePeriod(ctx, p)
}

func (s *scriptedStore) CreateRecord(ctx context.Context, r *history.Record) error {
	if err := s.next("record", &s.recordErrs); err != nil {
		return err
	}
	return s.Store.CreateRecord(ctx, r)
}

// barrierStore holds every CreatePeriod call until n callers have reached
// it, so all of them observe the period as missing before any creates it.
type barrierStore struct {
	store.Store
	arrived sync.WaitGroup
}

func newBarrierStore(s store.Store, n int) *barrierStore {
	b := &barrierStore{Store: s}
	b.arrived.Add(n)
	return b
}

func (b *barrierStore) CreatePeriod(ctx context.Context, p *usage.Period) error {
	b.arrived.Done()
	b.arrived.Wait()
	return b.Store.CreatePeriod(ctx, p)
}

// eventPlugin records the hooks it receives.
type eventPlugin struct {
	mu          sync.Mutex
	inits       int
	checked     int
	exhausted   int
	incremented int64
	races       int
	recorded    []*history.Record
}

func (p *eventPlugin) Name() string { return "events" }

func (p *eventPlugin) OnInit(_ context.Context, _ interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inits++
	return nil
}

func (p *eventPlugin) OnQuotaChecked(_ context.Context, _ string, _ *quota.Result) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checked++
	return nil
}

func (p *eventPlugin) OnQuotaExhausted(_ context.Context, _ string, _, _ int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exhausted++
	return nil
}

func (p *eventPlugin) OnUsageIncremented(_ context.Context, _ string, _ generation.Type, count int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.incremented += count
	return nil
}

func (p *eventPlugin) OnCreateRace(_ context.Context, _, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.races++
	return nil
}

func (p *eventPlugin) OnGenerationRecorded(_ context.Context, r *history.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recorded = append(p.recorded, r)
	return nil
}

func newLedger(s store.Store, opts ...genquota.Option) *genquota.Ledger {
	opts = append([]genquota.Option{genquota.WithClock(clock.NewFake(march))}, opts...)
	return genquota.New(s, opts...)
}

func notFound() error {
	return genquota.ErrNotFound
}

func conflict() error {
	return genquota.ErrConflict
}

func assertQuota(t *testing.T, got *quota.Result, used, remaining int64, allowed bool) {
	t.Helper()
	if got.Used != used || got.Remaining != remaining || got.Allowed != allowed {
		t.Errorf("quota: got {used:%d remaining:%d allowed:%v}, want {used:%d remaining:%d allowed:%v}",
			got.Used, got.Remaining, got.Allowed, used, remaining, allowed)
	}
}

// ──────────────────────────────────────────────────
// Quota Gate
// ──────────────────────────────────────────────────

func TestCheckQuotaZeroState(t *testing.T) {
	ctx := context.Background()
	q := newLedger(memory.New())

	for _, limit := range []int64{1, 10, 500} {
		res, err := q.CheckQuota(ctx, "fresh-user", limit)
		if err != nil {
			t.Fatalf("CheckQuota(%d): %v", limit, err)
		}
		assertQuota(t, res, 0, limit, true)
		if res.PeriodID != "fresh-user:2025-03" {
			t.Errorf("PeriodID: got %q", res.PeriodID)
		}
	}
}

func TestExampleScenario(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	q := newLedger(s)

	res, err := q.CheckQuota(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("CheckQuota: %v", err)
	}
	assertQuota(t, res, 0, 10, true)

	for i := range 3 {
		if err := q.IncrementUsage(ctx, "u1", generation.TypeMoodboard, 1); err != nil {
			t.Fatalf("IncrementUsage %d: %v", i, err)
		}
	}

	p, err := s.GetPeriod(ctx, "u1", "u1:2025-03")
	if err != nil {
		t.Fatalf("GetPeriod: %v", err)
	}
	if p.Total != 3 || p.Count(generation.TypeMoodboard) != 3 {
		t.Errorf("period: got total=%d moodboard=%d, want 3 and 3", p.Total, p.Count(generation.TypeMoodboard))
	}

	res, err = q.CheckQuota(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("CheckQuota: %v", err)
	}
	assertQuota(t, res, 3, 7, true)
}

func TestExhaustionScenario(t *testing.T) {
	ctx := context.Background()
	events := &eventPlugin{}
	q := newLedger(memory.New(), genquota.WithPlugin(events))

	for i := range 9 {
		if err := q.IncrementUsage(ctx, "u1", generation.TypeRender, 1); err != nil {
			t.Fatalf("IncrementUsage %d: %v", i, err)
		}
	}
	res, err := q.CheckQuota(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("CheckQuota: %v", err)
	}
	assertQuota(t, res, 9, 1, true)

	if err := q.IncrementUsage(ctx, "u1", generation.TypeRender, 1); err != nil {
		t.Fatalf("tenth IncrementUsage: %v", err)
	}
	res, err = q.CheckQuota(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("CheckQuota: %v", err)
	}
	assertQuota(t, res, 10, 0, false)

	if events.exhausted != 1 {
		t.Errorf("OnQuotaExhausted: got %d calls, want 1", events.exhausted)
	}
	if events.checked != 2 {
		t.Errorf("OnQuotaChecked: got %d calls, want 2", events.checked)
	}
}

func TestCheckQuotaOverLimit(t *testing.T) {
	ctx := context.Background()
	q := newLedger(memory.New())

	if err := q.IncrementUsage(ctx, "u1", generation.TypeUpscale, 12); err != nil {
		t.Fatalf("IncrementUsage: %v", err)
	}
	res, err := q.CheckQuota(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("CheckQuota: %v", err)
	}
	assertQuota(t, res, 12, 0, false)

	res, err = q.CheckQuota(ctx, "nobody", 0)
	if err != nil {
		t.Fatalf("CheckQuota zero limit: %v", err)
	}
	assertQuota(t, res, 0, 0, false)
}

func TestCheckQuotaIsAdvisory(t *testing.T) {
	ctx := context.Background()
	q := newLedger(memory.New())

	first, err := q.CheckQuota(ctx, "u1", 1)
	if err != nil {
		t.Fatalf("CheckQuota: %v", err)
	}
	second, err := q.CheckQuota(ctx, "u1", 1)
	if err != nil {
		t.Fatalf("CheckQuota: %v", err)
	}
	if !first.Allowed || !second.Allowed {
		t.Error("a check must not reserve allowance for the next caller")
	}
}

func TestCheckQuotaStoreFailure(t *testing.T) {
	ctx := context.Background()
	s := &scriptedStore{Store: memory.New(), getErrs: []error{errBoom}}
	q := newLedger(s)

	res, err := q.CheckQuota(ctx, "u1", 10)
	if err == nil {
		t.Fatalf("CheckQuota: expected error, got %+v", res)
	}
	if res != nil {
		t.Errorf("a failed check must not produce a result: %+v", res)
	}
	if !errors.Is(err, errBoom) {
		t.Errorf("store error lost: %v", err)
	}
	if !genquota.IsQuotaCheckFailure(err) {
		t.Errorf("IsQuotaCheckFailure(%v) = false", err)
	}
	if genquota.IsUsageUpdateFailure(err) {
		t.Error("a quota check failure must not read as a usage update failure")
	}
}

func TestRemainingUsesDefaultLimit(t *testing.T) {
	ctx := context.Background()
	q := newLedger(memory.New(), genquota.WithDefaultLimit(5))

	if err := q.IncrementUsage(ctx, "u1", generation.TypeTexture, 2); err != nil {
		t.Fatalf("IncrementUsage: %v", err)
	}
	remaining, err := q.Remaining(ctx, "u1")
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	if remaining != 3 {
		t.Errorf("Remaining: got %d, want 3", remaining)
	}
}

// ──────────────────────────────────────────────────
// Usage Counter
// ──────────────────────────────────────────────────

func TestIncrementUsageCreatesPeriod(t *testing.T) {
	ctx := context.Background()
	s := &scriptedStore{Store: memory.New()}
	q := newLedger(s)

	if err := q.IncrementUsage(ctx, "u1", generation.TypeRender, 2); err != nil {
		t.Fatalf("IncrementUsage: %v", err)
	}
	if err := q.IncrementUsage(ctx, "u1", generation.TypeRender, 1); err != nil {
		t.Fatalf("IncrementUsage: %v", err)
	}

	want := []string{"increment", "create", "increment"}
	assertCalls(t, s.Calls(), want)

	p, err := q.Usage(ctx, "u1", "")
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if p.Total != 3 || p.Count(generation.TypeRender) != 3 {
		t.Errorf("period: %+v", p)
	}
	for _, typ := range []generation.Type{generation.TypeMoodboard, generation.TypeTexture, generation.TypeUpscale} {
		if c, ok := p.CountsByType[typ]; !ok || c != 0 {
			t.Errorf("CountsByType[%s]: got %d (present=%v), want explicit 0", typ, c, ok)
		}
	}
}

func TestConservationUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	const callers = 12
	events := &eventPlugin{}
	s := newBarrierStore(memory.New(), callers)
	q := newLedger(s, genquota.WithPlugin(events))

	var g errgroup.Group
	var wantTotal int64
	wantByType := make(map[generation.Type]int64)
	for i := range callers {
		typ := generation.All()[i%len(generation.All())]
		count := int64(i%4 + 1)
		wantTotal += count
		wantByType[typ] += count
		g.Go(func() error {
			return q.IncrementUsage(ctx, "u1", typ, count)
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("IncrementUsage: %v", err)
	}

	p, err := q.Usage(ctx, "u1", "")
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if p.Total != wantTotal {
		t.Errorf("Total: got %d, want %d", p.Total, wantTotal)
	}
	for typ, want := range wantByType {
		if p.Count(typ) != want {
			t.Errorf("CountsByType[%s]: got %d, want %d", typ, p.Count(typ), want)
		}
	}
	if events.races != callers-1 {
		t.Errorf("create races: got %d, want %d", events.races, callers-1)
	}
	if events.incremented != wantTotal {
		t.Errorf("OnUsageIncremented total: got %d, want %d", events.incremented, wantTotal)
	}
}

func TestCreateRaceResolution(t *testing.T) {
	ctx := context.Background()
	s := newBarrierStore(memory.New(), 2)
	q := newLedger(s)

	var g errgroup.Group
	g.Go(func() error { return q.IncrementUsage(ctx, "u1", generation.TypeMoodboard, 1) })
	g.Go(func() error { return q.IncrementUsage(ctx, "u1", generation.TypeRender, 1) })
	if err := g.Wait(); err != nil {
		t.Fatalf("racing IncrementUsage: %v", err)
	}

	p, err := q.Usage(ctx, "u1", "")
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if p.Total != 2 || p.Count(generation.TypeMoodboard) != 1 || p.Count(generation.TypeRender) != 1 {
		t.Errorf("period after race: total=%d counts=%v", p.Total, p.CountsByType)
	}
}

func TestMonotonicity(t *testing.T) {
	ctx := context.Background()
	q := newLedger(memory.New())

	var requested, last int64
	for i := range 20 {
		count := int64(i%5 + 1)
		requested += count
		if err := q.IncrementUsage(ctx, "u1", generation.All()[i%4], count); err != nil {
			t.Fatalf("IncrementUsage %d: %v", i, err)
		}
		p, err := q.Usage(ctx, "u1", "")
		if err != nil {
			t.Fatalf("Usage: %v", err)
		}
		if p.Total < last {
			t.Fatalf("total decreased: %d after %d", p.Total, last)
		}
		if p.Total > requested {
			t.Fatalf("total %d exceeds requested %d", p.Total, requested)
		}
		last = p.Total
	}
	if last != requested {
		t.Errorf("final total: got %d, want %d", last, requested)
	}
}

func TestCountCoercion(t *testing.T) {
	ctx := context.Background()
	q := newLedger(memory.New())

	for _, count := range []int64{0, -5} {
		if err := q.IncrementUsage(ctx, "u1", generation.TypeRender, count); err != nil {
			t.Fatalf("IncrementUsage(%d): %v", count, err)
		}
	}

	p, err := q.Usage(ctx, "u1", "")
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if p.Total != 2 {
		t.Errorf("non-positive counts must count as 1 each: total %d", p.Total)
	}
}

func TestValidationBeforeStore(t *testing.T) {
	ctx := context.Background()
	s := &scriptedStore{Store: memory.New()}
	q := newLedger(s)

	tests := []struct {
		name    string
		call    func() error
		wantErr error
	}{
		{"unknown type", func() error {
			return q.IncrementUsage(ctx, "u1", generation.Type("video"), 1)
		}, genquota.ErrInvalidType},
		{"empty user increment", func() error {
			return q.IncrementUsage(ctx, "", generation.TypeRender, 1)
		}, genquota.ErrInvalidInput},
		{"empty user check", func() error {
			_, err := q.CheckQuota(ctx, "", 10)
			return err
		}, genquota.ErrInvalidInput},
		{"unknown type record", func() error {
			_, err := q.RecordGeneration(ctx, history.Input{UserID: "u1", Type: "video"})
			return err
		}, genquota.ErrInvalidType},
		{"count too large", func() error {
			return q.IncrementUsage(ctx, "u1", generation.TypeRender, genquota.MaxIncrementCount+1)
		}, genquota.ErrInvalidInput},
		{"bad month", func() error {
			_, err := q.Usage(ctx, "u1", "2025-13")
			return err
		}, genquota.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
			if !genquota.IsValidation(err) {
				t.Errorf("IsValidation(%v) = false", err)
			}
			if genquota.Classify(err) != genquota.KindValidation {
				t.Errorf("Classify: got %s, want validation", genquota.Classify(err))
			}
		})
	}

	if calls := s.Calls(); len(calls) != 0 {
		t.Errorf("validation failures reached the store: %v", calls)
	}
}

func TestIncrementUsageRejectsHugeCount(t *testing.T) {
	ctx := context.Background()
	q := newLedger(memory.New())

	if err := q.IncrementUsage(ctx, "u1", generation.TypeMoodboard, 1); err != nil {
		t.Fatalf("IncrementUsage: %v", err)
	}
	err := q.IncrementUsage(ctx, "u1", generation.TypeMoodboard, math.MaxInt64)
	if !genquota.IsValidation(err) || !genquota.IsUsageUpdateFailure(err) {
		t.Fatalf("IncrementUsage(MaxInt64): got %v, want validation failure", err)
	}

	res, err := q.CheckQuota(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("CheckQuota: %v", err)
	}
	assertQuota(t, res, 1, 9, true)

	p, err := q.Usage(ctx, "u1", "")
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if p.Count(generation.TypeMoodboard) != 1 {
		t.Errorf("moodboard: got %d, want 1", p.Count(generation.TypeMoodboard))
	}
}

func TestParseErrorIsValidation(t *testing.T) {
	_, err := generation.Parse("video")
	if !genquota.IsValidation(err) {
		t.Errorf("IsValidation(%v) = false", err)
	}
	if genquota.Classify(err) != genquota.KindValidation {
		t.Errorf("Classify: got %s, want validation", genquota.Classify(err))
	}
}

func TestCreateRaceRetriesOnce(t *testing.T) {
	// A single patch retry after a create conflict is the default. A second
	// failure on that retry is returned to the caller; this is a deliberate
	// choice, and WithCreateRaceRetries raises the bound.
	ctx := context.Background()
	s := &scriptedStore{
		Store:      memory.New(),
		incErrs:    []error{notFound(), notFound()},
		createErrs: []error{conflict()},
	}
	q := newLedger(s)

	err := q.IncrementUsage(ctx, "u1", generation.TypeRender, 1)
	if !genquota.IsNotFound(err) {
		t.Fatalf("IncrementUsage: got %v, want the retry's not found error", err)
	}
	if !genquota.IsUsageUpdateFailure(err) {
		t.Errorf("IsUsageUpdateFailure(%v) = false", err)
	}
	assertCalls(t, s.Calls(), []string{"increment", "create", "increment"})
}

func TestCreateRaceRetriesBounded(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds within bound", func(t *testing.T) {
		mem := memory.New()
		if err := mem.CreatePeriod(ctx, usage.NewPeriod("u1", march, generation.TypeRender, 1)); err != nil {
			t.Fatalf("seed period: %v", err)
		}
		s := &scriptedStore{
			Store:   mem,
			incErrs: []error{notFound(), notFound(), notFound()},
		}
		q := newLedger(s, genquota.WithCreateRaceRetries(3))

		if err := q.IncrementUsage(ctx, "u1", generation.TypeRender, 1); err != nil {
			t.Fatalf("IncrementUsage: %v", err)
		}
		assertCalls(t, s.Calls(), []string{"increment", "create", "increment", "increment", "increment"})

		p, _ := mem.GetPeriod(ctx, "u1", "u1:2025-03")
		if p.Total != 2 {
			t.Errorf("Total: got %d, want 2", p.Total)
		}
	})

	t.Run("capped", func(t *testing.T) {
		s := &scriptedStore{
			Store:      memory.New(),
			incErrs:    []error{notFound(), notFound(), notFound(), notFound(), notFound(), notFound()},
			createErrs: []error{conflict()},
		}
		q := newLedger(s, genquota.WithCreateRaceRetries(10))

		if err := q.IncrementUsage(ctx, "u1", generation.TypeRender, 1); !genquota.IsNotFound(err) {
			t.Fatalf("IncrementUsage: got %v, want not found", err)
		}
		if n := len(s.Calls()); n != 2+genquota.MaxCreateRaceRetries {
			t.Errorf("store calls: got %d, want %d", n, 2+genquota.MaxCreateRaceRetries)
		}
	})
}

func TestFatalErrorsPropagateUnchanged(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		store *scriptedStore
		want  []string
	}{
		{
			name:  "patch",
			store: &scriptedStore{incErrs: []error{errBoom}},
			want:  []string{"increment"},
		},
		{
			name:  "create",
			store: &scriptedStore{incErrs: []error{notFound()}, createErrs: []error{errBoom}},
			want:  []string{"increment", "create"},
		},
		{
			name:  "retry",
			store: &scriptedStore{incErrs: []error{notFound(), errBoom}, createErrs: []error{conflict()}},
			want:  []string{"increment", "create", "increment"},
		},
		{
			name:  "conflict on retry path",
			store: &scriptedStore{incErrs: []error{notFound(), conflict()}, createErrs: []error{conflict()}},
			want:  []string{"increment", "create", "increment"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.store.Store = memory.New()
			q := newLedger(tt.store, genquota.WithCreateRaceRetries(3))

			err := q.IncrementUsage(ctx, "u1", generation.TypeRender, 1)
			if err == nil {
				t.Fatal("expected error")
			}
			var opErr *genquota.OpError
			if !errors.As(err, &opErr) {
				t.Fatalf("expected *OpError, got %T", err)
			}
			if opErr.Op != genquota.OpIncrementUsage || opErr.UserID != "u1" {
				t.Errorf("OpError: got op=%s user=%s", opErr.Op, opErr.UserID)
			}
			assertCalls(t, tt.store.Calls(), tt.want)
		})
	}

	s := &scriptedStore{Store: memory.New(), incErrs: []error{errBoom}}
	err := newLedger(s).IncrementUsage(ctx, "u1", generation.TypeRender, 1)
	if !errors.Is(err, errBoom) {
		t.Errorf("store error not preserved: %v", err)
	}
	if genquota.Classify(errors.Unwrap(err)) != genquota.KindOther {
		t.Errorf("Classify: got %s, want other", genquota.Classify(errors.Unwrap(err)))
	}
}

func TestMonthRollover(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2025, time.March, 31, 23, 59, 0, 0, time.UTC))
	q := genquota.New(memory.New(), genquota.WithClock(clk))

	if err := q.IncrementUsage(ctx, "u1", generation.TypeRender, 4); err != nil {
		t.Fatalf("IncrementUsage: %v", err)
	}
	clk.Advance(2 * time.Minute)

	res, err := q.CheckQuota(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("CheckQuota: %v", err)
	}
	assertQuota(t, res, 0, 10, true)
	if res.PeriodID != "u1:2025-04" {
		t.Errorf("PeriodID: got %q, want u1:2025-04", res.PeriodID)
	}

	previous, err := q.Usage(ctx, "u1", "2025-03")
	if err != nil {
		t.Fatalf("Usage(2025-03): %v", err)
	}
	if previous.Total != 4 {
		t.Errorf("March total: got %d, want 4", previous.Total)
	}

	april, err := q.Usage(ctx, "u1", "")
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if april.Total != 0 || april.ID != "u1:2025-04" || !april.LastUpdatedAt.IsZero() {
		t.Errorf("empty April period: %+v", april)
	}
}

// ──────────────────────────────────────────────────
// History Recorder
// ──────────────────────────────────────────────────

func TestRecordGeneration(t *testing.T) {
	ctx := context.Background()
	fixed := id.NewGenerationID()
	events := &eventPlugin{}
	q := newLedger(memory.New(),
		genquota.WithIDGenerator(func() id.ID { return fixed }),
		genquota.WithPlugin(events),
	)

	metadata := types.MustFromAny(map[string]any{"thumbnail": "data:image/png;base64,AAAA"})
	recordID, err := q.RecordGeneration(ctx, history.Input{
		UserID:   "u1",
		Type:     generation.TypeTexture,
		Prompt:   "herringbone oak",
		AssetRef: "gs://textures/oak.png",
		Payload: types.MustFromAny(map[string]any{
			"reference": "data:image/webp;base64,UklGR",
			"swatches":  []any{"data:image/png;base64,AAAA", map[string]any{"hex": "#c8a27a"}},
		}),
		Metadata: metadata,
	})
	if err != nil {
		t.Fatalf("RecordGeneration: %v", err)
	}
	if recordID.String() != fixed.String() {
		t.Errorf("record id: got %s, want %s", recordID, fixed)
	}

	got, err := q.GetGeneration(ctx, "u1", recordID)
	if err != nil {
		t.Fatalf("GetGeneration: %v", err)
	}
	wantPayload := types.MustFromAny(map[string]any{
		"swatches": []any{"data:image/png;base64,AAAA", map[string]any{"hex": "#c8a27a"}},
	})
	if !types.Equal(got.Payload, wantPayload) {
		t.Errorf("Payload: got %v, want %v", got.Payload.Any(), wantPayload.Any())
	}
	if !types.Equal(got.Metadata, metadata) {
		t.Errorf("metadata must be stored as given: got %v", got.Metadata.Any())
	}
	if !got.CreatedAt.Equal(march) {
		t.Errorf("CreatedAt: got %v, want %v", got.CreatedAt, march)
	}
	if len(events.recorded) != 1 || events.recorded[0].Prompt != "herringbone oak" {
		t.Errorf("OnGenerationRecorded: got %v", events.recorded)
	}
}

func TestRecordGenerationDuplicateID(t *testing.T) {
	ctx := context.Background()
	fixed := id.NewGenerationID()
	q := newLedger(memory.New(), genquota.WithIDGenerator(func() id.ID { return fixed }))

	in := history.Input{UserID: "u1", Type: generation.TypeRender, Prompt: "a"}
	if _, err := q.RecordGeneration(ctx, in); err != nil {
		t.Fatalf("first RecordGeneration: %v", err)
	}
	_, err := q.RecordGeneration(ctx, in)
	if !genquota.IsConflict(err) || !genquota.IsHistoryFailure(err) {
		t.Errorf("second RecordGeneration: got %v, want history conflict", err)
	}
}

func TestGetGenerationByParsedID(t *testing.T) {
	ctx := context.Background()
	q := newLedger(memory.New())

	recordID, err := q.RecordGeneration(ctx, history.Input{UserID: "u1", Type: generation.TypeMoodboard, Prompt: "walnut"})
	if err != nil {
		t.Fatalf("RecordGeneration: %v", err)
	}

	parsed, err := genquota.ParseGenerationID(recordID.String())
	if err != nil {
		t.Fatalf("ParseGenerationID: %v", err)
	}
	if _, err := q.GetGeneration(ctx, "u1", parsed); err != nil {
		t.Errorf("GetGeneration: %v", err)
	}
	if _, err := q.GetGeneration(ctx, "u2", parsed); !genquota.IsNotFound(err) {
		t.Errorf("other user's record: got %v, want not found", err)
	}
	if _, err := genquota.ParseGenerationID(id.NewAuditEventID().String()); err == nil {
		t.Error("ParseGenerationID accepted an audit event id")
	}
}

func TestIncrementAndRecordIndependent(t *testing.T) {
	ctx := context.Background()
	s := &scriptedStore{Store: memory.New(), incErrs: []error{errBoom}, recordErrs: []error{nil, errBoom}}
	q := newLedger(s)

	in := history.Input{UserID: "u1", Type: generation.TypeRender, Prompt: "loft"}

	incErr := q.IncrementUsage(ctx, "u1", generation.TypeRender, 1)
	if !genquota.IsUsageUpdateFailure(incErr) {
		t.Fatalf("IncrementUsage: got %v, want usage update failure", incErr)
	}
	if _, err := q.RecordGeneration(ctx, in); err != nil {
		t.Fatalf("RecordGeneration after failed increment: %v", err)
	}

	if err := q.IncrementUsage(ctx, "u1", generation.TypeRender, 1); err != nil {
		t.Fatalf("IncrementUsage: %v", err)
	}
	_, recErr := q.RecordGeneration(ctx, in)
	if !genquota.IsHistoryFailure(recErr) || !errors.Is(recErr, errBoom) {
		t.Fatalf("RecordGeneration: got %v, want history failure", recErr)
	}

	p, err := q.Usage(ctx, "u1", "")
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if p.Total != 1 {
		t.Errorf("Total: got %d, want 1", p.Total)
	}
	records, err := q.ListGenerations(ctx, "u1", history.ListOpts{})
	if err != nil {
		t.Fatalf("ListGenerations: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("records: got %d, want 1", len(records))
	}
}

func TestListGenerations(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(march)
	q := genquota.New(memory.New(), genquota.WithClock(clk))

	for _, typ := range []generation.Type{generation.TypeRender, generation.TypeUpscale, generation.TypeRender} {
		if _, err := q.RecordGeneration(ctx, history.Input{UserID: "u1", Type: typ, Prompt: string(typ)}); err != nil {
			t.Fatalf("RecordGeneration: %v", err)
		}
		clk.Advance(time.Second)
	}

	renders, err := q.ListGenerations(ctx, "u1", history.ListOpts{Type: generation.TypeRender})
	if err != nil {
		t.Fatalf("ListGenerations: %v", err)
	}
	if len(renders) != 2 || !renders[0].CreatedAt.After(renders[1].CreatedAt) {
		t.Errorf("renders newest first: %v", renders)
	}

	if _, err := q.ListGenerations(ctx, "u1", history.ListOpts{Limit: -1}); !genquota.IsValidation(err) {
		t.Errorf("negative limit: got %v, want validation error", err)
	}
}

func TestStartStop(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	q := newLedger(s)

	if err := q.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := q.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, genquota.ErrStoreClosed) {
		t.Errorf("Stop must close the store: Ping returned %v", err)
	}
}

func TestStartWithoutMigrate(t *testing.T) {
	tests := []struct {
		name string
		opts []genquota.Option
		want []string
	}{
		{"migrate", nil, []string{"migrate"}},
		{"without migrate", []genquota.Option{genquota.WithoutMigrate()}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &scriptedStore{Store: memory.New()}
			events := &eventPlugin{}
			q := newLedger(s, append(tt.opts, genquota.WithPlugin(events))...)

			if err := q.Start(context.Background()); err != nil {
				t.Fatalf("Start: %v", err)
			}
			assertCalls(t, s.Calls(), tt.want)
			if events.inits != 1 {
				t.Errorf("OnInit calls: got %d, want 1", events.inits)
			}
		})
	}
}

func assertCalls(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("store calls: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("store calls: got %v, want %v", got, want)
		}
	}
}
