// Package storetest provides a conformance suite for store.Store
// implementations. Backends call Run from their own tests.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/genquota"
	"github.com/xraph/genquota/clock"
	"github.com/xraph/genquota/generation"
	"github.com/xraph/genquota/history"
	"github.com/xraph/genquota/id"
	"github.com/xraph/genquota/store"
	"github.com/xraph/genquota/types"
	"github.com/xraph/genquota/usage"
)

// Factory returns a fresh, migrated store. The suite does not close it;
// factories register their own cleanup.
type Factory func(t *testing.T) store.Store

// base is a fixed mid-month instant with second precision, so every backend
// round-trips it exactly.
var base = time.Date(2025, time.March, 14, 9, 30, 0, 0, time.UTC)

// Run exercises every store.Store contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("Periods", func(t *testing.T) {
		t.Run("GetMissing", func(t *testing.T) { testGetMissingPeriod(t, newStore(t)) })
		t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGetPeriod(t, newStore(t)) })
		t.Run("CreateConflict", func(t *testing.T) { testCreatePeriodConflict(t, newStore(t)) })
		t.Run("IncrementMissing", func(t *testing.T) { testIncrementMissingPeriod(t, newStore(t)) })
		t.Run("Increment", func(t *testing.T) { testIncrementPeriod(t, newStore(t)) })
		t.Run("UserPartition", func(t *testing.T) { testPeriodUserPartition(t, newStore(t)) })
		t.Run("ConcurrentIncrements", func(t *testing.T) { testConcurrentIncrements(t, newStore(t)) })
	})

	t.Run("Records", func(t *testing.T) {
		t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGetRecord(t, newStore(t)) })
		t.Run("CreateConflict", func(t *testing.T) { testCreateRecordConflict(t, newStore(t)) })
		t.Run("GetMissing", func(t *testing.T) { testGetMissingRecord(t, newStore(t)) })
		t.Run("ListNewestFirst", func(t *testing.T) { testListRecords(t, newStore(t)) })
		t.Run("ListFilterAndPage", func(t *testing.T) { testListRecordsFilterAndPage(t, newStore(t)) })
	})

	t.Run("Engine", func(t *testing.T) {
		t.Run("ConcurrentFirstIncrements", func(t *testing.T) { testEngineConcurrentFirstIncrements(t, newStore(t)) })
		t.Run("RecordSanitized", func(t *testing.T) { testEngineRecordSanitized(t, newStore(t)) })
	})

	t.Run("Ping", func(t *testing.T) {
		if err := newStore(t).Ping(context.Background()); err != nil {
			t.Fatalf("Ping: %v", err)
		}
	})
}

// ──────────────────────────────────────────────────
// Period contracts
// ──────────────────────────────────────────────────

func testGetMissingPeriod(t *testing.T, s store.Store) {
	_, err := s.GetPeriod(context.Background(), "u-missing", usage.Key("u-missing", base))
	if !genquota.IsNotFound(err) {
		t.Fatalf("GetPeriod on missing period: got %v, want ErrNotFound", err)
	}
}

func testCreateAndGetPeriod(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := usage.NewPeriod("u1", base, generation.TypeRender, 2)

	if err := s.CreatePeriod(ctx, p); err != nil {
		t.Fatalf("CreatePeriod: %v", err)
	}

	got, err := s.GetPeriod(ctx, "u1", p.ID)
	if err != nil {
		t.Fatalf("GetPeriod: %v", err)
	}
	if got.ID != "u1:2025-03" || got.UserID != "u1" || got.YearMonth != "2025-03" {
		t.Errorf("identity: got id=%q user=%q month=%q", got.ID, got.UserID, got.YearMonth)
	}
	if got.Total != 2 {
		t.Errorf("Total: got %d, want 2", got.Total)
	}
	for _, typ := range generation.All() {
		want := int64(0)
		if typ == generation.TypeRender {
			want = 2
		}
		if got.Count(typ) != want {
			t.Errorf("CountsByType[%s]: got %d, want %d", typ, got.Count(typ), want)
		}
	}
	if !got.LastUpdatedAt.Equal(base) {
		t.Errorf("LastUpdatedAt: got %v, want %v", got.LastUpdatedAt, base)
	}
}

func testCreatePeriodConflict(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := usage.NewPeriod("u1", base, generation.TypeMoodboard, 1)

	if err := s.CreatePeriod(ctx, p); err != nil {
		t.Fatalf("first CreatePeriod: %v", err)
	}
	err := s.CreatePeriod(ctx, usage.NewPeriod("u1", base, generation.TypeTexture, 5))
	if !genquota.IsConflict(err) {
		t.Fatalf("second CreatePeriod: got %v, want ErrConflict", err)
	}

	got, err := s.GetPeriod(ctx, "u1", p.ID)
	if err != nil {
		t.Fatalf("GetPeriod: %v", err)
	}
	if got.Total != 1 || got.Count(generation.TypeTexture) != 0 {
		t.Errorf("conflicting create overwrote the period: %+v", got)
	}
}

func testIncrementMissingPeriod(t *testing.T, s store.Store) {
	err := s.IncrementPeriod(context.Background(), "u1", usage.Key("u1", base), usage.Increment{
		Type:  generation.TypeRender,
		Count: 1,
		At:    base,
	})
	if !genquota.IsNotFound(err) {
		t.Fatalf("IncrementPeriod on missing period: got %v, want ErrNotFound", err)
	}
}

func testIncrementPeriod(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := usage.NewPeriod("u1", base, generation.TypeMoodboard, 1)
	if err := s.CreatePeriod(ctx, p); err != nil {
		t.Fatalf("CreatePeriod: %v", err)
	}

	later := base.Add(time.Hour)
	steps := []usage.Increment{
		{Type: generation.TypeMoodboard, Count: 2, At: base.Add(time.Minute)},
		{Type: generation.TypeUpscale, Count: 3, At: later},
	}
	for _, inc := range steps {
		if err := s.IncrementPeriod(ctx, "u1", p.ID, inc); err != nil {
			t.Fatalf("IncrementPeriod(%+v): %v", inc, err)
		}
	}

	got, err := s.GetPeriod(ctx, "u1", p.ID)
	if err != nil {
		t.Fatalf("GetPeriod: %v", err)
	}
	if got.Total != 6 {
		t.Errorf("Total: got %d, want 6", got.Total)
	}
	if got.Count(generation.TypeMoodboard) != 3 {
		t.Errorf("moodboard: got %d, want 3", got.Count(generation.TypeMoodboard))
	}
	if got.Count(generation.TypeUpscale) != 3 {
		t.Errorf("upscale: got %d, want 3", got.Count(generation.TypeUpscale))
	}
	if !got.LastUpdatedAt.Equal(later) {
		t.Errorf("LastUpdatedAt: got %v, want %v", got.LastUpdatedAt, later)
	}
}

func testPeriodUserPartition(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := usage.NewPeriod("u1", base, generation.TypeRender, 1)
	if err := s.CreatePeriod(ctx, p); err != nil {
		t.Fatalf("CreatePeriod: %v", err)
	}

	if _, err := s.GetPeriod(ctx, "u2", p.ID); !genquota.IsNotFound(err) {
		t.Errorf("GetPeriod from another partition: got %v, want ErrNotFound", err)
	}
	err := s.IncrementPeriod(ctx, "u2", p.ID, usage.Increment{Type: generation.TypeRender, Count: 1, At: base})
	if !genquota.IsNotFound(err) {
		t.Errorf("IncrementPeriod from another partition: got %v, want ErrNotFound", err)
	}
}

func testConcurrentIncrements(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := usage.NewPeriod("u1", base, generation.TypeRender, 1)
	if err := s.CreatePeriod(ctx, p); err != nil {
		t.Fatalf("CreatePeriod: %v", err)
	}

	const workers = 25
	var g errgroup.Group
	for i := range workers {
		typ := generation.All()[i%len(generation.All())]
		g.Go(func() error {
			return s.IncrementPeriod(ctx, "u1", p.ID, usage.Increment{Type: typ, Count: 2, At: base})
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent IncrementPeriod: %v", err)
	}

	got, err := s.GetPeriod(ctx, "u1", p.ID)
	if err != nil {
		t.Fatalf("GetPeriod: %v", err)
	}
	if want := int64(1 + workers*2); got.Total != want {
		t.Errorf("Total: got %d, want %d", got.Total, want)
	}
	var sum int64
	for _, typ := range generation.All() {
		sum += got.Count(typ)
	}
	if sum != got.Total {
		t.Errorf("sum of counts %d != total %d", sum, got.Total)
	}
}

// ──────────────────────────────────────────────────
// Record contracts
// ──────────────────────────────────────────────────

func newRecord(userID string, typ generation.Type, at time.Time) *history.Record {
	return history.NewRecord(id.NewGenerationID(), history.Input{
		UserID:   userID,
		Type:     typ,
		Prompt:   "walnut desk, warm light",
		AssetRef: "s3://renders/" + userID + "/desk.png",
		Payload: types.MustFromAny(map[string]any{
			"materials": []any{
				map[string]any{"name": "walnut", "finish": "oil"},
				map[string]any{"name": "brass"},
			},
			"seed": int64(9007199254740993),
		}),
		Metadata: types.MustFromAny(map[string]any{"client": "web"}),
	}, at)
}

func testCreateAndGetRecord(t *testing.T, s store.Store) {
	ctx := context.Background()
	r := newRecord("u1", generation.TypeRender, base)

	if err := s.CreateRecord(ctx, r); err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}

	got, err := s.GetRecord(ctx, "u1", r.ID)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got.ID.String() != r.ID.String() {
		t.Errorf("ID: got %s, want %s", got.ID, r.ID)
	}
	if got.UserID != r.UserID || got.Type != r.Type || got.Prompt != r.Prompt || got.AssetRef != r.AssetRef {
		t.Errorf("fields: got %+v, want %+v", got, r)
	}
	if !got.CreatedAt.Equal(base) {
		t.Errorf("CreatedAt: got %v, want %v", got.CreatedAt, base)
	}
	if !types.Equal(got.Payload, r.Payload) {
		t.Errorf("Payload: got %v, want %v", got.Payload.Any(), r.Payload.Any())
	}
	if !types.Equal(got.Metadata, r.Metadata) {
		t.Errorf("Metadata: got %v, want %v", got.Metadata.Any(), r.Metadata.Any())
	}

	if _, err := s.GetRecord(ctx, "u2", r.ID); !genquota.IsNotFound(err) {
		t.Errorf("GetRecord from another user: got %v, want ErrNotFound", err)
	}
}

func testCreateRecordConflict(t *testing.T, s store.Store) {
	ctx := context.Background()
	r := newRecord("u1", generation.TypeTexture, base)

	if err := s.CreateRecord(ctx, r); err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	dup := *r
	dup.Prompt = "overwritten"
	if err := s.CreateRecord(ctx, &dup); !genquota.IsConflict(err) {
		t.Fatalf("duplicate CreateRecord: got %v, want ErrConflict", err)
	}

	got, err := s.GetRecord(ctx, "u1", r.ID)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got.Prompt != r.Prompt {
		t.Errorf("record was updated: prompt %q", got.Prompt)
	}
}

func testGetMissingRecord(t *testing.T, s store.Store) {
	_, err := s.GetRecord(context.Background(), "u1", id.NewGenerationID())
	if !genquota.IsNotFound(err) {
		t.Fatalf("GetRecord on missing record: got %v, want ErrNotFound", err)
	}
}

func testListRecords(t *testing.T, s store.Store) {
	ctx := context.Background()

	var want []string
	for i := range 4 {
		r := newRecord("u1", generation.TypeRender, base.Add(time.Duration(i)*time.Minute))
		if err := s.CreateRecord(ctx, r); err != nil {
			t.Fatalf("CreateRecord %d: %v", i, err)
		}
		want = append([]string{r.ID.String()}, want...)
	}
	if err := s.CreateRecord(ctx, newRecord("u2", generation.TypeRender, base)); err != nil {
		t.Fatalf("CreateRecord u2: %v", err)
	}

	got, err := s.ListRecords(ctx, "u1", history.ListOpts{})
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("ListRecords: got %d records, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID.String() != want[i] {
			t.Errorf("position %d: got %s, want %s", i, got[i].ID, want[i])
		}
	}
}

func testListRecordsFilterAndPage(t *testing.T, s store.Store) {
	ctx := context.Background()

	kinds := []generation.Type{
		generation.TypeRender, generation.TypeUpscale, generation.TypeRender,
		generation.TypeRender, generation.TypeUpscale,
	}
	for i, typ := range kinds {
		if err := s.CreateRecord(ctx, newRecord("u1", typ, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("CreateRecord %d: %v", i, err)
		}
	}

	renders, err := s.ListRecords(ctx, "u1", history.ListOpts{Type: generation.TypeRender})
	if err != nil {
		t.Fatalf("ListRecords by type: %v", err)
	}
	if len(renders) != 3 {
		t.Fatalf("renders: got %d, want 3", len(renders))
	}
	for _, r := range renders {
		if r.Type != generation.TypeRender {
			t.Errorf("filter leaked type %s", r.Type)
		}
	}

	page, err := s.ListRecords(ctx, "u1", history.ListOpts{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("ListRecords page: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("page: got %d, want 2", len(page))
	}
	// Newest first: offset 1 skips the record created at +4m.
	if !page[0].CreatedAt.Equal(base.Add(3*time.Minute)) || !page[1].CreatedAt.Equal(base.Add(2*time.Minute)) {
		t.Errorf("page order: got %v, %v", page[0].CreatedAt, page[1].CreatedAt)
	}

	empty, err := s.ListRecords(ctx, "u1", history.ListOpts{Offset: 10})
	if err != nil {
		t.Fatalf("ListRecords past end: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("past end: got %d records, want 0", len(empty))
	}
}

// ──────────────────────────────────────────────────
// Engine over the store
// ──────────────────────────────────────────────────

func testEngineConcurrentFirstIncrements(t *testing.T, s store.Store) {
	ctx := context.Background()
	q := genquota.New(s, genquota.WithClock(clock.NewFake(base)))

	const callers = 16
	var g errgroup.Group
	for i := range callers {
		typ := generation.All()[i%len(generation.All())]
		g.Go(func() error {
			if err := q.IncrementUsage(ctx, "racer", typ, int64(i%3+1)); err != nil {
				return fmt.Errorf("caller %d: %w", i, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("IncrementUsage: %v", err)
	}

	var wantTotal int64
	wantByType := make(map[generation.Type]int64)
	for i := range callers {
		c := int64(i%3 + 1)
		wantTotal += c
		wantByType[generation.All()[i%len(generation.All())]] += c
	}

	p, err := q.Usage(ctx, "racer", "")
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
}

func testEngineRecordSanitized(t *testing.T, s store.Store) {
	ctx := context.Background()
	q := genquota.New(s, genquota.WithClock(clock.NewFake(base)))

	recordID, err := q.RecordGeneration(ctx, history.Input{
		UserID: "u1",
		Type:   generation.TypeMoodboard,
		Prompt: "coastal moodboard",
		Payload: types.MustFromAny(map[string]any{
			"source": "data:image/png;base64,iVBORw0KGgo=",
			"tiles": []any{
				map[string]any{"label": "sand", "preview": "data:image/jpeg;base64,/9j/4AAQ"},
			},
		}),
	})
	if err != nil {
		t.Fatalf("RecordGeneration: %v", err)
	}

	got, err := q.GetGeneration(ctx, "u1", recordID)
	if err != nil {
		t.Fatalf("GetGeneration: %v", err)
	}
	want := types.MustFromAny(map[string]any{
		"tiles": []any{map[string]any{"label": "sand"}},
	})
	if !types.Equal(got.Payload, want) {
		t.Errorf("Payload: got %v, want %v", got.Payload.Any(), want.Any())
	}
}
