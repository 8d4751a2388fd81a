package history

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "history", "runs.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRecordAndList(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	base := time.UnixMilli(1_700_000_000_000)
	for i, mode := range []string{"baseline", "hybrid", "language_aware"} {
		_, err := db.Record(ctx, Run{
			Mode:      mode,
			TestsRun:  i + 1,
			TimeTaken: float64(i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("failed to record run: %v", err)
		}
	}

	runs, err := db.List(ctx, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	if runs[0].Mode != "language_aware" || runs[2].Mode != "baseline" {
		t.Errorf("expected newest first, got %s..%s", runs[0].Mode, runs[2].Mode)
	}
	if runs[0].ID == "" || runs[0].ID == runs[1].ID {
		t.Errorf("expected unique run ids, got %q and %q", runs[0].ID, runs[1].ID)
	}
	if !runs[2].CreatedAt.Equal(base) {
		t.Errorf("expected created_at %v, got %v", base, runs[2].CreatedAt)
	}

	limited, err := db.List(ctx, 2)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected 2 runs with limit, got %d", len(limited))
	}
}

func TestRecordKeepsID(t *testing.T) {
	db := openTestDB(t)

	r, err := db.Record(context.Background(), Run{ID: "fixed", Mode: "hybrid"})
	if err != nil {
		t.Fatalf("failed to record run: %v", err)
	}
	if r.ID != "fixed" {
		t.Errorf("expected id fixed, got %s", r.ID)
	}
	if r.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}
}

func TestSummary(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	empty, err := db.Summary(ctx)
	if err != nil {
		t.Fatalf("failed to summarize: %v", err)
	}
	if empty.Runs != 0 || empty.AvgTime != 0 {
		t.Errorf("expected empty summary, got %+v", empty)
	}

	runs := []Run{
		{Mode: "hybrid", TestsRun: 4, TimeTaken: 2.0, CacheHit: false, Passed: true},
		{Mode: "hybrid", TestsRun: 4, TimeTaken: 0.0, CacheHit: true, Passed: true},
		{Mode: "hybrid", TestsRun: 1, TimeTaken: 1.0, CacheHit: true, Passed: true},
		{Mode: "baseline", TestsRun: 11, TimeTaken: 5.0, CacheHit: false, Passed: false},
	}
	for _, r := range runs {
		if _, err := db.Record(ctx, r); err != nil {
			t.Fatalf("failed to record run: %v", err)
		}
	}

	s, err := db.Summary(ctx)
	if err != nil {
		t.Fatalf("failed to summarize: %v", err)
	}
	if s.Runs != 4 {
		t.Errorf("expected 4 runs, got %d", s.Runs)
	}
	if math.Abs(s.AvgTime-2.0) > 1e-9 {
		t.Errorf("expected avg time 2.0, got %f", s.AvgTime)
	}
	if math.Abs(s.AvgTests-5.0) > 1e-9 {
		t.Errorf("expected avg tests 5.0, got %f", s.AvgTests)
	}
	if math.Abs(s.CacheHitRate-0.5) > 1e-9 {
		t.Errorf("expected hit rate 0.5, got %f", s.CacheHitRate)
	}
}
