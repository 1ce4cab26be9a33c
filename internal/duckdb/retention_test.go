package duckdb

import (
	"context"
	"testing"
	"time"

	"github.com/tinytelemetry/lotus-export/internal/model"
)

func TestRetentionCleaner_StopIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	cleaner := NewRetentionCleaner(store, RetentionConfig{RetentionDays: 1})
	if cleaner == nil {
		t.Fatal("expected non-nil retention cleaner")
	}

	cleaner.Stop()
	cleaner.Stop()
}

func TestRetentionCleaner_DisabledWhenNegative(t *testing.T) {
	store := newTestStore(t)
	if c := NewRetentionCleaner(store, RetentionConfig{RetentionDays: -1}); c != nil {
		c.Stop()
		t.Fatal("expected nil cleaner when retention is disabled")
	}
}

func TestRetentionCleaner_PrunesExpiredRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 12, 3, 0, 0, 0, time.UTC)

	old := testRecord("app", "app/2024-01-01/00.log.gz", now.AddDate(0, 0, -40))
	fresh := testRecord("app", "app/2024-03-11/23.log.gz", now.Add(-time.Hour))
	for _, rec := range []model.ExportRecord{old, fresh} {
		if err := store.RecordExport(ctx, rec); err != nil {
			t.Fatalf("RecordExport: %v", err)
		}
	}

	// The constructor prunes immediately.
	cleaner := NewRetentionCleaner(store, RetentionConfig{
		RetentionDays: 30,
		Interval:      time.Hour,
		Now:           func() time.Time { return now },
	})
	t.Cleanup(cleaner.Stop)

	got, err := store.Recent(ctx, "", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 || got[0].Key != fresh.Key {
		t.Fatalf("remaining = %+v, want only %s", got, fresh.Key)
	}
	if n := cleaner.Cleanup(ctx); n != 0 {
		t.Fatalf("second cleanup deleted %d, want 0", n)
	}
}
