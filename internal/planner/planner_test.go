package planner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tinytelemetry/lotus-export/internal/model"
)

type fakeStore struct {
	mu      sync.Mutex
	keys    map[string]struct{}
	listed  []string
	listErr error
}

func newFakeStore(keys ...string) *fakeStore {
	s := &fakeStore{keys: map[string]struct{}{}}
	for _, k := range keys {
		s.keys[k] = struct{}{}
	}
	return s
}

func (s *fakeStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listed = append(s.listed, prefix)
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []string
	for k := range s.keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *fakeStore) add(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = struct{}{}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestPlan_ElapsedHoursThenYesterday(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 12, 14, 30, 0, 0, time.UTC)
	store := newFakeStore()
	for h := 0; h <= 10; h++ {
		store.add(ObjectKey("app/", now, h, ".gz"))
	}

	p := &Planner{Store: store, Location: time.UTC, LookbackDays: 1, Extension: ".gz", Now: fixedClock(now)}
	plan, err := p.Plan(context.Background(), "app/")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	want := []string{"app/2024-03-12/11.log.gz", "app/2024-03-12/12.log.gz", "app/2024-03-12/13.log.gz"}
	for h := 0; h < 24; h++ {
		want = append(want, ObjectKey("app/", time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), h, ".gz"))
	}
	if len(plan) != len(want) {
		t.Fatalf("plan len = %d, want %d", len(plan), len(want))
	}
	for i, w := range plan {
		if w.Key != want[i] {
			t.Fatalf("plan[%d] = %q, want %q", i, w.Key, want[i])
		}
		if got := w.End.Sub(w.Start); got != time.Hour {
			t.Fatalf("plan[%d] duration = %v, want 1h", i, got)
		}
	}
	if !plan[0].Start.Equal(time.Date(2024, 3, 12, 11, 0, 0, 0, time.UTC)) {
		t.Fatalf("first start = %v", plan[0].Start)
	}
	if plan[len(plan)-1].Key != "app/2024-03-11/23.log.gz" {
		t.Fatalf("last key = %q", plan[len(plan)-1].Key)
	}

	wantListed := []string{"app/2024-03-12/", "app/2024-03-11/"}
	if strings.Join(store.listed, ",") != strings.Join(wantListed, ",") {
		t.Fatalf("listed = %v, want %v", store.listed, wantListed)
	}
}

func TestPlan_SecondPlanIsEmptyOnceExported(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 12, 9, 5, 0, 0, time.UTC)
	store := newFakeStore()
	p := &Planner{Store: store, Location: time.UTC, LookbackDays: 2, Extension: ".gz", Now: fixedClock(now)}

	first, err := p.Plan(context.Background(), "svc/")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(first) != 9+48 {
		t.Fatalf("first plan len = %d, want %d", len(first), 9+48)
	}

	again, err := p.Plan(context.Background(), "svc/")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	for i := range first {
		if first[i].Key != again[i].Key {
			t.Fatalf("plans differ at %d: %q vs %q", i, first[i].Key, again[i].Key)
		}
	}

	for _, w := range first {
		store.add(w.Key)
	}
	second, err := p.Plan(context.Background(), "svc/")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("second plan len = %d, want 0", len(second))
	}
}

func TestPlan_PastDaysNewestFirst(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 1, 0, 10, 0, 0, time.UTC)
	store := newFakeStore()
	p := &Planner{Store: store, Location: time.UTC, LookbackDays: 2, Now: fixedClock(now)}

	plan, err := p.Plan(context.Background(), "")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan) != 48 {
		t.Fatalf("plan len = %d, want 48", len(plan))
	}
	if plan[0].Key != "2024-02-29/00.log" || plan[24].Key != "2024-02-28/00.log" {
		t.Fatalf("group order = %q, %q", plan[0].Key, plan[24].Key)
	}
	// No elapsed hours today, so today is never listed.
	for _, prefix := range store.listed {
		if prefix == "2024-03-01/" {
			t.Fatalf("listed empty current day")
		}
	}
}

func TestPlan_ListingErrorAborts(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.listErr = errors.New("access denied")
	p := &Planner{Store: store, Location: time.UTC, LookbackDays: 1, Now: fixedClock(time.Date(2024, 3, 12, 5, 0, 0, 0, time.UTC))}

	plan, err := p.Plan(context.Background(), "app/")
	if !errors.Is(err, model.ErrListing) {
		t.Fatalf("err = %v, want ErrListing", err)
	}
	if plan != nil {
		t.Fatalf("plan = %v, want nil", plan)
	}
	if len(store.listed) != 1 {
		t.Fatalf("listings = %d, want 1 (no retry)", len(store.listed))
	}
}

func TestPlan_DaylightSavingDays(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	tests := []struct {
		name  string
		now   time.Time
		total time.Duration
	}{
		{name: "spring forward", now: time.Date(2024, 4, 1, 0, 30, 0, 0, loc), total: 23 * time.Hour},
		{name: "fall back", now: time.Date(2024, 10, 28, 0, 30, 0, 0, loc), total: 25 * time.Hour},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := &Planner{Store: newFakeStore(), Location: loc, LookbackDays: 1, Now: fixedClock(tt.now)}
			plan, err := p.Plan(context.Background(), "")
			if err != nil {
				t.Fatalf("Plan: %v", err)
			}
			if len(plan) != 24 {
				t.Fatalf("plan len = %d, want 24", len(plan))
			}
			if got := plan[23].End.Sub(plan[0].Start); got != tt.total {
				t.Fatalf("day span = %v, want %v", got, tt.total)
			}
			for i := 1; i < len(plan); i++ {
				if !plan[i].Start.Equal(plan[i-1].End) {
					t.Fatalf("gap between %q and %q", plan[i-1].Key, plan[i].Key)
				}
			}
		})
	}
}

func TestObjectKey(t *testing.T) {
	t.Parallel()

	day := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	if got := ObjectKey("logs/", day, 7, ".gz"); got != "logs/2024-01-31/07.log.gz" {
		t.Fatalf("ObjectKey = %q", got)
	}
	if got := DayPrefix("", day); got != "2024-01-31/" {
		t.Fatalf("DayPrefix = %q", got)
	}
}
