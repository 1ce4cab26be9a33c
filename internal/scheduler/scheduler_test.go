package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tinytelemetry/lotus-export/internal/metrics"
	"github.com/tinytelemetry/lotus-export/internal/model"
)

type fakeTimer struct {
	waits chan time.Duration
	fire  chan time.Time
}

func newFakeTimer() *fakeTimer {
	return &fakeTimer{waits: make(chan time.Duration, 16), fire: make(chan time.Time)}
}

func (f *fakeTimer) After(d time.Duration) <-chan time.Time {
	f.waits <- d
	return f.fire
}

func (f *fakeTimer) nextWait(t *testing.T) time.Duration {
	t.Helper()
	select {
	case d := <-f.waits:
		return d
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler never waited for the next tick")
		return 0
	}
}

func skippedTicks(t *testing.T, reg *prometheus.Registry) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == "lotus_export_skipped_ticks_total" {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func TestNext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		schedule string
		from     time.Time
		want     time.Time
	}{
		{
			name:     "later in the hour",
			schedule: "5 * * * *",
			from:     time.Date(2024, 3, 12, 14, 30, 0, 0, time.UTC),
			want:     time.Date(2024, 3, 12, 15, 5, 0, 0, time.UTC),
		},
		{
			name:     "exactly on a fire time",
			schedule: "5 * * * *",
			from:     time.Date(2024, 3, 12, 14, 5, 0, 0, time.UTC),
			want:     time.Date(2024, 3, 12, 15, 5, 0, 0, time.UTC),
		},
		{
			name:     "before the fire minute",
			schedule: "5 * * * *",
			from:     time.Date(2024, 3, 12, 23, 1, 0, 0, time.UTC),
			want:     time.Date(2024, 3, 12, 23, 5, 0, 0, time.UTC),
		},
		{
			name:     "daily crosses midnight",
			schedule: "30 0 * * *",
			from:     time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC),
			want:     time.Date(2024, 3, 1, 0, 30, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, err := New(func(context.Context) error { return nil }, Config{Schedule: tt.schedule, Location: time.UTC})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if got := s.Next(tt.from); !got.Equal(tt.want) {
				t.Fatalf("Next(%v) = %v, want %v", tt.from, got, tt.want)
			}
		})
	}
}

func TestNew_InvalidSchedule(t *testing.T) {
	t.Parallel()

	_, err := New(func(context.Context) error { return nil }, Config{Schedule: "every hour"})
	if !errors.Is(err, model.ErrConfig) {
		t.Fatalf("err = %v, want ErrConfig", err)
	}
	if _, err := New(nil, Config{}); !errors.Is(err, model.ErrConfig) {
		t.Fatalf("nil job err = %v, want ErrConfig", err)
	}
}

func TestScheduler_SkipsOverlappingTicks(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 12, 14, 30, 0, 0, time.UTC)
	timer := newFakeTimer()
	reg := prometheus.NewRegistry()

	started := make(chan struct{}, 4)
	release := make(chan struct{})
	finished := make(chan struct{}, 4)
	job := func(ctx context.Context) error {
		started <- struct{}{}
		<-release
		finished <- struct{}{}
		return nil
	}

	s, err := New(job, Config{
		Schedule: "5 * * * *",
		Location: time.UTC,
		Metrics:  metrics.New(reg),
		Now:      func() time.Time { return now },
		After:    timer.After,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start(context.Background())
	t.Cleanup(s.Stop)

	if d := timer.nextWait(t); d != 35*time.Minute {
		t.Fatalf("first wait = %v, want 35m", d)
	}
	timer.fire <- now
	<-started

	timer.nextWait(t)
	timer.fire <- now // overlaps the active run
	timer.nextWait(t)

	if got := skippedTicks(t, reg); got != 1 {
		t.Fatalf("skipped ticks = %v, want 1", got)
	}
	if err := s.RunOnce(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("RunOnce during run = %v, want ErrBusy", err)
	}

	close(release)
	<-finished

	select {
	case <-started:
		t.Fatal("skipped tick started a second run")
	default:
	}
}

func TestScheduler_RunOnceReportsJobError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	s, err := New(func(context.Context) error { return boom }, Config{Location: time.UTC})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.RunOnce(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("RunOnce = %v, want %v", err, boom)
	}
	// The guard is released after a failed run.
	if err := s.RunOnce(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("second RunOnce = %v, want %v", err, boom)
	}
}

func TestScheduler_StopCancelsActiveRun(t *testing.T) {
	t.Parallel()

	timer := newFakeTimer()
	started := make(chan struct{})
	canceled := make(chan error, 1)
	job := func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		canceled <- ctx.Err()
		return ctx.Err()
	}

	s, err := New(job, Config{Location: time.UTC, After: timer.After})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start(context.Background())

	timer.nextWait(t)
	timer.fire <- time.Now()
	<-started

	s.Stop()
	s.Stop()

	select {
	case err := <-canceled:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("run ctx err = %v, want context.Canceled", err)
		}
	default:
		t.Fatal("Stop returned before the active run finished")
	}
}
