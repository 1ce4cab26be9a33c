package duckdb

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultRetentionDays     = 90
	defaultRetentionInterval = time.Hour
)

// RetentionConfig configures the ledger retention cleaner.
type RetentionConfig struct {
	RetentionDays int
	Interval      time.Duration
	Logger        *slog.Logger
	Now           func() time.Time
}

// RetentionCleaner periodically deletes ledger rows older than the
// retention period.
type RetentionCleaner struct {
	store         *Store
	retentionDays int
	interval      time.Duration
	logger        *slog.Logger
	now           func() time.Time

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewRetentionCleaner prunes once, then starts the periodic loop. It returns
// nil when RetentionDays is negative (disabled). Zero takes the default.
func NewRetentionCleaner(store *Store, conf RetentionConfig) *RetentionCleaner {
	if conf.RetentionDays < 0 {
		return nil
	}
	if conf.RetentionDays == 0 {
		conf.RetentionDays = defaultRetentionDays
	}
	if conf.Interval <= 0 {
		conf.Interval = defaultRetentionInterval
	}
	if conf.Logger == nil {
		conf.Logger = slog.New(slog.DiscardHandler)
	}
	if conf.Now == nil {
		conf.Now = time.Now
	}

	rc := &RetentionCleaner{
		store:         store,
		retentionDays: conf.RetentionDays,
		interval:      conf.Interval,
		logger:        conf.Logger,
		now:           conf.Now,
		done:          make(chan struct{}),
	}

	// Catch up after downtime.
	rc.Cleanup(context.Background())

	rc.wg.Add(1)
	go rc.tickLoop()
	return rc
}

func (rc *RetentionCleaner) tickLoop() {
	defer rc.wg.Done()
	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rc.Cleanup(context.Background())
		case <-rc.done:
			return
		}
	}
}

// Cleanup deletes expired rows once and returns how many were removed.
func (rc *RetentionCleaner) Cleanup(ctx context.Context) int64 {
	cutoff := rc.now().AddDate(0, 0, -rc.retentionDays)

	rows, err := rc.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		rc.logger.Warn("duckdb: retention cleanup failed", "error", err)
		return 0
	}
	if rows > 0 {
		rc.logger.Info("duckdb: retention cleanup", "deleted", rows, "retention_days", rc.retentionDays)
	}
	return rows
}

// Stop signals the cleaner to stop and waits for it. Safe to call twice.
func (rc *RetentionCleaner) Stop() {
	rc.stopOnce.Do(func() {
		close(rc.done)
		rc.wg.Wait()
	})
}
