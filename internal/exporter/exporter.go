// Package exporter moves hour windows of logs from the log-query API into the
// object store.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tinytelemetry/lotus-export/internal/compress"
	"github.com/tinytelemetry/lotus-export/internal/metrics"
	"github.com/tinytelemetry/lotus-export/internal/model"
	"github.com/tinytelemetry/lotus-export/internal/planner"
	"github.com/tinytelemetry/lotus-export/internal/poller"
	"github.com/tinytelemetry/lotus-export/internal/transform"
	"golang.org/x/sync/errgroup"
)

// FailurePolicy decides what a run does after a window fails.
type FailurePolicy string

const (
	// FailFast stops the run at the first failed window.
	FailFast FailurePolicy = "fail-fast"
	// Continue records the failure and moves on to the next window.
	Continue FailurePolicy = "continue"
)

// ParsePolicy validates a policy name. Empty means FailFast.
func ParsePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(strings.TrimSpace(s)) {
	case "", FailFast:
		return FailFast, nil
	case Continue:
		return Continue, nil
	default:
		return "", fmt.Errorf("exporter: unknown failure policy %q (fail-fast, continue): %w", s, model.ErrConfig)
	}
}

// Options configures an Exporter. Zero values take defaults.
type Options struct {
	Compression  string
	Policy       FailurePolicy
	LookbackDays int
	Location     *time.Location
	Poller       poller.Options

	Ledger  model.ExportLedger // optional
	Metrics *metrics.Metrics   // optional
	Logger  *slog.Logger
	Now     func() time.Time
}

// Exporter runs extractors against one log source and one object store.
type Exporter struct {
	client  poller.RangeQuerier
	store   model.ObjectStore
	planner *planner.Planner

	codec   string
	policy  FailurePolicy
	pollerO poller.Options
	ledger  model.ExportLedger
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// New validates opts and returns an exporter.
func New(client poller.RangeQuerier, store model.ObjectStore, opts Options) (*Exporter, error) {
	if client == nil || store == nil {
		return nil, fmt.Errorf("exporter: client and store are required: %w", model.ErrConfig)
	}
	if opts.Compression == "" {
		opts.Compression = model.DefaultCompression
	}
	if err := compress.Validate(opts.Compression); err != nil {
		return nil, err
	}
	policy, err := ParsePolicy(string(opts.Policy))
	if err != nil {
		return nil, err
	}
	if opts.LookbackDays < 0 {
		return nil, fmt.Errorf("exporter: lookback days must not be negative: %w", model.ErrConfig)
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Poller.Logger == nil {
		opts.Poller.Logger = opts.Logger
	}

	return &Exporter{
		client: client,
		store:  store,
		planner: &planner.Planner{
			Store:        store,
			Location:     opts.Location,
			LookbackDays: opts.LookbackDays,
			Extension:    compress.Extension(opts.Compression),
			Now:          opts.Now,
			Logger:       opts.Logger,
		},
		codec:   opts.Compression,
		policy:  policy,
		pollerO: opts.Poller,
		ledger:  opts.Ledger,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		now:     opts.Now,
	}, nil
}

// RunReport summarizes one extractor run.
type RunReport struct {
	RunID     string
	Extractor string
	Planned   int
	Exported  []string
	Failed    []string
	Lines     int
	Dropped   int
	Bytes     int64
	Elapsed   time.Duration
}

// Plan returns the windows of ex that a run would export now, without
// exporting anything.
func (e *Exporter) Plan(ctx context.Context, ex model.Extractor) ([]model.HourWindow, error) {
	return e.planner.Plan(ctx, ex.Prefix)
}

// Run exports every pending window of ex, one at a time in plan order.
func (e *Exporter) Run(ctx context.Context, ex model.Extractor) (RunReport, error) {
	return e.run(ctx, uuid.NewString(), ex)
}

// RunAll runs every extractor concurrently under one run id. Windows of one
// extractor stay sequential. Under FailFast the first failing extractor
// cancels the others at their next batch boundary.
func (e *Exporter) RunAll(ctx context.Context, extractors []model.Extractor) ([]RunReport, error) {
	runID := uuid.NewString()
	reports := make([]RunReport, len(extractors))

	if e.policy == FailFast {
		g, gctx := errgroup.WithContext(ctx)
		for i, ex := range extractors {
			g.Go(func() error {
				var err error
				reports[i], err = e.run(gctx, runID, ex)
				return err
			})
		}
		return reports, g.Wait()
	}

	errs := make([]error, len(extractors))
	var g errgroup.Group
	for i, ex := range extractors {
		g.Go(func() error {
			reports[i], errs[i] = e.run(ctx, runID, ex)
			return nil
		})
	}
	_ = g.Wait()
	return reports, errors.Join(errs...)
}

func (e *Exporter) run(ctx context.Context, runID string, ex model.Extractor) (report RunReport, err error) {
	name := ex.DisplayName()
	logger := e.logger.With("run_id", runID, "extractor", name)
	started := e.now()
	report = RunReport{RunID: runID, Extractor: name}

	defer func() {
		report.Elapsed = e.now().Sub(started)
		e.metrics.RunFinished(name, err)
		if err != nil {
			logger.Error("exporter: run failed",
				"elapsed", report.Elapsed.Round(time.Millisecond).String(),
				"exported", len(report.Exported),
				"failed", len(report.Failed),
				"error", err)
			return
		}
		logger.Info("exporter: run finished",
			"elapsed", report.Elapsed.Round(time.Millisecond).String(),
			"exported", len(report.Exported),
			"lines", report.Lines)
	}()

	if strings.TrimSpace(ex.Query) == "" {
		return report, fmt.Errorf("exporter: extractor %q has no query: %w", name, model.ErrConfig)
	}
	tr, err := transform.New(ex.Transform)
	if err != nil {
		return report, err
	}

	plan, err := e.planner.Plan(ctx, ex.Prefix)
	if err != nil {
		return report, err
	}
	report.Planned = len(plan)
	e.metrics.Planned(name, len(plan))
	logger.Info("exporter: planned windows", "pending", len(plan))

	var failures []error
	for _, w := range plan {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		res, werr := e.ExportWindow(ctx, ex, tr, w)
		e.record(ctx, logger, runID, name, w, res, werr)

		if werr == nil {
			report.Exported = append(report.Exported, w.Key)
			report.Lines += res.Stats.Written
			report.Dropped += res.Stats.Failed
			report.Bytes += res.Bytes
			continue
		}

		report.Failed = append(report.Failed, w.Key)
		if ctx.Err() != nil || e.policy == FailFast {
			return report, werr
		}
		failures = append(failures, werr)
	}

	if len(failures) > 0 {
		return report, fmt.Errorf("exporter: %d of %d windows failed: %w", len(failures), len(plan), errors.Join(failures...))
	}
	return report, nil
}

func (e *Exporter) record(ctx context.Context, logger *slog.Logger, runID, name string, w model.HourWindow, res WindowResult, werr error) {
	if werr == nil {
		e.metrics.WindowExported(name, res.Stats.Written, res.Stats.Skipped, res.Stats.Failed, res.Bytes, res.Duration)
	} else {
		e.metrics.WindowFailed(name, res.Duration)
	}
	if e.ledger == nil {
		return
	}

	rec := model.ExportRecord{
		RunID:       runID,
		Extractor:   name,
		Key:         w.Key,
		WindowStart: w.Start,
		WindowEnd:   w.End,
		Lines:       int64(res.Stats.Written),
		Dropped:     int64(res.Stats.Failed),
		Bytes:       res.Bytes,
		Duration:    res.Duration,
		Status:      model.StatusExported,
		FinishedAt:  e.now(),
	}
	if werr != nil {
		rec.Status = model.StatusFailed
		rec.Error = werr.Error()
	}
	if err := e.ledger.RecordExport(context.WithoutCancel(ctx), rec); err != nil {
		logger.Warn("exporter: ledger write failed", "key", w.Key, "error", err)
	}
}
