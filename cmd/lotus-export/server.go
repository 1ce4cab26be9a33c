package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/tinytelemetry/lotus-export/internal/compress"
	"github.com/tinytelemetry/lotus-export/internal/duckdb"
	"github.com/tinytelemetry/lotus-export/internal/exporter"
	"github.com/tinytelemetry/lotus-export/internal/httpserver"
	"github.com/tinytelemetry/lotus-export/internal/loki"
	"github.com/tinytelemetry/lotus-export/internal/metrics"
	"github.com/tinytelemetry/lotus-export/internal/model"
	"github.com/tinytelemetry/lotus-export/internal/objstore"
	"github.com/tinytelemetry/lotus-export/internal/poller"
	"github.com/tinytelemetry/lotus-export/internal/scheduler"
)

// app is the set of components shared by every command.
type app struct {
	exporter *exporter.Exporter
	ledger   *duckdb.Store // nil when ledger-path is empty
	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

func (a *app) Close() {
	if a.ledger != nil {
		a.ledger.Close()
	}
}

func newApp(ctx context.Context, cfg appConfig, logger *slog.Logger) (*app, error) {
	rt := &app{registry: prometheus.NewRegistry()}
	rt.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rt.metrics = metrics.New(rt.registry)

	client, err := loki.NewClient(loki.Config{
		BaseURL:     cfg.LokiURL,
		OrgID:       cfg.LokiOrgID,
		Username:    cfg.LokiUsername,
		Password:    cfg.LokiPassword,
		BearerToken: cfg.LokiBearerToken,
		Timeout:     cfg.LokiTimeout,
	})
	if err != nil {
		return nil, err
	}

	store, err := objstore.New(ctx, objstore.Config{
		URL:         cfg.StoreURL,
		ContentType: compress.ContentType(cfg.Compression),
		S3: objstore.S3Config{
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			SessionToken: cfg.S3SessionToken,
			PathStyle:    cfg.S3PathStyle,
		},
		Azure: objstore.AzureConfig{
			Account:    cfg.AzureAccount,
			AccountKey: cfg.AzureAccountKey,
			ServiceURL: cfg.AzureServiceURL,
		},
		MinIO: objstore.MinIOConfig{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			UseSSL:    cfg.MinIOUseSSL,
		},
	})
	if err != nil {
		return nil, err
	}

	opts := exporter.Options{
		Compression:  cfg.Compression,
		Policy:       exporter.FailurePolicy(cfg.FailurePolicy),
		LookbackDays: cfg.LookbackDays,
		Location:     cfg.Location,
		Poller: poller.Options{
			Attempts:   cfg.FetchAttempts,
			RetryDelay: cfg.FetchRetryDelay,
			PageLimit:  cfg.PageLimit,
		},
		Metrics: rt.metrics,
		Logger:  logger,
	}

	if cfg.LedgerPath != "" {
		rt.ledger, err = duckdb.NewStore(cfg.LedgerPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open export ledger: %w", err)
		}
		opts.Ledger = rt.ledger
	}

	rt.exporter, err = exporter.New(client, store, opts)
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// exportJob runs every extractor once and logs one line per report.
func exportJob(rt *app, extractors []model.Extractor, logger *slog.Logger) scheduler.Job {
	return func(ctx context.Context) error {
		reports, err := rt.exporter.RunAll(ctx, extractors)
		for _, r := range reports {
			if r.RunID == "" {
				continue
			}
			logger.Info("export: extractor summary",
				"run_id", r.RunID,
				"extractor", r.Extractor,
				"planned", r.Planned,
				"exported", len(r.Exported),
				"failed", len(r.Failed),
				"lines", r.Lines,
				"dropped", r.Dropped,
				"bytes", r.Bytes)
		}
		return err
	}
}

// runOnce exports pending windows a single time. A failure is fatal.
func runOnce(ctx context.Context, cfg appConfig, logger *slog.Logger) error {
	started := time.Now()
	rt, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := exportJob(rt, cfg.Extractors, logger)(ctx); err != nil {
		logger.Error("export: run failed, shutting down",
			"uptime", time.Since(started).Round(time.Millisecond).String(),
			"error", err)
		return err
	}
	logger.Info("export: run complete", "uptime", time.Since(started).Round(time.Millisecond).String())
	return nil
}

// runScheduled runs the exporter on cfg.Schedule until ctx is cancelled.
func runScheduled(ctx context.Context, cfg appConfig, logger *slog.Logger) error {
	started := time.Now()
	rt, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	if rt.ledger != nil {
		cleaner := duckdb.NewRetentionCleaner(rt.ledger, duckdb.RetentionConfig{
			RetentionDays: cfg.LedgerRetentionDays,
			Logger:        logger,
		})
		if cleaner != nil {
			defer cleaner.Stop()
		}
	}

	sched, err := scheduler.New(exportJob(rt, cfg.Extractors, logger), scheduler.Config{
		Schedule: cfg.Schedule,
		Location: cfg.Location,
		Metrics:  rt.metrics,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	if cfg.APIEnabled {
		var ledger httpserver.LedgerReader
		if rt.ledger != nil {
			ledger = rt.ledger
		}
		apiServer := httpserver.NewServer(cfg.APIAddr, ledger, rt.registry, logger)
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
		defer apiServer.Stop()
	}

	printStartupBanner(os.Stdout, cfg, sched.Next(time.Now()))

	sched.Start(ctx)
	if cfg.RunOnStart {
		// Failures are already logged by the scheduler.
		_ = sched.RunOnce(ctx)
	}
	<-ctx.Done()
	sched.Stop()

	logger.Warn("export: shutting down", "uptime", time.Since(started).Round(time.Millisecond).String())
	return nil
}

// printPlan writes the pending windows of every extractor.
func printPlan(ctx context.Context, w io.Writer, cfg appConfig, logger *slog.Logger) error {
	rt, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	for _, ex := range cfg.Extractors {
		plan, err := rt.exporter.Plan(ctx, ex)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s: %d pending\n", ex.DisplayName(), len(plan))
		for _, win := range plan {
			fmt.Fprintf(w, "  %s  %s - %s\n", win.Key, win.Start.Format(time.RFC3339), win.End.Format(time.RFC3339))
		}
	}
	return nil
}

func printStartupBanner(w io.Writer, cfg appConfig, next time.Time) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")
	row := func(mark, label, value string) string {
		return fmt.Sprintf("    %s  %-14s %s", mark, label, value)
	}

	logo := cyan.Bold(true).Render(`
    ╦  ╔═╗╔╦╗╦ ╦╔═╗  ┌─┐─┐ ┬┌─┐┌─┐┬─┐┌┬┐
    ║  ║ ║ ║ ║ ║╚═╗  ├┤ ┌┴┬┘├─┘│ │├┬┘ │
    ╩═╝╚═╝ ╩ ╚═╝╚═╝  └─┘┴ └─┴  └─┘┴└─ ┴`)
	separator := dim.Render("    ─────────────────────────────────")

	lines := []string{"", logo, "    " + dim.Render("v"+version), "", separator, ""}

	lines = append(lines, bold.Render("    Pipeline"), "")
	lines = append(lines, row(check, "Loki", cyan.Render(cfg.LokiURL)))
	lines = append(lines, row(check, "Store", cyan.Render(cfg.StoreURL)))
	lines = append(lines, row(check, "Compression", dim.Render(cfg.Compression)))
	lines = append(lines, row(check, "Extractors", dim.Render(fmt.Sprintf("%d", len(cfg.Extractors)))))
	lines = append(lines, row(check, "Schedule", dim.Render(cfg.Schedule+"  next "+next.Format(time.RFC3339))))
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Status"), "")
	if cfg.APIEnabled {
		lines = append(lines, row(check, "HTTP API", cyan.Render(cfg.APIAddr)))
	} else {
		lines = append(lines, row(dot, "HTTP API", dim.Render("disabled")))
	}
	if cfg.LedgerPath != "" {
		lines = append(lines, row(check, "Ledger", dim.Render(shortenPath(cfg.LedgerPath))))
	} else {
		lines = append(lines, row(dot, "Ledger", dim.Render("disabled")))
	}
	if cfg.ConfigPath != "" {
		lines = append(lines, row(check, "Config File", dim.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, row(dot, "Config File", dim.Render("default (no file)")))
	}

	lines = append(lines, "", separator, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"), "")

	fmt.Fprintln(w, strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
