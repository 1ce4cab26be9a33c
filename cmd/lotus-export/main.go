package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tinytelemetry/lotus-export/internal/model"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, model.ErrConfig) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	v := newViper()

	root := &cobra.Command{
		Use:           "lotus-export",
		Short:         "Export hourly log archives from Loki to object storage",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default is $HOME/.config/lotus-export/config.yml)")
	root.PersistentFlags().String("log-level", defaultLogLevel, "log level: debug|info|warn|error")
	root.PersistentFlags().String("log-format", defaultLogFormat, "log format: text|json")
	_ = v.BindPFlag("log-level", root.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("log-format", root.PersistentFlags().Lookup("log-format"))

	var once bool
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Export pending hour windows on a schedule, or once with --once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v, configPath)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			logger := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
			if once {
				return runOnce(ctx, cfg, logger)
			}
			return runScheduled(ctx, cfg, logger)
		},
	}
	runCmd.Flags().BoolVar(&once, "once", false, "export pending windows once and exit")
	runCmd.Flags().String("schedule", model.DefaultSchedule, "cron expression for scheduled runs")
	_ = v.BindPFlag("schedule", runCmd.Flags().Lookup("schedule"))

	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "List the hour windows the next run would export",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v, configPath)
			if err != nil {
				return err
			}
			logger := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
			return printPlan(cmd.Context(), cmd.OutOrStdout(), cfg, logger)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "lotus-export - Loki hourly archive exporter\n")
			fmt.Fprintf(out, "  Version:    %s\n", version)
			fmt.Fprintf(out, "  Commit:     %s\n", commit)
			fmt.Fprintf(out, "  Built:      %s\n", buildTime)
			fmt.Fprintf(out, "  Go version: %s\n", goVersion)
		},
	}

	root.AddCommand(runCmd, planCmd, versionCmd)
	return root
}
