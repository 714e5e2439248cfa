// Package cmd provides the command-line interface for soctriage.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"soctriage/bootstrap"
	"soctriage/config"
	"soctriage/core"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Global flags
var (
	outputJSON  bool
	configFile  string
	noColor     bool
	quiet       bool
	metricsFile string
	logLevel    string
)

// defaultTimeout bounds a whole CLI run
const defaultTimeout = 10 * time.Minute

// NewRootCmd creates the root command with all subcommands
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "soctriage",
		Short: "Triage security findings with threat intelligence enrichment",
		Long: `soctriage extracts indicators of compromise from security findings, enriches them
against a threat intelligence provider, scores each finding and recommends a verdict:
Monitor, Investigate or ImmediateAction.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output the report as JSON")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (default: ./config.yaml or ./config/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress non-essential output")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this file after the run")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newDemoCmd())

	return rootCmd
}

// runOptions are the per-command settings layered over configuration
type runOptions struct {
	demo        bool
	maxFindings int
	provider    string
}

// loadConfig reads configuration with command-line overrides applied
func loadConfig(opts runOptions) (*config.Config, error) {
	overrides := map[string]interface{}{}
	if opts.demo {
		overrides["demo_mode"] = true
	}
	if opts.maxFindings > 0 {
		overrides["max_findings_per_run"] = opts.maxFindings
	}
	if opts.provider != "" {
		overrides["enrichment.provider"] = opts.provider
	}
	if logLevel != "" {
		overrides["log_level"] = logLevel
	}
	return bootstrap.InitConfig(configFile, overrides)
}

// newLogger builds the process logger; quiet mode only logs warnings and above
func newLogger(cfg *config.Config) (*zap.SugaredLogger, error) {
	level := cfg.LogLevel
	if quiet && level != zapcore.ErrorLevel.String() {
		level = zapcore.WarnLevel.String()
	}
	_, sugar, err := bootstrap.InitLogger(level, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return sugar, nil
}

// triageFindings runs the pipeline over findings and renders the report
func triageFindings(cmd *cobra.Command, cfg *config.Config, findings []core.Finding) error {
	sugar, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	app, err := bootstrap.NewApp(ctx, cfg, sugar)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	app.MetricsFile = metricsFile
	defer app.Shutdown()

	out := cmd.OutOrStdout()
	if !outputJSON && !quiet {
		shown := len(findings)
		if shown > cfg.MaxFindingsPerRun {
			shown = cfg.MaxFindingsPerRun
		}
		renderBanner(out, shown, cfg.DemoMode)
	}

	var s *spinner.Spinner
	if !outputJSON && !quiet {
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
		s.Suffix = " Enriching indicators..."
		s.Start()
	}

	report, err := app.Run(ctx, findings)

	if s != nil {
		s.Stop()
	}
	if err != nil {
		return fmt.Errorf("triage failed: %w", err)
	}

	if outputJSON {
		return outputAsJSON(out, report)
	}
	renderReport(out, report)
	if !quiet {
		renderSummary(out, report)
	}
	return nil
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().ExecuteContext(context.Background())
}
