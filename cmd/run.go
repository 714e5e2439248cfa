package cmd

import (
	"fmt"
	"time"

	"soctriage/triage"

	"github.com/spf13/cobra"
)

// newRunCmd creates the 'run' subcommand
func newRunCmd() *cobra.Command {
	var (
		opts  runOptions
		hours int
	)

	cmd := &cobra.Command{
		Use:   "run [findings-file]",
		Short: "Triage findings from a JSON or YAML file",
		Long: `Triage findings read from a JSON or YAML file, or from stdin when the file is "-" or omitted.

The document is either a list of findings or an object with a "findings" list. Each finding
has an id, type, title, severity (0-10), a map of fields and an RFC 3339 timestamp.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if hours < 0 {
				return fmt.Errorf("--hours must not be negative")
			}

			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			findings, err := LoadFindingsFile(path, cmd.InOrStdin())
			if err != nil {
				return err
			}

			findings, dropped := FilterSince(findings, time.Duration(hours)*time.Hour, time.Now())
			if dropped > 0 && !quiet && !outputJSON {
				warningColor.Fprintf(cmd.ErrOrStderr(), "Skipped %d findings older than %d hours\n", dropped, hours)
			}

			return triageFindings(cmd, cfg, findings)
		},
	}

	cmd.Flags().BoolVar(&opts.demo, "demo", false, "Use the built-in reputation table instead of a live provider")
	cmd.Flags().IntVar(&opts.maxFindings, "max-findings", 0, "Override max_findings_per_run")
	cmd.Flags().StringVar(&opts.provider, "provider", "", "Override the enrichment provider (virustotal, abuseipdb)")
	cmd.Flags().IntVar(&hours, "hours", 0, "Only triage findings detected within the last N hours (0 = all)")

	return cmd
}

// newDemoCmd creates the 'demo' subcommand
func newDemoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Triage the built-in sample findings without network access",
		Long:  "Run the pipeline over three canned findings with the built-in reputation table. No API key is needed.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(runOptions{demo: true})
			if err != nil {
				return err
			}
			return triageFindings(cmd, cfg, triage.DemoFindings(time.Now().UTC()))
		},
	}
}
