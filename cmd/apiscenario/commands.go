package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sophialabs/apiscenario/internal/app"
	"github.com/sophialabs/apiscenario/internal/infrastructure/usecases"
)

func newRootCmd() *cobra.Command {
	cfg := app.DefaultConfig()

	cmd := &cobra.Command{
		Use:          "apiscenario",
		Short:        "Run API scenario definitions against a resource-management endpoint",
		SilenceUsage: true,
	}

	f := cmd.PersistentFlags()
	f.StringVar(&cfg.RootDir, "root", cfg.RootDir, "root directory of scenario definitions")
	f.StringSliceVar(&cfg.SpecPaths, "spec", cfg.SpecPaths, "API specification files or directories (repeatable)")
	f.StringVar(&cfg.EnvFile, "env-file", cfg.EnvFile, "JSON or YAML file of variables")
	f.StringToStringVar(&cfg.Vars, "var", cfg.Vars, "variable override as key=value (repeatable)")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	f.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "resource-management endpoint")
	f.StringVar(&cfg.Authority, "authority", cfg.Authority, "identity authority for client-credential tokens")
	f.DurationVar(&cfg.HTTPTimeout, "http-timeout", cfg.HTTPTimeout, "timeout of a single HTTP exchange")
	f.BoolVar(&cfg.DryRun, "dry-run", cfg.DryRun, "record requests instead of sending them")
	f.StringVar(&cfg.RecordingDir, "recording-dir", cfg.RecordingDir, "directory for dry-run recordings")
	f.StringVar(&cfg.SnapshotPath, "snapshot-db", cfg.SnapshotPath, "sqlite database of step snapshots (empty disables replay)")
	f.StringVar(&cfg.AssertionExpression, "assert", cfg.AssertionExpression, "status assertion expression")
	f.StringVar(&cfg.ResourceGroupTemplate, "rg-template", cfg.ResourceGroupTemplate, "resource group name template")
	f.Float64Var(&cfg.RequestsPerSecond, "rps", cfg.RequestsPerSecond, "requests per second per host (0 disables throttling)")
	f.IntVar(&cfg.Burst, "burst", cfg.Burst, "request burst per host")
	f.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "long-running operation poll interval")
	f.IntVar(&cfg.MaxPolls, "max-polls", cfg.MaxPolls, "maximum polls per long-running operation")
	f.DurationVar(&cfg.PollTimeout, "poll-timeout", cfg.PollTimeout, "maximum duration of a long-running operation")
	f.StringVar(&cfg.FinalStateVia, "final-state-via", cfg.FinalStateVia, "default final-state-via (location, original-uri, azure-async-operation)")

	cmd.AddCommand(runCmd(&cfg), validateCmd(&cfg), serveCmd(&cfg))
	return cmd
}

func runCmd(cfg *app.Config) *cobra.Command {
	var format string

	c := &cobra.Command{
		Use:   "run [definition...]",
		Short: "Run scenario definitions (all definitions below --root when none are given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(cmd.Context(), *cfg, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			reports, runErr := a.Run(cmd.Context(), args)
			if err := printReports(cmd.OutOrStdout(), reports, format); err != nil {
				return err
			}
			return runErr
		},
	}

	c.Flags().IntSliceVar(&cfg.Scenarios, "scenario", nil, "scenario index to run (repeatable; default all)")
	c.Flags().StringVar(&cfg.From, "from", "", "replay starting at this step")
	c.Flags().StringVar(&cfg.To, "to", "", "stop after this step")
	c.Flags().StringVar(&cfg.RunID, "run-id", "", "run id (generated when empty)")
	c.Flags().BoolVar(&cfg.SkipCleanup, "skip-cleanup", cfg.SkipCleanup, "keep created resource groups")
	c.Flags().StringVar(&format, "format", "pretty", "output format: pretty|json")
	return c
}

func validateCmd(cfg *app.Config) *cobra.Command {
	var format string

	c := &cobra.Command{
		Use:   "validate [definition...]",
		Short: "Load and resolve scenario definitions without sending requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(cmd.Context(), *cfg, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			results, err := a.Validate(cmd.Context(), args)
			if err != nil {
				return err
			}
			return printValidation(cmd.OutOrStdout(), results, format)
		},
	}

	c.Flags().StringVar(&format, "format", "pretty", "output format: pretty|json")
	return c
}

func serveCmd(cfg *app.Config) *cobra.Command {
	c := &cobra.Command{
		Use:   "serve",
		Short: "Serve the admin API and reload definitions on change",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(cmd.Context(), *cfg, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Serve(cmd.Context())
		},
	}

	c.Flags().IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	c.Flags().IntVar(&cfg.TraceSize, "trace-size", cfg.TraceSize, "number of request trace entries to keep")
	c.Flags().DurationVar(&cfg.WatcherDebounce, "watch-debounce", cfg.WatcherDebounce, "delay before reloading changed files")
	return c
}

func printReports(w io.Writer, reports []*usecases.RunReport, format string) error {
	if format == "json" {
		return writeJSON(w, reports)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, r := range reports {
		fmt.Fprintf(tw, "run %s  %s\n", r.RunID, r.File)
		for _, s := range r.Steps {
			status := "ok"
			if s.Error != "" {
				status = "FAIL " + s.Error
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%d\t%s\t%s\n", s.Scenario, s.Step, s.Kind, s.StatusCode, s.Duration.Round(time.Millisecond), status)
		}
		for _, e := range r.CleanupErrors {
			fmt.Fprintf(tw, "  cleanup\t%s\n", e)
		}
	}
	return tw.Flush()
}

func printValidation(w io.Writer, results []*usecases.LoadResult, format string) error {
	if format == "json" {
		type summary struct {
			File      string `json:"file"`
			Scenarios int    `json:"scenarios"`
			Steps     int    `json:"steps"`
			Coverage  any    `json:"coverage"`
		}
		out := make([]summary, 0, len(results))
		for _, r := range results {
			out = append(out, summary{File: r.File.Path, Scenarios: len(r.File.Scenarios), Steps: stepCount(r), Coverage: r.Coverage})
		}
		return writeJSON(w, out)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tSCENARIOS\tSTEPS\tCOVERAGE")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d/%d (%.0f%%)\n",
			r.File.Path, len(r.File.Scenarios), stepCount(r), r.Coverage.Covered, r.Coverage.Total, r.Coverage.Ratio()*100)
	}
	return tw.Flush()
}

func stepCount(r *usecases.LoadResult) int {
	n := len(r.File.PrepareSteps)
	for _, sc := range r.File.Scenarios {
		n += len(sc.Steps)
	}
	return n
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
