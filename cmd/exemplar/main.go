package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/exemplar-tools/exemplar/pkg/caserunner"
	"github.com/exemplar-tools/exemplar/pkg/environment"
	"github.com/exemplar-tools/exemplar/pkg/executor"
	"github.com/exemplar-tools/exemplar/pkg/report"
	"github.com/exemplar-tools/exemplar/pkg/schema"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

var (
	flagManifest string
	flagXUnit    string
	flagVerbose  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "exemplar",
	Short:   "Declarative sample test runner",
	Long:    "exemplar runs declarative test plans against executable samples: setup/test/teardown stages of directives with output assertions.",
	Version: fmt.Sprintf("%s (%s)", version, commit),
}

var runCmd = &cobra.Command{
	Use:   "run <plan.yaml> [<plan.yaml>...]",
	Short: "Run every case of the given test plans",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRun,
}

var validateCmd = &cobra.Command{
	Use:   "validate <plan.yaml> [<plan.yaml>...]",
	Short: "Validate test plan files against the schema",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runValidate,
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON Schema for test plan documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := schema.GenerateJSONSchema()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&flagManifest, "manifest", "", "environment manifest mapping call targets to artifacts")
	runCmd.Flags().StringVar(&flagXUnit, "xunit", "", "write xUnit XML results to this file")
	runCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
	rootCmd.AddCommand(runCmd, validateCmd, schemaCmd)
}

// setupLogging configures zerolog for human-readable output on stderr.
func setupLogging() zerolog.Logger {
	level := zerolog.InfoLevel
	if flagVerbose {
		level = zerolog.DebugLevel
	}
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}

func runValidate(cmd *cobra.Command, args []string) error {
	bad := 0
	for _, path := range args {
		_, errs := schema.ValidateFile(path)
		if len(errs) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", path)
			continue
		}
		bad++
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d problem(s)\n", path, len(errs))
		for _, e := range errs {
			fmt.Fprintf(cmd.OutOrStdout(), "  %v\n", e)
		}
	}
	if bad > 0 {
		return fmt.Errorf("%d plan file(s) failed validation", bad)
	}
	return nil
}

func runRun(cmd *cobra.Command, args []string) error {
	logger := setupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := buildEnvironment()
	if err != nil {
		return err
	}
	exec := &executor.ShellExecutor{}

	var results []report.CaseResult
	idx := 0
	interrupted := false

	for _, path := range args {
		plan, errs := schema.ValidateFile(path)
		if len(errs) > 0 {
			for _, e := range errs {
				logger.Error().Str("plan", path).Msg(e.Error())
			}
			return fmt.Errorf("%s: plan validation failed", path)
		}

		for _, suite := range plan.Suites {
			for _, tc := range suite.Cases {
				idx++
				c := caserunner.New(env, exec, logger, idx, tc.Name, suite.Setup, tc.Spec, suite.Teardown)
				problems, runErr := c.Run(ctx)

				results = append(results, report.CaseResult{
					Index:      c.Index(),
					Suite:      suite.Name,
					Case:       c.Label(),
					Problems:   problems,
					Failures:   c.Failures(),
					Errors:     c.Errors(),
					Transcript: c.Output(0, ""),
					Duration:   c.EndTime().Sub(c.StartTime()),
				})

				if runErr != nil {
					logger.Error().Err(runErr).Msg("run interrupted")
					interrupted = true
					break
				}
			}
			if interrupted {
				break
			}
		}
		if interrupted {
			break
		}
	}

	fmt.Fprint(cmd.OutOrStdout(), report.Render(results))

	if flagXUnit != "" {
		f, err := os.Create(flagXUnit)
		if err != nil {
			return fmt.Errorf("create xunit file: %w", err)
		}
		defer f.Close()
		if err := report.WriteXUnit(f, results); err != nil {
			return err
		}
		logger.Info().Str("path", flagXUnit).Msg("wrote xUnit results")
	}

	if interrupted {
		return errors.New("interrupted")
	}
	if totalProblems := report.Problems(results); totalProblems > 0 {
		return fmt.Errorf("%d problem(s) across %d case(s)", totalProblems, len(results))
	}
	logger.Info().Int("cases", len(results)).Dur("elapsed", elapsed(results)).Msg("all cases passed")
	return nil
}

func buildEnvironment() (environment.Provider, error) {
	if flagManifest == "" {
		return &environment.Base{}, nil
	}
	return environment.LoadManifest(flagManifest)
}

func elapsed(results []report.CaseResult) time.Duration {
	var total time.Duration
	for _, r := range results {
		total += r.Duration
	}
	return total
}
