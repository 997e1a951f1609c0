package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/handleprobe/internal/config"
	"github.com/calvinalkan/handleprobe/internal/probe"
)

// ErrDataDirEmpty is returned for an explicitly empty --data-dir.
var ErrDataDirEmpty = errors.New("data-dir cannot be empty")

// loadFunc loads the configuration with command-line overrides applied.
type loadFunc func(config.Overrides) (config.Config, error)

// RunCmd returns the run command.
func RunCmd(load loadFunc) *Command {
	flags := flag.NewFlagSet("run", flag.ContinueOnError)
	flags.Bool("conflicts", false, "Run the share-mode conflict matrix")
	flags.Bool("rename", false, "Run rename-under-handle")
	flags.Bool("delete", false, "Run delete-under-handle")
	flags.Bool("all", false, "Run every scenario")
	flags.String("backend", "", "Backend to probe: os or sim")
	flags.String("data-dir", "", "Directory the scenarios work in")
	flags.StringSlice("rename-strategy", nil, "Rename strategies to run (repeatable)")
	flags.StringSlice("delete-strategy", nil, "Delete strategies to run (repeatable)")
	flags.String("report", "", "Write the report to `file`")
	flags.String("format", "", "Report format: json or yaml (default from the file extension)")
	flags.Bool("strict", false, "Exit 1 if any check failed or any scenario was fatal")
	flags.BoolP("verbose", "v", false, "Log every step to stderr")

	return &Command{
		Flags: flags,
		Usage: "run [flags]",
		Short: "Run the enabled scenarios",
		Long: `Run the enabled scenarios against the configured backend and print a trace.

Scenarios are opt-in: enable them in the config file, with HANDLEPROBE_SCENARIOS
or with --conflicts, --rename, --delete or --all. Failed checks are reported in
the trace and the summary; the exit code stays 0 unless --strict is given.`,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			return execRun(ctx, o, flags, load)
		},
	}
}

func execRun(ctx context.Context, o *IO, flags *flag.FlagSet, load loadFunc) error {
	overrides, err := runOverrides(flags)
	if err != nil {
		return err
	}

	cfg, err := load(overrides)
	if err != nil {
		return err
	}

	reportPath, _ := flags.GetString("report")
	explicitFormat, _ := flags.GetString("format")

	if reportPath != "" && !filepath.IsAbs(reportPath) {
		reportPath = filepath.Join(cfg.EffectiveCwd, reportPath)
	}

	var format string

	if reportPath != "" || explicitFormat != "" {
		format, err = reportFormat(reportPath, explicitFormat)
		if err != nil {
			return err
		}
	}

	if !cfg.Scenarios.Any() {
		o.Println("no scenarios enabled; pass --conflicts, --rename, --delete or --all, or enable them in the config")

		return nil
	}

	fsys, err := cfg.OpenFS()
	if err != nil {
		return err
	}

	opts, err := cfg.ProbeOptions()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(o.errOut, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	printer := newTracePrinter(o.out)

	h := probe.New(fsys, opts, probe.WithObserver(printer), probe.WithLogger(logger))

	report, runErr := h.Run(ctx)

	printer.printSummary(report)

	if reportPath != "" {
		if err := writeReport(report, reportPath, format); err != nil {
			return errors.Join(runErr, err)
		}

		logger.Info("report written", "path", reportPath, "format", format)
	}

	if runErr != nil && ctx.Err() != nil {
		return fmt.Errorf("run interrupted: %w", runErr)
	}

	if strict, _ := flags.GetBool("strict"); strict && report.HasFailures() {
		s := report.Summary
		o.Warn(
			fmt.Sprintf("%d iterations failed, %d aborted, %d scenarios fatal", s.Failed, s.Aborted, s.FatalScenarios),
			"see the trace above",
		)
	}

	return nil
}

func runOverrides(flags *flag.FlagSet) (config.Overrides, error) {
	var o config.Overrides

	o.Backend, _ = flags.GetString("backend")
	o.DataDir, _ = flags.GetString("data-dir")
	o.RenameStrategies, _ = flags.GetStringSlice("rename-strategy")
	o.DeleteStrategies, _ = flags.GetStringSlice("delete-strategy")

	if flags.Changed("data-dir") && o.DataDir == "" {
		return config.Overrides{}, ErrDataDirEmpty
	}

	if all, _ := flags.GetBool("all"); all {
		o.Scenarios = []string{"all"}
	} else {
		for _, name := range []string{probe.ScenarioConflicts, probe.ScenarioRename, probe.ScenarioDelete} {
			if on, _ := flags.GetBool(name); on {
				o.Scenarios = append(o.Scenarios, name)
			}
		}
	}

	if verbose, _ := flags.GetBool("verbose"); verbose {
		o.LogLevel = "debug"
	}

	return o, nil
}
