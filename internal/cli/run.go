package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/procharness/internal/clock"
	"github.com/roach88/procharness/internal/config"
	"github.com/roach88/procharness/internal/engine"
	"github.com/roach88/procharness/internal/harness"
	"github.com/roach88/procharness/internal/registry"
	"github.com/roach88/procharness/internal/session"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigDir       string   // directory holding engine configuration resources
	ConfigResources []string // fallback chain of configuration resource names
	Filter          string   // substring a scenario name must contain
	Update          bool     // rewrite golden files instead of comparing
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <resources-dir> <scenarios-dir>",
		Short: "Run scenario suites",
		Long: `Run every scenario under scenarios-dir. Each scenario begins a test
session: the engine is resolved from the configuration chain, the scenario's
resources are deployed from resources-dir, steps run on the virtual clock,
and the deployment is cascade-deleted afterwards.

When scenarios-dir/golden/<name>.golden exists the run's snapshot must match
it; --update rewrites the golden files.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, unusable configuration, etc.)

Examples:
  procharness run ./processes ./scenarios
  procharness run ./processes ./scenarios --filter invoice
  procharness run ./processes ./scenarios --config ./config --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(cmd, opts, args[0], args[1])
		},
	}

	cmd.Flags().StringVar(&opts.ConfigDir, "config", "", "configuration directory (default: resources-dir)")
	cmd.Flags().StringSliceVar(&opts.ConfigResources, "config-resource",
		[]string{config.DefaultResource, config.LegacyResource},
		"configuration resources tried in order")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only run scenarios whose name contains this")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "rewrite golden files")

	return cmd
}

func runScenarios(cmd *cobra.Command, opts *RunOptions, resourcesDir, scenariosDir string) (err error) {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	configDir := opts.ConfigDir
	if configDir == "" {
		configDir = resourcesDir
	}
	for _, dir := range []string{resourcesDir, scenariosDir, configDir} {
		if info, statErr := os.Stat(dir); statErr != nil || !info.IsDir() {
			msg := fmt.Sprintf("directory not found: %s", dir)
			_ = formatter.Error(ErrCodeArgs, msg, nil)
			return NewExitError(ExitCommandError, msg)
		}
	}

	logger := opts.logger(formatter.ErrOut())
	vc := clock.Default()

	reg := registry.New(
		registry.ConfigBuilder(os.DirFS(configDir), engine.WithClock(vc), engine.WithLogger(logger)),
		registry.WithLogger(logger),
	)
	defer func() {
		if closeErr := reg.CloseAll(); closeErr != nil && err == nil {
			err = WrapExitError(ExitCommandError, "close engines", closeErr)
		}
	}()

	runner := harness.NewRunner(reg, os.DirFS(resourcesDir), vc,
		harness.WithLogger(logger),
		harness.WithSessionOptions(session.WithConfigResources(opts.ConfigResources...)),
	)

	files, loadErr := harness.LoadSuite(os.DirFS(scenariosDir), ".", opts.Filter)
	if loadErr != nil && len(files) == 0 {
		_ = formatter.Error(ErrCodeLoad, loadErr.Error(), nil)
		return WrapExitError(ExitCommandError, "load scenarios", loadErr)
	}

	var suite harness.SuiteResult
	for _, file := range files {
		result, runErr := runner.Run(cmd.Context(), file.Scenario)
		if runErr == nil {
			runErr = checkGolden(scenariosDir, file.Scenario.Name, result, opts.Update)
		}
		if config.IsNotFound(runErr) {
			_ = formatter.Error(ErrCodeEngineInit, runErr.Error(), nil)
			return WrapExitError(ExitCommandError, "resolve engine", runErr)
		}
		suite.Record(file, result, runErr)
	}

	failed := suite.Failed > 0 || loadErr != nil
	if err := formatter.Result(suite, failed, func(w io.Writer) {
		writeSuiteText(w, files, &suite, loadErr)
	}); err != nil {
		return err
	}

	if failed {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenario(s) failed", suite.Failed, suite.Total))
	}
	return nil
}

// errGoldenMismatch reports a snapshot that differs from its golden file.
var errGoldenMismatch = errors.New("snapshot does not match golden file (run with --update to regenerate)")

// checkGolden compares a result's snapshot with scenariosDir/golden/<name>.golden
// when that file exists, or writes it when update is set.
func checkGolden(scenariosDir, name string, result *harness.Result, update bool) error {
	data, err := json.MarshalIndent(harness.NewSnapshot(name, result), "", "  ")
	if err != nil {
		return err
	}
	goldenPath := filepath.Join(scenariosDir, "golden", name+".golden")

	if update {
		if err := os.MkdirAll(filepath.Dir(goldenPath), 0o755); err != nil {
			return fmt.Errorf("create golden directory: %w", err)
		}
		return os.WriteFile(goldenPath, data, 0o644)
	}

	want, err := os.ReadFile(goldenPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read golden file: %w", err)
	}
	if !bytes.Equal(bytes.TrimRight(want, "\n"), data) {
		return errGoldenMismatch
	}
	return nil
}

func writeSuiteText(w io.Writer, files []harness.ScenarioFile, suite *harness.SuiteResult, loadErr error) {
	if len(files) == 0 && loadErr == nil {
		fmt.Fprintln(w, "No scenarios found.")
		return
	}

	failures := make(map[string]harness.SuiteFailure, len(suite.Failures))
	for _, f := range suite.Failures {
		failures[f.Scenario] = f
	}
	for _, file := range files {
		name := file.Scenario.Name
		if suite.Results[name] {
			fmt.Fprintf(w, "✓ %s\n", name)
			continue
		}
		fmt.Fprintf(w, "✗ %s\n", name)
		for _, e := range failures[name].Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
	if loadErr != nil {
		fmt.Fprintf(w, "✗ %v\n", loadErr)
	}

	fmt.Fprintf(w, "\n%d passed, %d failed, %d total\n", suite.Passed, suite.Failed, suite.Total)
}
