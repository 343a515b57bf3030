package cli

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/procharness/internal/config"
	"github.com/roach88/procharness/internal/process"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid       bool            `json:"valid"`
	Definitions int             `json:"definitions"`
	Configs     int             `json:"configs"`
	Errors      []ResourceIssue `json:"errors,omitempty"`
}

// ResourceIssue is one resource that failed to parse or validate.
type ResourceIssue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <resources-dir>",
		Short: "Validate process definitions and engine configurations",
		Long: `Parse and validate every process definition (*.process.yaml,
*.process.cue) and engine configuration (*.cfg.yaml, *.cfg.cue, *.cfg.xml)
under resources-dir without starting an engine.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, rootOpts, args[0])
		},
	}
	return cmd
}

func runValidate(cmd *cobra.Command, opts *RootOptions, dir string) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		msg := fmt.Sprintf("directory not found: %s", dir)
		_ = formatter.Error(ErrCodeArgs, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

	result, err := validateResources(os.DirFS(dir))
	if err != nil {
		_ = formatter.Error(ErrCodeLoad, err.Error(), nil)
		return WrapExitError(ExitCommandError, "walk resources", err)
	}

	if err := formatter.Result(result, !result.Valid, func(w io.Writer) {
		writeValidationText(w, result)
	}); err != nil {
		return err
	}
	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("%d invalid resource(s)", len(result.Errors)))
	}
	return nil
}

// isConfigResource reports whether name looks like an engine configuration.
func isConfigResource(name string) bool {
	for _, suffix := range []string{".cfg.yaml", ".cfg.yml", ".cfg.cue", ".cfg.xml"} {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

func validateResources(fsys fs.FS) (*ValidationResult, error) {
	result := &ValidationResult{Valid: true}

	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		var check func(name string, data []byte) error
		switch {
		case process.IsDefinition(p):
			result.Definitions++
			check = func(name string, data []byte) error {
				_, err := process.Parse(name, data)
				return err
			}
		case isConfigResource(p):
			result.Configs++
			check = func(name string, data []byte) error {
				_, err := config.Parse(name, data)
				return err
			}
		default:
			return nil
		}

		data, err := fs.ReadFile(fsys, p)
		if err == nil {
			err = check(p, data)
		}
		if err != nil {
			result.Valid = false
			result.Errors = append(result.Errors, ResourceIssue{Path: p, Message: err.Error()})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func writeValidationText(w io.Writer, result *ValidationResult) {
	for _, issue := range result.Errors {
		fmt.Fprintf(w, "✗ %s\n  %s\n", issue.Path, issue.Message)
	}
	status := "valid"
	if !result.Valid {
		status = "invalid"
	}
	fmt.Fprintf(w, "%d definition(s), %d configuration(s): %s\n", result.Definitions, result.Configs, status)
}
