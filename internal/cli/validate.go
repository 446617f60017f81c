package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cordage-io/cordage/internal/compiler"
)

// ValidationResult holds validation results for one stack directory.
type ValidationResult struct {
	Valid        bool                       `json:"valid"`
	Models       int                        `json:"models"`
	Deployments  int                        `json:"deployments"`
	Requirements int                        `json:"requirements"`
	Errors       []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <stack-dir>",
		Short: "Validate a stack without resolving it",
		Long: `Validate the catalog and profile in a stack directory.

Compiles every CUE file, then cross-checks the references the schema
cannot express: children against the catalog, wiring against declared
ports and directions, bus roles, selections against known deployments,
and composite containment cycles.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	stack, err := LoadStack(dir)
	if err != nil {
		return outputLoadError(formatter, err)
	}

	formatter.VerboseLog("Loaded %d CUE file(s) from %s", stack.FileCount, dir)

	validationErrors := compiler.ValidateCatalog(stack.Catalog)
	validationErrors = append(validationErrors, compiler.ValidateProfile(stack.Catalog, stack.Requirements)...)
	for _, cycle := range compiler.AnalyzeComposites(stack.Catalog) {
		validationErrors = append(validationErrors, compiler.ValidationError{
			Field:   "models",
			Message: cycle.Message,
			Code:    compiler.ErrCompositeShape,
		})
	}

	result := ValidationResult{
		Valid:        len(validationErrors) == 0,
		Models:       len(stack.Catalog.ModelNames()),
		Deployments:  len(stack.Catalog.DeploymentNames()),
		Requirements: len(stack.Requirements),
		Errors:       validationErrors,
	}

	if len(validationErrors) > 0 {
		return outputValidationErrors(formatter, result)
	}
	return outputValidateSuccess(formatter, result)
}

// outputLoadError reports a stack loading failure. Load problems are
// command-level errors (exit code 2): the input could not even be read.
func outputLoadError(formatter *OutputFormatter, err error) error {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
		return NewExitError(ExitCommandError, loadErr.Error())
	}
	_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
	return NewExitError(ExitCommandError, err.Error())
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ stack valid: %d model(s), %d deployment(s), %d requirement(s)\n",
		result.Models, result.Deployments, result.Requirements)
	return nil
}

// outputValidationErrors outputs semantic validation failures.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    result.Errors[0].Code,
				Message: result.Errors[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		// Validation failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
	}

	fmt.Fprintln(formatter.Writer, "✗ validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, e := range result.Errors {
		fmt.Fprintf(formatter.Writer, "  [%s] %s: %s\n", e.Code, e.Field, e.Message)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
}
