package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/pimsync/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool           `json:"valid"`
	Errors []FieldError   `json:"errors,omitempty"`
	Config *config.Config `json:"config,omitempty"`
}

// FieldError is one schema violation.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [config-file]",
		Short: "Validate a config file without syncing",
		Long: `Validate a pimsync config file against the configuration schema.

Defaults and PIMSYNC_* environment overrides are applied first, exactly as
the sync command would apply them. Without an argument the --config file is
checked; without either, the defaults are.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.Config
			if len(args) == 1 {
				path = args[0]
			}
			return runValidate(rootOpts, path, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	formatter.VerboseLog("Loading config %q", path)
	cfg, err := config.Load(path)
	if err != nil {
		if !errors.Is(err, config.ErrInvalid) {
			_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
			return WrapExitError(ExitCommandError, "load config", err)
		}
		return outputValidationErrors(formatter, fieldErrors(err))
	}
	if _, err := cfg.Engine(); err != nil {
		return outputValidationErrors(formatter, []FieldError{{Message: err.Error()}})
	}

	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Config: cfg})
	}
	fmt.Fprintln(formatter.Writer, "✓ Config valid")
	formatter.VerboseLog("policy=%s kinds=%v delete_enabled=%t", cfg.Sync.Policy, cfg.Sync.Kinds, cfg.Sync.DeleteEnabled)
	return nil
}

func fieldErrors(err error) []FieldError {
	var many config.ValidationErrors
	if errors.As(err, &many) {
		out := make([]FieldError, len(many))
		for i, e := range many {
			out[i] = FieldError{Field: e.Field, Message: e.Message}
		}
		return out
	}
	var one *config.ValidationError
	if errors.As(err, &one) {
		return []FieldError{{Field: one.Field, Message: one.Message}}
	}
	return []FieldError{{Message: err.Error()}}
}

// outputValidationErrors reports schema violations. They exit 1, like
// any other validation failure.
func outputValidationErrors(formatter *OutputFormatter, errs []FieldError) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error: &CLIError{
				Code:    ErrCodeConfig,
				Message: errs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, e := range errs {
		if e.Field != "" {
			fmt.Fprintf(formatter.Writer, "  %s: %s\n", e.Field, e.Message)
		} else {
			fmt.Fprintf(formatter.Writer, "  %s\n", e.Message)
		}
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
