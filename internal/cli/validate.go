package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/phamnamhien/HSM/config"
)

// ValidationResult holds validation results for JSON output.
type ValidationResult struct {
	Valid   bool   `json:"valid"`
	Machine string `json:"machine,omitempty"`
	States  int    `json:"states,omitempty"`
	Events  int    `json:"events,omitempty"`
	Initial string `json:"initial,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <definition.yaml>",
		Short: "Validate a machine definition",
		Long: `Validate a machine definition without building it.

Checks names, tree shape, nesting depth, event codes and timer
references, and reports the first problem found.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	d, err := config.Load(path)
	if err != nil {
		if opts.Format == "json" {
			result := ValidationResult{Valid: false, Error: err.Error()}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(result); encErr != nil {
				return encErr
			}
			return fmt.Errorf("validation failed")
		}
		fmt.Fprintln(out, "✗ Validation failed")
		fmt.Fprintf(out, "  %s\n", err)
		return fmt.Errorf("validation failed")
	}

	result := ValidationResult{
		Valid:   true,
		Machine: d.Name,
		States:  len(d.States),
		Events:  len(d.Events),
		Initial: d.Initial,
	}
	if opts.Format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	fmt.Fprintf(out, "✓ machine %s: %d state(s), %d event(s), initial %q\n",
		result.Machine, result.States, result.Events, result.Initial)
	return nil
}
