package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/phamnamhien/HSM/config"
	"github.com/phamnamhien/HSM/pkg/plantuml"
)

// DiagramOptions holds flags for the diagram command.
type DiagramOptions struct {
	*RootOptions
	Output string
}

// NewDiagramCommand creates the diagram command.
func NewDiagramCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DiagramOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "diagram <definition.yaml>",
		Short: "Render a definition as a PlantUML state diagram",
		Long: `Render a machine definition as a PlantUML state diagram.

The definition is validated and assembled without handlers, so diagrams
can be produced for definitions whose behavior lives elsewhere.

Example:
  hsm diagram machine.yaml
  hsm diagram machine.yaml -o machine.puml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiagram(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the diagram to a file instead of stdout")

	return cmd
}

func runDiagram(opts *DiagramOptions, path string, cmd *cobra.Command) error {
	d, err := config.Load(path)
	if err != nil {
		return err
	}
	asm, err := d.Skeleton()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.Output != "" {
		f, err := os.Create(opts.Output)
		if err != nil {
			return fmt.Errorf("diagram output: %w", err)
		}
		defer f.Close()
		out = f
	}
	return plantuml.GenerateMachine(out, asm.Machine, asm.StateList()...)
}
