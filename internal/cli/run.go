package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	hsm "github.com/phamnamhien/HSM"
	"github.com/phamnamhien/HSM/active"
	"github.com/phamnamhien/HSM/config"
	"github.com/phamnamhien/HSM/timers"
)

const dispatchTimeout = 5 * time.Second

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <definition.yaml>",
		Short: "Run a definition interactively",
		Long: `Run a machine definition as an active object over system timers.

The definition is assembled without handlers, so this is a structural
dry run: declared event names read from stdin are dispatched through
the state tree, the active state is printed after each dispatch, and
declared timers fire in real time. "quit" or EOF stops the machine.

Example:
  echo tick | hsm run blinky.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMachine(opts, args[0], cmd)
		},
	}

	return cmd
}

func runMachine(opts *RunOptions, path string, cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	d, err := config.Load(path)
	if err != nil {
		return err
	}
	tree, err := d.AssembleSkeleton()
	if err != nil {
		return err
	}

	obj, err := active.New(d.Name, tree.Initial(),
		active.WithTimerBackend(timers.System()),
		active.WithLogger(logger),
		active.WithTrace(announce(out)),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := obj.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "machine %s started in state %q\n", d.Name, d.Initial)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}
		event, ok := d.Event(line)
		if !ok {
			fmt.Fprintf(out, "unknown event %q (declared: %s)\n", line, eventNames(d))
			continue
		}
		if err := dispatch(ctx, obj, event, out); err != nil {
			break
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()
	if err := obj.Stop(stopCtx); err != nil {
		return err
	}
	fmt.Fprintln(out, "machine stopped")
	return scanner.Err()
}

func dispatch(ctx context.Context, obj *active.Object, event hsm.Event, out io.Writer) error {
	dctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()
	if err := obj.DispatchSync(dctx, event, nil); err != nil {
		return err
	}
	state, err := obj.State(dctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "state: %s\n", state.Name())
	return nil
}

func eventNames(d *config.Definition) string {
	if len(d.Events) == 0 {
		return "none"
	}
	names := make([]string, len(d.Events))
	for i, e := range d.Events {
		names[i] = e.Name
	}
	return strings.Join(names, ", ")
}

// announce prints transitions to the command's output as they happen.
func announce(out io.Writer) hsm.Trace {
	return func(step string, args ...any) func(...any) {
		if step == "transition" {
			var names []string
			for _, arg := range args {
				if s, ok := arg.(*hsm.State); ok {
					names = append(names, s.Name())
				}
			}
			if len(names) == 2 {
				fmt.Fprintf(out, "transition: %s -> %s\n", names[0], names[1])
			}
		}
		return func(...any) {}
	}
}
