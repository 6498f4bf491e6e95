package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set by build)
var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a := &app{}
	root := newRootCmd(a)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	code := exitCode(err)
	if code != ExitSuccess {
		if _, ok := err.(*ExitCodeError); !ok {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
	return code
}

// =============================================================================
// Root Command
// =============================================================================

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "stackctl",
		Short: "Run multi-container applications on a local Docker engine",
		Long: `stackctl reads compose files and drives their services through the
container lifecycle, honouring depends_on ordering: dependencies start first
and stop last.`,
		Version:          Version,
		SilenceUsage:     true,
		SilenceErrors:    true,
		TraverseChildren: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	// Project flags are root-local and must precede the subcommand.
	flags := root.Flags()
	flags.StringVar(&a.configPath, "config", "", "Path to config file (default: ./stackctl.yaml or ~/.config/stackctl/stackctl.yaml)")
	flags.StringSliceP("file", "f", nil, "Compose configuration files")
	flags.StringP("project-name", "p", "", "Project name")
	flags.String("project-directory", "", "Alternate working directory")
	flags.StringSlice("profile", nil, "Profiles to enable")
	flags.StringSlice("env-file", nil, "Alternate environment files")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.Bool("verbose", false, "Show every instance operation as it starts")

	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &UsageError{Err: err}
	})

	root.AddCommand(
		newUpCmd(a),
		newCreateCmd(a),
		newStartCmd(a),
		newStopCmd(a),
		newRestartCmd(a),
		newPauseCmd(a),
		newUnpauseCmd(a),
		newKillCmd(a),
		newRmCmd(a),
		newDownCmd(a),
		newRunCmd(a),
		newPsCmd(a),
		newLogsCmd(a),
		newTopCmd(a),
		newEventsCmd(a),
		newImagesCmd(a),
		newPortCmd(a),
		newExecCmd(a),
		newCpCmd(a),
		newLsCmd(a),
		newConfigCmd(a),
		newHistoryCmd(a),
		newVersionCmd(a),
	)
	return root
}
