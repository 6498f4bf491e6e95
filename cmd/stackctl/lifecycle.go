package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/artpar/stackctl/internal/shell/docker"
)

// =============================================================================
// Flag Helpers
// =============================================================================

// timeoutFlag returns the -t/--timeout value, or nil when it was not given.
func timeoutFlag(cmd *cobra.Command) *time.Duration {
	if !cmd.Flags().Changed("timeout") {
		return nil
	}
	seconds, _ := cmd.Flags().GetInt("timeout")
	d := time.Duration(seconds) * time.Second
	return &d
}

func addTimeoutFlag(cmd *cobra.Command) {
	cmd.Flags().IntP("timeout", "t", 10, "Shutdown timeout in seconds")
}

// parseScale turns "svc=N" pairs into replica overrides.
func parseScale(pairs []string) (map[string]int, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	scale := make(map[string]int, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, usageErrorf("invalid --scale %q, expected SERVICE=NUM", pair)
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, usageErrorf("invalid --scale %q: %v", pair, err)
		}
		scale[name] = n
	}
	return scale, nil
}

// parseEnv turns "K=V" pairs into a map. A bare "K" copies K from the
// caller's environment.
func parseEnv(pairs []string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			value = os.Getenv(key)
		}
		env[key] = value
	}
	return env
}

type upFlags struct {
	detach        bool
	forceRecreate bool
	noRecreate    bool
	noStart       bool
	removeOrphans bool
	scale         []string
	pull          string
}

func (f *upFlags) register(cmd *cobra.Command, withStart bool) {
	flags := cmd.Flags()
	if withStart {
		flags.BoolVarP(&f.detach, "detach", "d", false, "Run containers in the background")
		flags.BoolVar(&f.noStart, "no-start", false, "Don't start the services after creating them")
	}
	flags.BoolVar(&f.forceRecreate, "force-recreate", false, "Recreate containers even if their configuration hasn't changed")
	flags.BoolVar(&f.noRecreate, "no-recreate", false, "Don't recreate containers that already exist")
	flags.BoolVar(&f.removeOrphans, "remove-orphans", false, "Remove containers for services not defined in the compose file")
	flags.StringArrayVar(&f.scale, "scale", nil, "Scale SERVICE to NUM instances (SERVICE=NUM)")
	flags.StringVar(&f.pull, "pull", string(docker.PullMissing), "Pull image before running (always|missing|never)")
	addTimeoutFlag(cmd)
}

func (f *upFlags) options(cmd *cobra.Command, services []string) (docker.UpOptions, error) {
	scale, err := parseScale(f.scale)
	if err != nil {
		return docker.UpOptions{}, err
	}
	return docker.UpOptions{
		Services:      services,
		ForceRecreate: f.forceRecreate,
		NoRecreate:    f.noRecreate,
		NoStart:       f.noStart,
		RemoveOrphans: f.removeOrphans,
		Scale:         scale,
		Pull:          docker.PullPolicy(f.pull),
		Timeout:       timeoutFlag(cmd),
	}, nil
}

// =============================================================================
// up / create / start
// =============================================================================

func newUpCmd(a *app) *cobra.Command {
	var f upFlags
	cmd := &cobra.Command{
		Use:   "up [SERVICE...]",
		Short: "Create and start containers",
		Long: `Create and start the containers of the named services and everything
they depend on. Containers whose configuration changed are recreated.

Without --detach, the output of the services is followed until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := f.options(cmd, args)
			if err != nil {
				return err
			}
			return a.lifecycleCommand(cmd, args, func(ctx context.Context, inv *invocation) error {
				if err := inv.orch.Up(ctx, inv.topo, opts); err != nil {
					return err
				}
				if f.detach || f.noStart {
					return nil
				}
				return inv.orch.Logs(ctx, inv.topo, docker.LogsOptions{
					Services: args,
					Follow:   true,
					Tail:     "all",
				}, os.Stdout)
			})
		},
	}
	f.register(cmd, true)
	return cmd
}

func newCreateCmd(a *app) *cobra.Command {
	var f upFlags
	cmd := &cobra.Command{
		Use:   "create [SERVICE...]",
		Short: "Create containers without starting them",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := f.options(cmd, args)
			if err != nil {
				return err
			}
			return a.lifecycleCommand(cmd, args, func(ctx context.Context, inv *invocation) error {
				return inv.orch.Create(ctx, inv.topo, opts)
			})
		},
	}
	f.register(cmd, false)
	return cmd
}

func newStartCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "start [SERVICE...]",
		Short: "Start existing containers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.lifecycleCommand(cmd, args, func(ctx context.Context, inv *invocation) error {
				return inv.orch.Start(ctx, inv.topo, args)
			})
		},
	}
}

// =============================================================================
// stop / restart / pause / unpause / kill
// =============================================================================

func newStopCmd(a *app) *cobra.Command {
	var removeOrphans bool
	cmd := &cobra.Command{
		Use:   "stop [SERVICE...]",
		Short: "Stop running containers, dependents first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.lifecycleCommand(cmd, args, func(ctx context.Context, inv *invocation) error {
				return inv.orch.Stop(ctx, inv.topo, docker.StopOptions{
					Services:      args,
					Timeout:       timeoutFlag(cmd),
					RemoveOrphans: removeOrphans,
				})
			})
		},
	}
	addTimeoutFlag(cmd)
	cmd.Flags().BoolVar(&removeOrphans, "remove-orphans", false, "Also stop containers for services not defined in the compose file")
	return cmd
}

func newRestartCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart [SERVICE...]",
		Short: "Stop then start containers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.lifecycleCommand(cmd, args, func(ctx context.Context, inv *invocation) error {
				return inv.orch.Restart(ctx, inv.topo, docker.StopOptions{
					Services: args,
					Timeout:  timeoutFlag(cmd),
				})
			})
		},
	}
	addTimeoutFlag(cmd)
	return cmd
}

func newPauseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pause [SERVICE...]",
		Short: "Pause running containers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.lifecycleCommand(cmd, args, func(ctx context.Context, inv *invocation) error {
				return inv.orch.Pause(ctx, inv.topo, args)
			})
		},
	}
}

func newUnpauseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unpause [SERVICE...]",
		Short: "Unpause paused containers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.lifecycleCommand(cmd, args, func(ctx context.Context, inv *invocation) error {
				return inv.orch.Unpause(ctx, inv.topo, args)
			})
		},
	}
}

func newKillCmd(a *app) *cobra.Command {
	var (
		signal        string
		removeOrphans bool
	)
	cmd := &cobra.Command{
		Use:   "kill [SERVICE...]",
		Short: "Send a signal to running containers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.lifecycleCommand(cmd, args, func(ctx context.Context, inv *invocation) error {
				return inv.orch.Kill(ctx, inv.topo, docker.KillOptions{
					Services:      args,
					Signal:        signal,
					RemoveOrphans: removeOrphans,
				})
			})
		},
	}
	cmd.Flags().StringVarP(&signal, "signal", "s", "SIGKILL", "Signal to send to the containers")
	cmd.Flags().BoolVar(&removeOrphans, "remove-orphans", false, "Also kill containers for services not defined in the compose file")
	return cmd
}

// =============================================================================
// rm / down
// =============================================================================

func newRmCmd(a *app) *cobra.Command {
	var opts docker.RmOptions
	cmd := &cobra.Command{
		Use:   "rm [SERVICE...]",
		Short: "Remove stopped containers, dependents first",
		Long: `Remove the containers of the named services and of everything that
depends on them. Running containers are skipped unless --stop or --force
is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Services = args
			opts.Timeout = timeoutFlag(cmd)
			return a.lifecycleCommand(cmd, args, func(ctx context.Context, inv *invocation) error {
				return inv.orch.Remove(ctx, inv.topo, opts)
			})
		},
	}
	flags := cmd.Flags()
	flags.BoolVarP(&opts.Force, "force", "f", false, "Remove running containers without stopping them")
	flags.BoolVarP(&opts.Stop, "stop", "s", false, "Stop the containers before removing them")
	flags.BoolVarP(&opts.Volumes, "volumes", "v", false, "Remove anonymous volumes attached to the containers")
	flags.BoolVar(&opts.RemoveOrphans, "remove-orphans", false, "Also remove containers for services not defined in the compose file")
	addTimeoutFlag(cmd)
	return cmd
}

func newDownCmd(a *app) *cobra.Command {
	var opts docker.DownOptions
	cmd := &cobra.Command{
		Use:   "down [SERVICE...]",
		Short: "Stop and remove containers, networks and optionally volumes and images",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch opts.RMI {
			case "", docker.RemoveImagesAll, docker.RemoveImagesLocal:
			default:
				return usageErrorf("invalid --rmi %q (valid: all, local)", opts.RMI)
			}
			opts.Services = args
			opts.Timeout = timeoutFlag(cmd)
			return a.lifecycleCommand(cmd, args, func(ctx context.Context, inv *invocation) error {
				return inv.orch.Down(ctx, inv.topo, opts)
			})
		},
	}
	flags := cmd.Flags()
	flags.BoolVarP(&opts.Volumes, "volumes", "v", false, "Remove named volumes declared in the compose file and anonymous volumes")
	flags.StringVar(&opts.RMI, "rmi", "", `Remove images used by services: "local" only removes images built for the project, "all" removes every image`)
	flags.BoolVar(&opts.RemoveOrphans, "remove-orphans", false, "Remove every container of the project, including undeclared services")
	addTimeoutFlag(cmd)
	return cmd
}

// =============================================================================
// run
// =============================================================================

func newRunCmd(a *app) *cobra.Command {
	var (
		opts docker.RunOptions
		env  []string
		pull string
	)
	cmd := &cobra.Command{
		Use:   "run [OPTIONS] SERVICE [COMMAND] [ARGS...]",
		Short: "Run a one-off command in a new container of a service",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) < 1 {
				return usageErrorf("run requires a SERVICE argument")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Service = args[0]
			if len(args) > 1 {
				opts.Command = args[1:]
			}
			opts.Env = parseEnv(env)
			opts.Pull = docker.PullPolicy(pull)
			opts.Stdout = os.Stdout
			opts.Stderr = os.Stderr

			return a.lifecycleCommand(cmd, args[:1], func(ctx context.Context, inv *invocation) error {
				result, err := inv.orch.Run(ctx, inv.topo, opts)
				if err != nil {
					return err
				}
				if opts.Detach {
					fmt.Fprintln(os.Stdout, result.Name)
					return nil
				}
				if result.ExitCode != 0 {
					return &ExitCodeError{Code: result.ExitCode}
				}
				return nil
			})
		},
	}
	flags := cmd.Flags()
	flags.SetInterspersed(false)
	flags.BoolVarP(&opts.Detach, "detach", "d", false, "Run container in background and print its name")
	flags.BoolVar(&opts.Remove, "rm", false, "Remove the container when it exits")
	flags.BoolVar(&opts.NoDeps, "no-deps", false, "Don't start linked services")
	flags.StringVar(&opts.Name, "name", "", "Assign a name to the container")
	flags.StringArrayVarP(&env, "env", "e", nil, "Set environment variables (KEY=VAL)")
	flags.StringVar(&pull, "pull", string(docker.PullMissing), "Pull image before running (always|missing|never)")
	return cmd
}
