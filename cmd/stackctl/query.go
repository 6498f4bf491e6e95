package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/artpar/stackctl/internal/core/compose"
	"github.com/artpar/stackctl/internal/core/monitoring"
	"github.com/artpar/stackctl/internal/shell/docker"
	"github.com/artpar/stackctl/internal/shell/output"
	"github.com/artpar/stackctl/internal/shell/store"
)

func addFormatFlag(cmd *cobra.Command, format *string) {
	cmd.Flags().StringVar(format, "format", "table", "Output format (table|json|yaml)")
}

func parseFormat(s string) (output.Format, error) {
	f, err := output.ParseFormat(s)
	if err != nil {
		return "", &UsageError{Err: err}
	}
	return f, nil
}

// =============================================================================
// ps / logs / top / events
// =============================================================================

func newPsCmd(a *app) *cobra.Command {
	var (
		opts   docker.PsOptions
		quiet  bool
		format string
	)
	cmd := &cobra.Command{
		Use:   "ps [SERVICE...]",
		Short: "List containers",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := parseFormat(format)
			if err != nil {
				return err
			}
			opts.Services = args
			return a.queryCommand(cmd, func(ctx context.Context, topo *compose.Topology, orch *docker.Orchestrator) error {
				containers, err := orch.Ps(ctx, topo, opts)
				if err != nil {
					return err
				}
				table := output.NewContainerTable(containers, a.labels().Service(), time.Now())
				if quiet {
					for _, name := range table.Names() {
						fmt.Fprintln(os.Stdout, name)
					}
					return nil
				}
				return output.Print(os.Stdout, f, table)
			})
		},
	}
	cmd.Flags().BoolVarP(&opts.All, "all", "a", false, "Show all stopped containers")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Only display container names")
	addFormatFlag(cmd, &format)
	return cmd
}

func newLogsCmd(a *app) *cobra.Command {
	var opts docker.LogsOptions
	cmd := &cobra.Command{
		Use:   "logs [SERVICE...]",
		Short: "View output from containers",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Services = args
			return a.queryCommand(cmd, func(ctx context.Context, topo *compose.Topology, orch *docker.Orchestrator) error {
				return orch.Logs(ctx, topo, opts, os.Stdout)
			})
		},
	}
	flags := cmd.Flags()
	flags.BoolVarP(&opts.Follow, "follow", "f", false, "Follow log output")
	flags.BoolVarP(&opts.Timestamps, "timestamps", "t", false, "Show timestamps")
	flags.StringVarP(&opts.Tail, "tail", "n", "all", "Number of lines to show from the end of the logs for each container")
	flags.BoolVar(&opts.NoPrefix, "no-log-prefix", false, "Don't print prefix in logs")
	return cmd
}

func newTopCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "top [SERVICE...]",
		Short: "Display the running processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.queryCommand(cmd, func(ctx context.Context, topo *compose.Topology, orch *docker.Orchestrator) error {
				procs, err := orch.Top(ctx, topo, args)
				if err != nil {
					return err
				}
				return output.PrintTop(os.Stdout, procs)
			})
		},
	}
}

// eventLine is the --json form of an engine event.
type eventLine struct {
	Time       time.Time         `json:"time"`
	Type       string            `json:"type"`
	Action     string            `json:"action"`
	ID         string            `json:"id"`
	Service    string            `json:"service,omitempty"`
	Message    string            `json:"message"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func newEventsCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Stream engine events for the project",
		RunE: func(cmd *cobra.Command, _ []string) error {
			serviceLabel := a.labels().Service()
			return a.queryCommand(cmd, func(ctx context.Context, topo *compose.Topology, orch *docker.Orchestrator) error {
				return orch.Events(ctx, topo, func(ev docker.EngineEvent) error {
					if asJSON {
						return output.PrintJSONLine(os.Stdout, eventLine{
							Time:       ev.Time,
							Type:       ev.Type,
							Action:     ev.Action,
							ID:         ev.ID,
							Service:    ev.Attributes[serviceLabel],
							Message:    eventMessage(ev),
							Attributes: ev.Attributes,
						})
					}
					_, err := fmt.Fprintf(os.Stdout, "%s %s %s %s (%s)\n",
						ev.Time.Format(time.RFC3339Nano), ev.Type, ev.Action, ev.ID, formatAttributes(ev.Attributes))
					return err
				})
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output events as a stream of JSON objects")
	return cmd
}

func eventMessage(ev docker.EngineEvent) string {
	name := ev.Attributes["name"]
	if name == "" {
		name = ev.ID
	}
	return monitoring.EventMessage(ev.Type, ev.Action, name)
}

func formatAttributes(attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+attrs[k])
	}
	return strings.Join(parts, ", ")
}

// =============================================================================
// images / port / ls / config
// =============================================================================

func newImagesCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "images [SERVICE...]",
		Short: "List images used by the created containers",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := parseFormat(format)
			if err != nil {
				return err
			}
			return a.queryCommand(cmd, func(ctx context.Context, topo *compose.Topology, orch *docker.Orchestrator) error {
				images, err := orch.Images(ctx, topo, args)
				if err != nil {
					return err
				}
				return output.Print(os.Stdout, f, output.ImageTable(images))
			})
		},
	}
	addFormatFlag(cmd, &format)
	return cmd
}

// parsePort accepts "80" or "80/udp".
func parsePort(s string) (int, string, error) {
	portStr, proto, _ := strings.Cut(s, "/")
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return 0, "", usageErrorf("invalid port %q", s)
	}
	return port, proto, nil
}

func newPortCmd(a *app) *cobra.Command {
	var opts docker.PortOptions
	cmd := &cobra.Command{
		Use:   "port SERVICE PRIVATE_PORT",
		Short: "Print the public address for a port binding",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 2 {
				return usageErrorf("port requires SERVICE and PRIVATE_PORT arguments")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			port, proto, err := parsePort(args[1])
			if err != nil {
				return err
			}
			opts.Service = args[0]
			opts.Port = port
			if proto != "" {
				opts.Protocol = proto
			}
			return a.queryCommand(cmd, func(ctx context.Context, topo *compose.Topology, orch *docker.Orchestrator) error {
				addr, err := orch.Port(ctx, topo, opts)
				if err != nil {
					return err
				}
				fmt.Fprintln(os.Stdout, addr)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&opts.Index, "index", 1, "Index of the container if service has multiple replicas")
	cmd.Flags().StringVar(&opts.Protocol, "protocol", "tcp", "tcp or udp")
	return cmd
}

// =============================================================================
// exec / cp
// =============================================================================

func newExecCmd(a *app) *cobra.Command {
	var (
		opts  docker.ExecOptions
		env   []string
		noTTY bool
	)
	cmd := &cobra.Command{
		Use:   "exec [OPTIONS] SERVICE COMMAND [ARGS...]",
		Short: "Execute a command in a running service container",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) < 2 {
				return usageErrorf("exec requires SERVICE and COMMAND arguments")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Service = args[0]
			opts.Command = args[1:]
			opts.Env = parseEnv(env)
			opts.Tty = !noTTY && !opts.Detach && isatty.IsTerminal(os.Stdin.Fd())
			if !opts.Detach {
				opts.Stdin = os.Stdin
				opts.Stdout = os.Stdout
				opts.Stderr = os.Stderr
			}

			return a.queryCommand(cmd, func(ctx context.Context, topo *compose.Topology, orch *docker.Orchestrator) error {
				code, err := orch.Exec(ctx, topo, opts)
				if err != nil {
					return err
				}
				if code != 0 {
					return &ExitCodeError{Code: code}
				}
				return nil
			})
		},
	}
	flags := cmd.Flags()
	flags.SetInterspersed(false)
	flags.BoolVarP(&opts.Detach, "detach", "d", false, "Run command in the background")
	flags.StringArrayVarP(&env, "env", "e", nil, "Set environment variables (KEY=VAL)")
	flags.IntVar(&opts.Index, "index", 1, "Index of the container if service has multiple replicas")
	flags.BoolVar(&opts.Privileged, "privileged", false, "Give extended privileges to the process")
	flags.StringVarP(&opts.User, "user", "u", "", "Run the command as this user")
	flags.BoolVarP(&noTTY, "no-TTY", "T", false, "Disable pseudo-TTY allocation")
	flags.StringVarP(&opts.WorkingDir, "workdir", "w", "", "Path to workdir directory for this command")
	return cmd
}

func newCpCmd(a *app) *cobra.Command {
	var opts docker.CopyOptions
	cmd := &cobra.Command{
		Use:   "cp [OPTIONS] SERVICE:SRC_PATH DEST_PATH | SRC_PATH SERVICE:DEST_PATH",
		Short: "Copy files/folders between a service container and the local filesystem",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 2 {
				return usageErrorf("cp requires SOURCE and DESTINATION arguments")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Source = docker.ParseCopyPath(args[0])
			opts.Destination = docker.ParseCopyPath(args[1])

			return a.queryCommand(cmd, func(ctx context.Context, topo *compose.Topology, orch *docker.Orchestrator) error {
				return orch.Copy(ctx, topo, opts)
			})
		},
	}
	cmd.Flags().IntVar(&opts.Index, "index", 1, "Index of the container if service has multiple replicas")
	cmd.Flags().BoolVarP(&opts.Archive, "archive", "a", false, "Archive mode (copy all uid/gid information)")
	return cmd
}

func newLsCmd(a *app) *cobra.Command {
	var (
		format string
		quiet  bool
	)
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List projects on the engine",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := parseFormat(format)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			client, orch, err := a.connect(ctx, nil)
			if err != nil {
				return err
			}
			defer client.Close()

			projects, err := orch.Projects(ctx)
			if err != nil {
				return err
			}
			if quiet {
				for _, p := range projects {
					fmt.Fprintln(os.Stdout, p.Name)
				}
				return nil
			}
			return output.Print(os.Stdout, f, output.ProjectTable(projects))
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Only display project names")
	addFormatFlag(cmd, &format)
	return cmd
}

func newConfigCmd(a *app) *cobra.Command {
	var (
		hash     bool
		services bool
	)
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the resolved project model",
		RunE: func(cmd *cobra.Command, _ []string) error {
			topo, err := a.loadProject(cmd.Context())
			if err != nil {
				return err
			}
			switch {
			case hash:
				fp, err := topo.Fingerprint()
				if err != nil {
					return err
				}
				fmt.Fprintln(os.Stdout, fp)
			case services:
				for _, name := range topo.ServiceNames() {
					fmt.Fprintln(os.Stdout, name)
				}
			default:
				data, err := topo.RenderYAML()
				if err != nil {
					return err
				}
				os.Stdout.Write(data)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&hash, "hash", false, "Print the project configuration fingerprint")
	cmd.Flags().BoolVar(&services, "services", false, "Print the service names, one per line")
	cmd.MarkFlagsMutuallyExclusive("hash", "services")
	return cmd
}

// =============================================================================
// history / version
// =============================================================================

func newHistoryCmd(a *app) *cobra.Command {
	var (
		filter      store.RunFilter
		runID       string
		allProjects bool
		format      string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show journaled lifecycle runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := parseFormat(format)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			journal, err := a.openJournal()
			if err != nil {
				return err
			}
			if journal == nil {
				return fmt.Errorf("the journal is disabled (store.enabled=false or empty store.path)")
			}
			defer journal.Close()

			if runID != "" {
				if _, err := journal.GetRun(ctx, runID); err != nil {
					return err
				}
				events, err := journal.ListEvents(ctx, runID)
				if err != nil {
					return err
				}
				return output.Print(os.Stdout, f, output.EventTable(events))
			}

			if !allProjects {
				topo, err := a.loadProject(ctx)
				if err != nil {
					return err
				}
				filter.Project = topo.Name
			}
			runs, err := journal.ListRuns(ctx, filter)
			if err != nil {
				return err
			}
			return output.Print(os.Stdout, f, output.RunTable(runs))
		},
	}
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 20, "Number of runs to show")
	cmd.Flags().StringVar(&runID, "run", "", "Show the instance operations of one run")
	cmd.Flags().BoolVarP(&allProjects, "all-projects", "a", false, "Show runs of every project")
	addFormatFlag(cmd, &format)
	return cmd
}

func newVersionCmd(a *app) *cobra.Command {
	var short bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show client and engine versions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if short {
				fmt.Fprintln(os.Stdout, Version)
				return nil
			}
			fmt.Fprintf(os.Stdout, "stackctl %s (commit %s, built %s) %s/%s\n",
				Version, Commit, BuildTime, runtime.GOOS, runtime.GOARCH)

			ctx := cmd.Context()
			client, err := docker.NewDockerClient(ctx, a.cfg.Docker.Host)
			if err != nil {
				return err
			}
			defer client.Close()

			info, err := client.Version(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Engine %s (API %s, minimum %s) %s/%s\n",
				info.Version, info.APIVersion, info.MinAPIVersion, info.OS, info.Arch)
			return nil
		},
	}
	cmd.Flags().BoolVar(&short, "short", false, "Show only the stackctl version")
	return cmd
}
