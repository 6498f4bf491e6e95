package docker

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"

	"github.com/artpar/stackctl/internal/core/compose"
	"github.com/artpar/stackctl/internal/core/deployment"
	"github.com/artpar/stackctl/internal/core/graph"
)

// =============================================================================
// One-off Containers
// =============================================================================

// RunOptions configures Run.
type RunOptions struct {
	Service string
	Command []string          // nil keeps the service command
	Env     map[string]string // merged over the service environment
	Name    string            // default {project}_{service}_run_{id}
	Detach  bool
	Remove  bool // remove the container after it exits
	NoDeps  bool // do not bring up dependencies
	Pull    PullPolicy
	Stdout  io.Writer
	Stderr  io.Writer
}

// RunResult describes a finished or detached one-off container.
type RunResult struct {
	Name     string
	ID       string
	ExitCode int
}

// Run creates and starts a one-off container for a service. Dependencies are
// brought up first unless NoDeps is set. In the foreground the container's
// output is streamed to Stdout/Stderr and Run waits for it to exit.
func (o *Orchestrator) Run(ctx context.Context, topo *compose.Topology, opts RunOptions) (*RunResult, error) {
	svc, ok := topo.Service(opts.Service)
	if !ok {
		return nil, fmt.Errorf("%w: %s", deployment.ErrUnknownService, opts.Service)
	}

	// 1. Dependencies
	deps, err := runDependencies(topo, opts.Service)
	if err != nil {
		return nil, err
	}
	if len(deps) > 0 && !opts.NoDeps {
		o.logger.Info("starting dependencies", "service", opts.Service, "dependencies", deps)
		if err := o.Up(ctx, topo, UpOptions{Services: deps, NoRecreate: true, Pull: opts.Pull}); err != nil {
			return nil, fmt.Errorf("failed to start dependencies: %w", err)
		}
	}

	// 2. Resources and image for the service itself
	if err := o.ensureResources(ctx, topo, []string{opts.Service}); err != nil {
		return nil, err
	}
	if err := o.ensureImages(ctx, topo, []string{opts.Service}, opts.Pull); err != nil {
		return nil, err
	}

	// 3. Create and start the one-off container
	name := opts.Name
	if name == "" {
		id := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		name = deployment.RunContainerName(topo.Name, opts.Service, id)
	}

	hash, err := topo.Fingerprint()
	if err != nil {
		return nil, fmt.Errorf("failed to fingerprint project: %w", err)
	}

	plan := deployment.BuildContainerPlan(deployment.BuildContainerPlanParams{
		Topology:   topo,
		Service:    svc,
		Instance:   deployment.Instance{Service: opts.Service, Index: 1, Name: name},
		Labels:     o.labels,
		ConfigHash: hash,
		Version:    o.version,
		OneOff:     true,
		Command:    opts.Command,
		Env:        opts.Env,
	})

	id, err := o.docker.CreateContainer(ctx, specFromPlan(plan))
	if err != nil {
		return nil, err
	}
	result := &RunResult{Name: name, ID: id}

	if err := o.docker.StartContainer(ctx, name); err != nil {
		o.cleanupRun(name, opts.Remove)
		return nil, err
	}
	o.logger.Info("started one-off container", "container", name, "service", opts.Service)

	if opts.Detach {
		return result, nil
	}
	defer o.cleanupRun(name, opts.Remove)

	// 4. Stream output until the container exits
	if err := o.streamRun(ctx, name, opts); err != nil {
		return nil, err
	}
	code, err := o.docker.WaitContainer(ctx, name)
	if err != nil {
		return nil, err
	}
	result.ExitCode = int(code)
	return result, nil
}

// runDependencies returns every service the named service transitively
// depends on, excluding itself.
func runDependencies(topo *compose.Topology, service string) ([]string, error) {
	full := graph.Build(topo, graph.EdgeSource{Direction: graph.DependencyFirst, Links: true})
	if err := full.Validate(); err != nil {
		return nil, err
	}
	var deps []string
	for _, name := range full.Restrict([]string{service}).Nodes() {
		if name != service {
			deps = append(deps, name)
		}
	}
	return deps, nil
}

func (o *Orchestrator) streamRun(ctx context.Context, name string, opts RunOptions) error {
	stdout, stderr := opts.Stdout, opts.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = stdout
	}

	logs, err := o.docker.ContainerLogs(ctx, name, LogOptions{Follow: true})
	if err != nil {
		return err
	}
	defer logs.Close()

	if _, err := stdcopy.StdCopy(stdout, stderr, logs); err != nil && ctx.Err() == nil {
		return fmt.Errorf("failed to stream output of %s: %w", name, err)
	}
	return nil
}

// cleanupRun removes a one-off container when remove is set. Errors are
// logged only.
func (o *Orchestrator) cleanupRun(name string, remove bool) {
	if !remove {
		return
	}
	if err := o.docker.RemoveContainer(context.Background(), name, RemoveOptions{Force: true}); err != nil {
		o.logger.Warn("failed to remove one-off container", "container", name, "error", err)
	}
}
