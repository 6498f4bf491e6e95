package docker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/artpar/stackctl/internal/core/compose"
	"github.com/artpar/stackctl/internal/core/deployment"
	"github.com/artpar/stackctl/internal/core/lifecycle"
)

// =============================================================================
// Stop / Restart / Pause / Unpause / Kill
// =============================================================================

// StopOptions configures Stop and Restart.
type StopOptions struct {
	Services      []string
	Timeout       *time.Duration // nil uses each container's stop timeout
	RemoveOrphans bool           // also stop containers of undeclared services
}

// Stop stops the requested services and everything that depends on them,
// dependents first.
func (o *Orchestrator) Stop(ctx context.Context, topo *compose.Topology, opts StopOptions) error {
	policy := lifecycle.PolicyFor(lifecycle.VerbStop)
	plan, err := o.realizedPlan(ctx, topo, policy, opts.Services, opts.RemoveOrphans, nil)
	if err != nil {
		return err
	}

	policy.Satisfied = o.statusCheck(func(s ContainerStatus) bool { return !s.IsActive() })
	policy.Apply = func(ctx context.Context, inst deployment.Instance, _ []string) error {
		return o.docker.StopContainer(ctx, inst.Name, opts.Timeout)
	}
	return o.executor.Run(ctx, policy, plan)
}

// Restart stops then starts the requested services.
func (o *Orchestrator) Restart(ctx context.Context, topo *compose.Topology, opts StopOptions) error {
	if err := o.Stop(ctx, topo, opts); err != nil {
		return err
	}
	return o.Start(ctx, topo, opts.Services)
}

// Pause freezes the requested services and their dependents, dependents
// first.
func (o *Orchestrator) Pause(ctx context.Context, topo *compose.Topology, services []string) error {
	policy := lifecycle.PolicyFor(lifecycle.VerbPause)
	plan, err := o.realizedPlan(ctx, topo, policy, services, false, nil)
	if err != nil {
		return err
	}

	policy.Satisfied = o.statusCheck(func(s ContainerStatus) bool { return s != ContainerStatusRunning })
	policy.Apply = func(ctx context.Context, inst deployment.Instance, _ []string) error {
		return o.docker.PauseContainer(ctx, inst.Name)
	}
	return o.executor.Run(ctx, policy, plan)
}

// Unpause resumes the requested services. There is no ordering.
func (o *Orchestrator) Unpause(ctx context.Context, topo *compose.Topology, services []string) error {
	policy := lifecycle.PolicyFor(lifecycle.VerbUnpause)
	plan, err := o.realizedPlan(ctx, topo, policy, services, false, nil)
	if err != nil {
		return err
	}

	policy.Satisfied = o.statusCheck(func(s ContainerStatus) bool { return s != ContainerStatusPaused })
	policy.Apply = func(ctx context.Context, inst deployment.Instance, _ []string) error {
		return o.docker.UnpauseContainer(ctx, inst.Name)
	}
	return o.executor.Run(ctx, policy, plan)
}

// KillOptions configures Kill.
type KillOptions struct {
	Services      []string
	Signal        string // default SIGKILL
	RemoveOrphans bool
}

// Kill signals the requested services. There is no ordering.
func (o *Orchestrator) Kill(ctx context.Context, topo *compose.Topology, opts KillOptions) error {
	signal := opts.Signal
	if signal == "" {
		signal = "SIGKILL"
	}

	policy := lifecycle.PolicyFor(lifecycle.VerbKill)
	plan, err := o.realizedPlan(ctx, topo, policy, opts.Services, opts.RemoveOrphans, nil)
	if err != nil {
		return err
	}

	policy.Satisfied = o.statusCheck(func(s ContainerStatus) bool { return !s.IsActive() })
	policy.Apply = func(ctx context.Context, inst deployment.Instance, _ []string) error {
		return o.docker.KillContainer(ctx, inst.Name, signal)
	}
	return o.executor.Run(ctx, policy, plan)
}

// =============================================================================
// Remove
// =============================================================================

// RmOptions configures Remove.
type RmOptions struct {
	Services      []string
	Stop          bool // stop running containers before removing
	Force         bool // remove running containers without stopping
	Volumes       bool // remove anonymous volumes
	Timeout       *time.Duration
	RemoveOrphans bool
}

// Remove deletes the containers of the requested services and their
// dependents, dependents first. Running containers are skipped unless Stop
// or Force is set.
func (o *Orchestrator) Remove(ctx context.Context, topo *compose.Topology, opts RmOptions) error {
	var keep func(ContainerInfo) bool
	if !opts.Stop && !opts.Force {
		keep = func(c ContainerInfo) bool {
			if c.Status.IsActive() {
				o.logger.Warn("skipping running container", "container", c.Name)
				return false
			}
			return true
		}
	}

	policy := lifecycle.PolicyFor(lifecycle.VerbRemove)
	plan, err := o.realizedPlan(ctx, topo, policy, opts.Services, opts.RemoveOrphans, keep)
	if err != nil {
		return err
	}

	policy.Satisfied = func(ctx context.Context, inst deployment.Instance) (bool, error) {
		exists, err := o.Exists(ctx, KindContainer, inst.Name)
		return !exists, err
	}
	policy.Apply = func(ctx context.Context, inst deployment.Instance, _ []string) error {
		if opts.Stop {
			if err := o.docker.StopContainer(ctx, inst.Name, opts.Timeout); err != nil && !errors.Is(err, ErrContainerNotFound) {
				return err
			}
		}
		err := o.docker.RemoveContainer(ctx, inst.Name, RemoveOptions{Force: opts.Force, RemoveVolumes: opts.Volumes})
		if errors.Is(err, ErrContainerNotFound) {
			return nil
		}
		return err
	}
	return o.executor.Run(ctx, policy, plan)
}

// forceRemovePolicy removes containers unconditionally with no ordering,
// stopping them first within timeout.
func (o *Orchestrator) forceRemovePolicy(timeout *time.Duration, volumes bool) lifecycle.Policy {
	policy := lifecycle.PolicyFor(lifecycle.VerbDown)
	policy.Satisfied = func(ctx context.Context, inst deployment.Instance) (bool, error) {
		exists, err := o.Exists(ctx, KindContainer, inst.Name)
		return !exists, err
	}
	policy.Apply = func(ctx context.Context, inst deployment.Instance, _ []string) error {
		if err := o.docker.StopContainer(ctx, inst.Name, timeout); err != nil && !errors.Is(err, ErrContainerNotFound) {
			o.logger.Debug("stop before removal failed", "container", inst.Name, "error", err)
		}
		err := o.docker.RemoveContainer(ctx, inst.Name, RemoveOptions{Force: true, RemoveVolumes: volumes})
		if errors.Is(err, ErrContainerNotFound) {
			return nil
		}
		return err
	}
	return policy
}

// =============================================================================
// Down
// =============================================================================

// RMI values for DownOptions.
const (
	RemoveImagesAll   = "all"
	RemoveImagesLocal = "local"
)

// DownOptions configures Down.
type DownOptions struct {
	Services      []string
	Timeout       *time.Duration
	Volumes       bool   // remove named project volumes and anonymous volumes
	RemoveOrphans bool   // remove every project container, bypassing ordering
	RMI           string // "", "all" or "local"
}

// Down stops and removes the project's containers, then its networks, and
// optionally its volumes and images.
//
// Without services and with RemoveOrphans, every container carrying the
// project label is force-removed in parallel with no ordering. Otherwise the
// remove policy runs over the dependency graph. Naming services limits Down
// to their containers and leaves shared resources in place.
func (o *Orchestrator) Down(ctx context.Context, topo *compose.Topology, opts DownOptions) error {
	switch opts.RMI {
	case "", RemoveImagesAll, RemoveImagesLocal:
	default:
		return fmt.Errorf("%w: --rmi must be %q or %q", ErrConflictingFlags, RemoveImagesAll, RemoveImagesLocal)
	}

	o.logger.Info("tearing down project",
		"project", topo.Name,
		"services", opts.Services,
		"remove_orphans", opts.RemoveOrphans,
		"volumes", opts.Volumes,
	)

	var err error
	if len(opts.Services) == 0 && opts.RemoveOrphans {
		err = o.removeAll(ctx, topo, opts)
	} else {
		err = o.Remove(ctx, topo, RmOptions{
			Services: opts.Services,
			Stop:     true,
			Volumes:  opts.Volumes,
			Timeout:  opts.Timeout,
		})
	}
	if err != nil {
		return err
	}
	if len(opts.Services) > 0 {
		return nil
	}

	if err := o.removeNetworks(ctx, topo.Name); err != nil {
		return err
	}
	if opts.Volumes {
		if err := o.removeVolumes(ctx, topo.Name); err != nil {
			return err
		}
	}
	if opts.RMI != "" {
		if err := o.removeImages(ctx, topo, opts.RMI); err != nil {
			return err
		}
	}
	return nil
}

// removeAll force-removes every container labelled with the project.
func (o *Orchestrator) removeAll(ctx context.Context, topo *compose.Topology, opts DownOptions) error {
	containers, err := o.projectContainers(ctx, topo.Name)
	if err != nil {
		return err
	}

	plan := lifecycle.Plan{Instances: make(map[string][]deployment.Instance)}
	for _, c := range containers {
		inst := o.instanceOf(c)
		plan.Instances[inst.Service] = append(plan.Instances[inst.Service], inst)
	}
	return o.executor.Run(ctx, o.forceRemovePolicy(opts.Timeout, opts.Volumes), plan)
}

// removeNetworks removes the networks created for the project. Networks
// still in use are left with a warning.
func (o *Orchestrator) removeNetworks(ctx context.Context, project string) error {
	networks, err := o.docker.ListNetworks(ctx, ListOptions{Labels: []string{o.labels.ProjectFilter(project)}})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, n := range networks {
		g.Go(func() error {
			err := o.docker.RemoveNetwork(gctx, n.Name)
			switch {
			case err == nil:
				o.logger.Debug("removed network", "network", n.Name)
				return nil
			case errors.Is(err, ErrNetworkNotFound):
				return nil
			case errors.Is(err, ErrNetworkInUse):
				o.logger.Warn("network still in use", "network", n.Name)
				return nil
			default:
				return err
			}
		})
	}
	return g.Wait()
}

// removeVolumes removes the volumes created for the project.
func (o *Orchestrator) removeVolumes(ctx context.Context, project string) error {
	volumes, err := o.docker.ListVolumes(ctx, ListOptions{Labels: []string{o.labels.ProjectFilter(project)}})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, v := range volumes {
		g.Go(func() error {
			err := o.docker.RemoveVolume(gctx, v.Name, false)
			if err != nil && !errors.Is(err, ErrVolumeNotFound) {
				return err
			}
			o.logger.Debug("removed volume", "volume", v.Name)
			return nil
		})
	}
	return g.Wait()
}

// removeImages removes service images. "local" limits removal to images
// tagged for locally built services.
func (o *Orchestrator) removeImages(ctx context.Context, topo *compose.Topology, mode string) error {
	seen := make(map[string]bool)
	for _, svc := range topo.Services {
		if mode == RemoveImagesLocal && svc.Image != "" {
			continue
		}
		image := deployment.ImageName(topo.Name, svc)
		if image == "" || seen[image] {
			continue
		}
		seen[image] = true

		err := o.docker.RemoveImage(ctx, image, false)
		switch {
		case err == nil:
			o.logger.Debug("removed image", "image", image)
		case errors.Is(err, ErrImageNotFound):
		case errors.Is(err, ErrImageInUse):
			o.logger.Warn("image still in use", "image", image)
		default:
			return err
		}
	}
	return nil
}
