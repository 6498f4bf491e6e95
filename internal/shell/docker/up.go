package docker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/artpar/stackctl/internal/core/compose"
	"github.com/artpar/stackctl/internal/core/deployment"
	"github.com/artpar/stackctl/internal/core/lifecycle"
)

// =============================================================================
// Create / Start / Up
// =============================================================================

// PullPolicy controls when images are pulled before create.
type PullPolicy string

const (
	PullMissing PullPolicy = "missing"
	PullAlways  PullPolicy = "always"
	PullNever   PullPolicy = "never"
)

// UpOptions configures Create and Up.
type UpOptions struct {
	Services      []string
	ForceRecreate bool
	NoRecreate    bool
	NoStart       bool // Up only: create without starting
	RemoveOrphans bool
	Scale         map[string]int // per-service replica overrides
	Pull          PullPolicy
	Timeout       *time.Duration // stop timeout for any teardown
}

func (opts UpOptions) validate() error {
	if opts.ForceRecreate && opts.NoRecreate {
		return fmt.Errorf("%w: --force-recreate and --no-recreate", ErrConflictingFlags)
	}
	switch opts.Pull {
	case "", PullMissing, PullAlways, PullNever:
		return nil
	default:
		return fmt.Errorf("%w: unknown pull policy %q", ErrConflictingFlags, opts.Pull)
	}
}

// Up creates then starts the requested services and their dependencies.
func (o *Orchestrator) Up(ctx context.Context, topo *compose.Topology, opts UpOptions) error {
	if err := o.Create(ctx, topo, opts); err != nil {
		return err
	}
	if opts.NoStart {
		return nil
	}
	return o.start(ctx, topo, opts.Services, opts.Scale)
}

// Create realizes the project's resources and containers without starting
// them. Existing containers are kept unless the topology fingerprint changed
// (or ForceRecreate is set), in which case the project is torn down first.
func (o *Orchestrator) Create(ctx context.Context, topo *compose.Topology, opts UpOptions) error {
	// 1. Validate everything before touching the engine
	if err := opts.validate(); err != nil {
		return err
	}
	if err := deployment.ValidateServices(topo, opts.Services); err != nil {
		return err
	}

	policy := lifecycle.PolicyFor(lifecycle.VerbCreate)
	g, err := orderedGraph(topo, policy, opts.Services)
	if err != nil {
		return err
	}
	services := g.Nodes()

	instances, err := deployment.Expand(topo, services, opts.Scale)
	if err != nil {
		return err
	}

	hash, err := topo.Fingerprint()
	if err != nil {
		return fmt.Errorf("failed to fingerprint project: %w", err)
	}

	o.logger.Info("creating project",
		"project", topo.Name,
		"services", len(services),
		"config_hash", shortHash(hash),
	)

	// 2. Recreate when the configuration drifted
	existing, err := o.ExistingFingerprint(ctx, topo.Name)
	if err != nil {
		return err
	}
	if existing != nil && deployment.ShouldRecreate(existing, hash, opts.ForceRecreate, opts.NoRecreate) {
		o.logger.Info("recreating project",
			"project", topo.Name,
			"previous_hash", shortHash(*existing),
			"forced", opts.ForceRecreate,
		)
		if err := o.Down(ctx, topo, DownOptions{Timeout: opts.Timeout, RemoveOrphans: true}); err != nil {
			return fmt.Errorf("failed to tear down project for recreate: %w", err)
		}
	} else if opts.RemoveOrphans {
		if err := o.removeOrphans(ctx, topo, opts.Timeout); err != nil {
			return err
		}
	}

	// 3. Drop replicas beyond the wanted count
	if err := o.removeSurplus(ctx, topo, instances, opts.Timeout); err != nil {
		return err
	}

	// 4. Networks, volumes and secrets
	if err := o.ensureResources(ctx, topo, services); err != nil {
		return err
	}

	// 5. Images
	if err := o.ensureImages(ctx, topo, services, opts.Pull); err != nil {
		return err
	}

	// 6. Containers, dependencies first
	policy.Satisfied = func(ctx context.Context, inst deployment.Instance) (bool, error) {
		return o.Exists(ctx, KindContainer, inst.Name)
	}
	policy.Apply = func(ctx context.Context, inst deployment.Instance, requires []string) error {
		return o.createInstance(ctx, topo, inst, hash, requires)
	}
	return o.executor.Run(ctx, policy, lifecycle.Plan{Graph: g, Instances: instances})
}

// createInstance creates the container of one instance.
func (o *Orchestrator) createInstance(ctx context.Context, topo *compose.Topology, inst deployment.Instance, hash string, requires []string) error {
	svc, ok := topo.Service(inst.Service)
	if !ok {
		return fmt.Errorf("%w: %s", deployment.ErrUnknownService, inst.Service)
	}

	plan := deployment.BuildContainerPlan(deployment.BuildContainerPlanParams{
		Topology:   topo,
		Service:    svc,
		Instance:   inst,
		Labels:     o.labels,
		ConfigHash: hash,
		Version:    o.version,
		Requires:   requires,
	})

	id, err := o.docker.CreateContainer(ctx, specFromPlan(plan))
	if err != nil {
		return err
	}
	o.logger.Debug("created container",
		"container", inst.Name,
		"container_id", shortHash(id),
		"requires", requires,
	)
	return nil
}

// Start starts the requested services and their dependencies. Containers
// must already exist.
func (o *Orchestrator) Start(ctx context.Context, topo *compose.Topology, services []string) error {
	return o.start(ctx, topo, services, nil)
}

func (o *Orchestrator) start(ctx context.Context, topo *compose.Topology, services []string, scale map[string]int) error {
	if err := deployment.ValidateServices(topo, services); err != nil {
		return err
	}

	policy := lifecycle.PolicyFor(lifecycle.VerbStart)
	g, err := orderedGraph(topo, policy, services)
	if err != nil {
		return err
	}
	instances, err := deployment.Expand(topo, g.Nodes(), scale)
	if err != nil {
		return err
	}

	policy.Satisfied = func(ctx context.Context, inst deployment.Instance) (bool, error) {
		info, err := o.docker.InspectContainer(ctx, inst.Name)
		if err != nil {
			if errors.Is(err, ErrContainerNotFound) {
				return false, fmt.Errorf("%w: %s has not been created", ErrContainerNotFound, inst.Name)
			}
			return false, err
		}
		return info.Status == ContainerStatusRunning, nil
	}
	policy.Apply = func(ctx context.Context, inst deployment.Instance, _ []string) error {
		return o.docker.StartContainer(ctx, inst.Name)
	}
	return o.executor.Run(ctx, policy, lifecycle.Plan{Graph: g, Instances: instances})
}

// =============================================================================
// Orphans and Surplus Replicas
// =============================================================================

// removeOrphans force-removes containers of services no longer declared.
func (o *Orchestrator) removeOrphans(ctx context.Context, topo *compose.Topology, timeout *time.Duration) error {
	inv, err := o.discover(ctx, topo, nil)
	if err != nil {
		return err
	}
	if len(inv.orphans) == 0 {
		return nil
	}
	o.logger.Info("removing orphan containers", "project", topo.Name, "count", len(inv.orphans))
	return o.executor.Run(ctx, o.forceRemovePolicy(timeout, false), lifecycle.Plan{Orphans: inv.orphans})
}

// removeSurplus removes replicas whose index is beyond the wanted count.
func (o *Orchestrator) removeSurplus(ctx context.Context, topo *compose.Topology, wanted map[string][]deployment.Instance, timeout *time.Duration) error {
	keepNames := make(map[string]bool)
	for _, insts := range wanted {
		for _, inst := range insts {
			keepNames[inst.Name] = true
		}
	}

	inv, err := o.discover(ctx, topo, func(c ContainerInfo) bool {
		return c.Labels[o.labels.OneOff()] != "true"
	})
	if err != nil {
		return err
	}

	var surplus []deployment.Instance
	for service, insts := range inv.byService {
		if _, ok := wanted[service]; !ok {
			continue
		}
		for _, inst := range insts {
			if !keepNames[inst.Name] {
				surplus = append(surplus, inst)
			}
		}
	}
	if len(surplus) == 0 {
		return nil
	}
	sortInstances(surplus)
	o.logger.Info("removing surplus replicas", "project", topo.Name, "count", len(surplus))
	return o.executor.Run(ctx, o.forceRemovePolicy(timeout, false), lifecycle.Plan{Orphans: surplus})
}

// =============================================================================
// Resources
// =============================================================================

// ensureResources creates the networks and volumes the services use and
// checks their secrets. External resources must already exist.
func (o *Orchestrator) ensureResources(ctx context.Context, topo *compose.Topology, services []string) error {
	networks, volumes, secrets := usedResources(topo, services)
	labels := o.labels.ForResource(topo.Name, o.version)

	g, gctx := errgroup.WithContext(ctx)

	for _, n := range networks {
		g.Go(func() error {
			return o.ensureNetwork(gctx, n, labels)
		})
	}
	for _, v := range volumes {
		g.Go(func() error {
			return o.ensureVolume(gctx, v, labels)
		})
	}
	for _, s := range secrets {
		g.Go(func() error {
			return checkSecret(s)
		})
	}

	return g.Wait()
}

// usedResources returns the declared networks, volumes and secrets referenced
// by services, sorted by name.
func usedResources(topo *compose.Topology, services []string) ([]compose.Network, []compose.Volume, []compose.Secret) {
	netNames := make(map[string]bool)
	volNames := make(map[string]bool)
	secretKeys := make(map[string]bool)

	for _, name := range services {
		svc, ok := topo.Service(name)
		if !ok {
			continue
		}
		for _, n := range svc.Networks {
			netNames[n] = true
		}
		for _, m := range svc.Volumes {
			if m.Type == compose.VolumeMountTypeVolume && m.Source != "" {
				volNames[m.Source] = true
			}
		}
		for _, s := range svc.Secrets {
			secretKeys[s.Source] = true
		}
	}

	var networks []compose.Network
	for _, n := range topo.Networks {
		if netNames[n.Name] {
			networks = append(networks, n)
		}
	}
	var volumes []compose.Volume
	for _, v := range topo.Volumes {
		if volNames[v.Name] {
			volumes = append(volumes, v)
		}
	}
	var secrets []compose.Secret
	for _, s := range topo.Secrets {
		if secretKeys[s.Key] {
			secrets = append(secrets, s)
		}
	}

	sort.Slice(networks, func(i, j int) bool { return networks[i].Name < networks[j].Name })
	sort.Slice(volumes, func(i, j int) bool { return volumes[i].Name < volumes[j].Name })
	sort.Slice(secrets, func(i, j int) bool { return secrets[i].Key < secrets[j].Key })
	return networks, volumes, secrets
}

func (o *Orchestrator) ensureNetwork(ctx context.Context, n compose.Network, projectLabels map[string]string) error {
	exists, err := o.Exists(ctx, KindNetwork, n.Name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if n.External {
		return ExternalNotFoundError("network", n.Name)
	}

	id, err := o.docker.CreateNetwork(ctx, NetworkSpec{
		Name:       n.Name,
		Driver:     n.Driver,
		Internal:   n.Internal,
		Attachable: n.Attachable,
		Labels:     mergeLabels(n.Labels, projectLabels),
	})
	if err != nil {
		return fmt.Errorf("failed to create network %s: %w", n.Name, err)
	}
	o.logger.Debug("created network", "network", n.Name, "network_id", shortHash(id))
	return nil
}

func (o *Orchestrator) ensureVolume(ctx context.Context, v compose.Volume, projectLabels map[string]string) error {
	exists, err := o.Exists(ctx, KindVolume, v.Name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if v.External {
		return ExternalNotFoundError("volume", v.Name)
	}

	if _, err := o.docker.CreateVolume(ctx, VolumeSpec{
		Name:   v.Name,
		Driver: v.Driver,
		Labels: mergeLabels(v.Labels, projectLabels),
	}); err != nil {
		return fmt.Errorf("failed to create volume %s: %w", v.Name, err)
	}
	o.logger.Debug("created volume", "volume", v.Name)
	return nil
}

// checkSecret verifies a secret can be mounted. Only file-backed secrets are
// mounted; there is no secret store to resolve external ones from.
func checkSecret(s compose.Secret) error {
	switch {
	case s.External:
		return ExternalNotFoundError("secret", s.Name)
	case s.File != "":
		if _, err := os.Stat(s.File); err != nil {
			return fmt.Errorf("secret %s: %w", s.Key, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: secret %s has no file", ErrUnsupportedSecret, s.Key)
	}
}

// mergeLabels returns declared labels overlaid with the project labels.
func mergeLabels(declared, project map[string]string) map[string]string {
	out := make(map[string]string, len(declared)+len(project))
	for k, v := range declared {
		out[k] = v
	}
	for k, v := range project {
		out[k] = v
	}
	return out
}

// =============================================================================
// Images
// =============================================================================

// ensureImages pulls the images of services according to policy.
func (o *Orchestrator) ensureImages(ctx context.Context, topo *compose.Topology, services []string, policy PullPolicy) error {
	if policy == "" {
		policy = PullMissing
	}

	seen := make(map[string]bool)
	var images []string
	for _, name := range services {
		svc, ok := topo.Service(name)
		if !ok {
			continue
		}
		image := deployment.ImageName(topo.Name, svc)
		if svc.Image == "" {
			exists, err := o.docker.ImageExists(ctx, image)
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("%w: %s (tag %s)", ErrBuildUnsupported, svc.Name, image)
			}
			continue
		}
		if !seen[image] {
			seen[image] = true
			images = append(images, image)
		}
	}
	if policy == PullNever {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, image := range images {
		g.Go(func() error {
			if policy == PullMissing {
				exists, err := o.docker.ImageExists(gctx, image)
				if err != nil {
					return err
				}
				if exists {
					return nil
				}
			}
			o.logger.Info("pulling image", "image", image)
			return o.docker.PullImage(gctx, image, PullOptions{})
		})
	}
	return g.Wait()
}

func shortHash(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
