package docker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/artpar/stackctl/internal/core/compose"
	"github.com/artpar/stackctl/internal/core/deployment"
	"github.com/artpar/stackctl/internal/core/graph"
	"github.com/artpar/stackctl/internal/core/lifecycle"
)

// =============================================================================
// Orchestrator - Drives Project Lifecycle
// =============================================================================

// Options configures an Orchestrator.
type Options struct {
	Labels   deployment.Labels
	Version  string             // recorded on every created resource
	Reporter lifecycle.Reporter // receives one event per instance operation
}

// Orchestrator applies lifecycle verbs to a compose project using Docker.
type Orchestrator struct {
	docker   Client
	logger   *slog.Logger
	labels   deployment.Labels
	version  string
	executor *lifecycle.Executor
}

// NewOrchestrator creates a new orchestrator.
func NewOrchestrator(docker Client, logger *slog.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	labels := opts.Labels
	if labels.Prefix == "" {
		labels = deployment.NewLabels("")
	}
	return &Orchestrator{
		docker:   docker,
		logger:   logger,
		labels:   labels,
		version:  opts.Version,
		executor: lifecycle.NewExecutor(opts.Reporter, logger),
	}
}

// Labels returns the label scheme the orchestrator writes and filters by.
func (o *Orchestrator) Labels() deployment.Labels {
	return o.labels
}

// =============================================================================
// Existence Checks
// =============================================================================

// ResourceKind names a kind of engine object.
type ResourceKind string

const (
	KindContainer ResourceKind = "container"
	KindNetwork   ResourceKind = "network"
	KindVolume    ResourceKind = "volume"
	KindImage     ResourceKind = "image"
)

// Exists reports whether an engine object of the given kind is present.
func (o *Orchestrator) Exists(ctx context.Context, kind ResourceKind, name string) (bool, error) {
	var err error
	switch kind {
	case KindContainer:
		_, err = o.docker.InspectContainer(ctx, name)
	case KindNetwork:
		_, err = o.docker.InspectNetwork(ctx, name)
	case KindVolume:
		_, err = o.docker.InspectVolume(ctx, name)
	case KindImage:
		return o.docker.ImageExists(ctx, name)
	default:
		return false, fmt.Errorf("unknown resource kind %q", kind)
	}
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ExistingFingerprint returns the config hash recorded on the project's
// service containers, or nil when the project has none.
func (o *Orchestrator) ExistingFingerprint(ctx context.Context, project string) (*string, error) {
	containers, err := o.projectContainers(ctx, project)
	if err != nil {
		return nil, err
	}
	for _, c := range containers {
		if c.Labels[o.labels.OneOff()] == "true" {
			continue
		}
		if hash, ok := c.Labels[o.labels.ConfigHash()]; ok {
			return &hash, nil
		}
	}
	return nil, nil
}

// =============================================================================
// Discovery
// =============================================================================

// projectContainers lists every container labelled with project, running or
// not.
func (o *Orchestrator) projectContainers(ctx context.Context, project string) ([]ContainerInfo, error) {
	return o.docker.ListContainers(ctx, ListOptions{
		All:    true,
		Labels: []string{o.labels.ProjectFilter(project)},
	})
}

// inventory is the set of realized instances of a project.
type inventory struct {
	byService map[string][]deployment.Instance
	orphans   []deployment.Instance
	status    map[string]ContainerStatus // instance name → status at discovery
}

// discover lists the project's containers and groups them by service.
// Containers whose service is not in the topology are orphans. keep, when
// set, filters containers before grouping.
func (o *Orchestrator) discover(ctx context.Context, topo *compose.Topology, keep func(ContainerInfo) bool) (*inventory, error) {
	containers, err := o.projectContainers(ctx, topo.Name)
	if err != nil {
		return nil, err
	}

	inv := &inventory{
		byService: make(map[string][]deployment.Instance),
		status:    make(map[string]ContainerStatus),
	}
	for _, c := range containers {
		if keep != nil && !keep(c) {
			continue
		}
		inst := o.instanceOf(c)
		inv.status[inst.Name] = c.Status
		if _, ok := topo.Service(inst.Service); ok {
			inv.byService[inst.Service] = append(inv.byService[inst.Service], inst)
		} else {
			inv.orphans = append(inv.orphans, inst)
		}
	}

	for _, insts := range inv.byService {
		sortInstances(insts)
	}
	sortInstances(inv.orphans)
	return inv, nil
}

// instanceOf reads an instance identity back from container labels.
func (o *Orchestrator) instanceOf(c ContainerInfo) deployment.Instance {
	index, _ := strconv.Atoi(c.Labels[o.labels.ContainerNumber()])
	return deployment.Instance{
		Service: c.Labels[o.labels.Service()],
		Index:   index,
		Name:    c.Name,
	}
}

func sortInstances(insts []deployment.Instance) {
	sort.Slice(insts, func(i, j int) bool {
		if insts[i].Service != insts[j].Service {
			return insts[i].Service < insts[j].Service
		}
		if insts[i].Index != insts[j].Index {
			return insts[i].Index < insts[j].Index
		}
		return insts[i].Name < insts[j].Name
	})
}

// =============================================================================
// Plans
// =============================================================================

// orderedGraph builds the policy's dependency graph, rejects cycles anywhere
// in the topology, then restricts it to the requested services.
func orderedGraph(topo *compose.Topology, policy lifecycle.Policy, services []string) (*graph.Graph, error) {
	full := graph.Build(topo, policy.EdgeSource())
	if err := full.Validate(); err != nil {
		return nil, err
	}
	return full.Restrict(services), nil
}

// realizedPlan builds a plan over the containers that already exist.
// Ordered policies act on the restricted graph; unordered ones on the
// requested services, or every service when none are named.
func (o *Orchestrator) realizedPlan(
	ctx context.Context,
	topo *compose.Topology,
	policy lifecycle.Policy,
	services []string,
	withOrphans bool,
	keep func(ContainerInfo) bool,
) (lifecycle.Plan, error) {
	if err := deployment.ValidateServices(topo, services); err != nil {
		return lifecycle.Plan{}, err
	}

	plan := lifecycle.Plan{Instances: make(map[string][]deployment.Instance)}
	selected := services
	if policy.Ordered {
		g, err := orderedGraph(topo, policy, services)
		if err != nil {
			return lifecycle.Plan{}, err
		}
		plan.Graph = g
		selected = g.Nodes()
	} else if len(selected) == 0 {
		selected = topo.ServiceNames()
	}

	inv, err := o.discover(ctx, topo, keep)
	if err != nil {
		return lifecycle.Plan{}, err
	}
	for _, name := range selected {
		if insts := inv.byService[name]; len(insts) > 0 {
			plan.Instances[name] = insts
		}
	}
	if withOrphans {
		plan.Orphans = inv.orphans
	}

	o.logger.Debug("discovered instances",
		"project", topo.Name,
		"verb", string(policy.Verb),
		"services", len(plan.Instances),
		"orphans", len(plan.Orphans),
	)
	return plan, nil
}

// statusCheck returns a check that inspects the container and reports it
// satisfied when done(status) holds. A container that no longer exists is
// satisfied.
func (o *Orchestrator) statusCheck(done func(ContainerStatus) bool) lifecycle.CheckFunc {
	return func(ctx context.Context, inst deployment.Instance) (bool, error) {
		info, err := o.docker.InspectContainer(ctx, inst.Name)
		if err != nil {
			if errors.Is(err, ErrContainerNotFound) {
				return true, nil
			}
			return false, err
		}
		return done(info.Status), nil
	}
}

// =============================================================================
// Container Specs
// =============================================================================

// specFromPlan converts a pure container plan into a client spec.
func specFromPlan(plan deployment.ContainerPlan) ContainerSpec {
	spec := ContainerSpec{
		Name:           plan.Name,
		Image:          plan.Image,
		Command:        plan.Command,
		Entrypoint:     plan.Entrypoint,
		Env:            plan.Env,
		Labels:         plan.Labels,
		Networks:       plan.Networks,
		NetworkAliases: plan.NetworkAliases,
		NetworkMode:    plan.NetworkMode,
		WorkingDir:     plan.WorkingDir,
		User:           plan.User,
		RestartPolicy: RestartPolicy{
			Name:              plan.RestartPolicy.Name,
			MaximumRetryCount: plan.RestartPolicy.MaximumRetryCount,
		},
		Resources: ResourceLimits{
			CPULimit:    plan.Resources.CPULimit,
			MemoryLimit: plan.Resources.MemoryLimit,
		},
		StopTimeout: plan.StopTimeout,
	}

	for _, p := range plan.Ports {
		spec.Ports = append(spec.Ports, PortBinding{
			ContainerPort: p.ContainerPort,
			HostPort:      p.HostPort,
			Protocol:      p.Protocol,
			HostIP:        p.HostIP,
		})
	}

	for _, v := range plan.Volumes {
		spec.Volumes = append(spec.Volumes, VolumeMount{
			Type:     MountType(v.Type),
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		})
	}

	if plan.HealthCheck != nil {
		spec.HealthCheck = &HealthCheck{
			Test:        plan.HealthCheck.Test,
			Interval:    plan.HealthCheck.Interval,
			Timeout:     plan.HealthCheck.Timeout,
			Retries:     plan.HealthCheck.Retries,
			StartPeriod: plan.HealthCheck.StartPeriod,
		}
	}

	return spec
}
