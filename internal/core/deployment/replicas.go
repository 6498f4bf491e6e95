package deployment

import (
	"errors"
	"fmt"
	"sort"

	"github.com/artpar/stackctl/internal/core/compose"
)

// =============================================================================
// Replica Expansion
// =============================================================================

var (
	ErrInvalidReplicas = errors.New("invalid replica count")
	ErrUnknownService  = errors.New("no such service")
)

// Instance identifies one replica of a service.
type Instance struct {
	Service string
	Index   int // 1-based
	Name    string
}

// ReplicaCount returns how many instances a service runs.
// Precedence: override > deploy.replicas > scale > 1. A fixed container name
// always yields a single instance. Zero or negative counts are rejected.
func ReplicaCount(svc compose.Service, override map[string]int) (int, error) {
	count := 1
	source := "default"
	if n, ok := override[svc.Name]; ok {
		count, source = n, "override"
	} else if svc.Replicas != nil {
		count, source = *svc.Replicas, "deploy.replicas"
	} else if svc.Scale != nil {
		count, source = *svc.Scale, "scale"
	}

	if count < 1 {
		return 0, fmt.Errorf("%w: service %q has %s %d", ErrInvalidReplicas, svc.Name, source, count)
	}
	if svc.ContainerName != "" {
		return 1, nil
	}
	return count, nil
}

// Instances returns the instance identities of a service, indices 1..count.
func Instances(project string, svc compose.Service, override map[string]int) ([]Instance, error) {
	count, err := ReplicaCount(svc, override)
	if err != nil {
		return nil, err
	}
	instances := make([]Instance, 0, count)
	for i := 1; i <= count; i++ {
		instances = append(instances, Instance{
			Service: svc.Name,
			Index:   i,
			Name:    InstanceName(project, svc.Name, svc.ContainerName, i),
		})
	}
	return instances, nil
}

// Expand returns the instance sets of the named services. Every count is
// validated before anything is returned.
func Expand(topo *compose.Topology, services []string, override map[string]int) (map[string][]Instance, error) {
	sets := make(map[string][]Instance, len(services))
	for _, name := range services {
		svc, ok := topo.Service(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownService, name)
		}
		instances, err := Instances(topo.Name, svc, override)
		if err != nil {
			return nil, err
		}
		sets[name] = instances
	}
	return sets, nil
}

// ValidateServices checks that every requested name is a declared service.
func ValidateServices(topo *compose.Topology, requested []string) error {
	var unknown []string
	for _, name := range requested {
		if _, ok := topo.Service(name); !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%w: %v", ErrUnknownService, unknown)
	}
	return nil
}
