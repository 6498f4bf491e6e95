package compose

import "time"

// =============================================================================
// Topology - Main Output Type
// =============================================================================

// Topology is a resolved compose project: services plus the named resources
// they reference. It is decoupled from compose-go types and treated as an
// immutable snapshot for the duration of one command.
type Topology struct {
	Name     string    `json:"name"`
	Services []Service `json:"services"`
	Networks []Network `json:"networks,omitempty"`
	Volumes  []Volume  `json:"volumes,omitempty"`
	Secrets  []Secret  `json:"secrets,omitempty"`
}

// Service returns the named service and whether it was found.
func (t *Topology) Service(name string) (Service, bool) {
	for _, svc := range t.Services {
		if svc.Name == name {
			return svc, true
		}
	}
	return Service{}, false
}

// ServiceNames returns service names in declaration order (sorted by name).
func (t *Topology) ServiceNames() []string {
	names := make([]string, 0, len(t.Services))
	for _, svc := range t.Services {
		names = append(names, svc.Name)
	}
	return names
}

// Network returns the network declared under the given key.
func (t *Topology) Network(key string) (Network, bool) {
	for _, n := range t.Networks {
		if n.Key == key {
			return n, true
		}
	}
	return Network{}, false
}

// Volume returns the volume declared under the given key.
func (t *Topology) Volume(key string) (Volume, bool) {
	for _, v := range t.Volumes {
		if v.Key == key {
			return v, true
		}
	}
	return Volume{}, false
}

// Secret returns the secret declared under the given key.
func (t *Topology) Secret(key string) (Secret, bool) {
	for _, s := range t.Secrets {
		if s.Key == key {
			return s, true
		}
	}
	return Secret{}, false
}

// =============================================================================
// Service Types
// =============================================================================

// Service represents a single service definition.
type Service struct {
	Name            string            `json:"name"`
	Image           string            `json:"image,omitempty"`
	Build           *BuildConfig      `json:"build,omitempty"`
	ContainerName   string            `json:"container_name,omitempty"`
	Command         []string          `json:"command,omitempty"`
	Entrypoint      []string          `json:"entrypoint,omitempty"`
	Ports           []Port            `json:"ports,omitempty"`
	Environment     map[string]string `json:"environment,omitempty"`
	Volumes         []VolumeMount     `json:"volumes,omitempty"`
	Networks        []string          `json:"networks,omitempty"`
	NetworkMode     string            `json:"network_mode,omitempty"`
	DependsOn       []string          `json:"depends_on,omitempty"`
	Links           []string          `json:"links,omitempty"`
	Secrets         []SecretMount     `json:"secrets,omitempty"`
	Restart         RestartPolicy     `json:"restart,omitempty"`
	Resources       ServiceResources  `json:"resources"`
	HealthCheck     *HealthCheck      `json:"healthcheck,omitempty"`
	Labels          map[string]string `json:"labels,omitempty"`
	User            string            `json:"user,omitempty"`
	WorkingDir      string            `json:"working_dir,omitempty"`
	StopGracePeriod time.Duration     `json:"stop_grace_period,omitempty"`
	Replicas        *int              `json:"replicas,omitempty"` // deploy.replicas
	Scale           *int              `json:"scale,omitempty"`
}

// Dependencies returns the union of depends_on and link targets, deduplicated.
func (s Service) Dependencies(withLinks bool) []string {
	seen := make(map[string]bool, len(s.DependsOn)+len(s.Links))
	var deps []string
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		deps = append(deps, name)
	}
	for _, d := range s.DependsOn {
		add(d)
	}
	if withLinks {
		for _, l := range s.Links {
			add(LinkTarget(l))
		}
	}
	return deps
}

// LinkTarget returns the service part of a "service[:alias]" link.
func LinkTarget(link string) string {
	for i := 0; i < len(link); i++ {
		if link[i] == ':' {
			return link[:i]
		}
	}
	return link
}

// BuildConfig represents build configuration (optional).
type BuildConfig struct {
	Context    string `json:"context"`
	Dockerfile string `json:"dockerfile,omitempty"`
}

// Port represents a port mapping.
type Port struct {
	Target    uint32 `json:"target"`              // Container port
	Published uint32 `json:"published,omitempty"` // Host port (0 = dynamic)
	Protocol  string `json:"protocol,omitempty"`  // tcp, udp
	HostIP    string `json:"host_ip,omitempty"`   // Bind IP
}

// VolumeMount represents a volume mount in a service.
type VolumeMount struct {
	Type     VolumeMountType `json:"type"`   // bind, volume, tmpfs
	Source   string          `json:"source"` // Path or resolved volume name
	Target   string          `json:"target"` // Container path
	ReadOnly bool            `json:"readonly"`
}

// VolumeMountType represents the type of volume mount.
type VolumeMountType string

const (
	VolumeMountTypeBind   VolumeMountType = "bind"
	VolumeMountTypeVolume VolumeMountType = "volume"
	VolumeMountTypeTmpfs  VolumeMountType = "tmpfs"
)

// SecretMount references a top-level secret from a service.
type SecretMount struct {
	Source string `json:"source"`
	Target string `json:"target,omitempty"`
}

// ServiceResources represents resource limits/reservations for a service.
type ServiceResources struct {
	CPULimit          float64 `json:"cpu_limit"`
	CPUReservation    float64 `json:"cpu_reservation"`
	MemoryLimit       int64   `json:"memory_limit"`       // Bytes
	MemoryReservation int64   `json:"memory_reservation"` // Bytes
}

// RestartPolicy represents the restart policy.
type RestartPolicy string

const (
	RestartNo            RestartPolicy = "no"
	RestartAlways        RestartPolicy = "always"
	RestartOnFailure     RestartPolicy = "on-failure"
	RestartUnlessStopped RestartPolicy = "unless-stopped"
)

// HealthCheck represents health check configuration.
type HealthCheck struct {
	Test        []string      `json:"test"`
	Interval    time.Duration `json:"interval,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
	Retries     int           `json:"retries,omitempty"`
	StartPeriod time.Duration `json:"start_period,omitempty"`
}

// =============================================================================
// Named Resources
// =============================================================================

// Network represents a network definition. Key is the name used inside the
// compose file, Name is the resolved engine-side name.
type Network struct {
	Key        string            `json:"key"`
	Name       string            `json:"name"`
	Driver     string            `json:"driver,omitempty"`
	External   bool              `json:"external"`
	Internal   bool              `json:"internal"`
	Attachable bool              `json:"attachable"`
	Labels     map[string]string `json:"labels,omitempty"`
}

// Volume represents a named volume definition.
type Volume struct {
	Key      string            `json:"key"`
	Name     string            `json:"name"`
	Driver   string            `json:"driver,omitempty"`
	External bool              `json:"external"`
	Labels   map[string]string `json:"labels,omitempty"`
}

// Secret represents a top-level secret definition.
type Secret struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	File        string `json:"file,omitempty"`
	Environment string `json:"environment,omitempty"`
	External    bool   `json:"external"`
}
