// Package docker drives a Docker-API-compatible engine: a thin Client over
// the Docker SDK and an Orchestrator that turns lifecycle verbs into engine
// calls.
package docker

import (
	"context"
	"io"
	"time"
)

// =============================================================================
// Container Types
// =============================================================================

// ContainerSpec defines the specification for creating a container.
type ContainerSpec struct {
	Name           string
	Image          string
	Command        []string
	Entrypoint     []string
	Env            map[string]string
	Labels         map[string]string
	Ports          []PortBinding
	Volumes        []VolumeMount
	Networks       []string
	NetworkAliases map[string][]string // network name → aliases (e.g., service name for DNS)
	NetworkMode    string
	WorkingDir     string
	User           string
	RestartPolicy  RestartPolicy
	Resources      ResourceLimits
	HealthCheck    *HealthCheck
	StopTimeout    *time.Duration
}

// PortBinding defines a port mapping.
type PortBinding struct {
	ContainerPort int
	HostPort      int    // 0 for auto-assign
	Protocol      string // "tcp" or "udp"
	HostIP        string // "" for 0.0.0.0
}

// MountType selects how a VolumeMount is attached.
type MountType string

const (
	MountTypeBind   MountType = "bind"
	MountTypeVolume MountType = "volume"
	MountTypeTmpfs  MountType = "tmpfs"
)

// VolumeMount defines a volume mount.
type VolumeMount struct {
	Type     MountType
	Source   string // Volume name or host path
	Target   string // Container path
	ReadOnly bool
}

// RestartPolicy defines the container restart policy.
type RestartPolicy struct {
	Name              string // "no", "always", "on-failure", "unless-stopped"
	MaximumRetryCount int
}

// ResourceLimits defines resource constraints.
type ResourceLimits struct {
	CPULimit    float64 // CPU cores
	MemoryLimit int64   // Bytes
}

// HealthCheck defines container health check configuration.
type HealthCheck struct {
	Test        []string
	Interval    time.Duration
	Timeout     time.Duration
	Retries     int
	StartPeriod time.Duration
}

// =============================================================================
// Container Info
// =============================================================================

// ContainerStatus represents the container status.
type ContainerStatus string

const (
	ContainerStatusCreated    ContainerStatus = "created"
	ContainerStatusRunning    ContainerStatus = "running"
	ContainerStatusPaused     ContainerStatus = "paused"
	ContainerStatusRestarting ContainerStatus = "restarting"
	ContainerStatusRemoving   ContainerStatus = "removing"
	ContainerStatusExited     ContainerStatus = "exited"
	ContainerStatusDead       ContainerStatus = "dead"
)

// IsActive reports whether the container has a live process.
func (s ContainerStatus) IsActive() bool {
	return s == ContainerStatusRunning || s == ContainerStatusPaused || s == ContainerStatusRestarting
}

// ContainerInfo contains information about a container.
type ContainerInfo struct {
	ID         string
	Name       string
	Image      string
	Command    string
	Status     ContainerStatus
	State      string // human readable, e.g. "Up 3 minutes"
	Health     string // "healthy", "unhealthy", "starting", ""
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	Ports      []PortBinding
	Labels     map[string]string
	ExitCode   int
}

// ExecConfig defines a command run inside a running container.
type ExecConfig struct {
	Command    []string
	Env        []string // KEY=VALUE
	User       string
	WorkingDir string
	Privileged bool
	Tty        bool
	Detach     bool
	Stdin      io.Reader // nil leaves stdin unattached
	Stdout     io.Writer
	Stderr     io.Writer
}

// PathInfo describes a path inside a container.
type PathInfo struct {
	Name  string
	Size  int64
	IsDir bool
}

// ProcessList is the output of a container top call.
type ProcessList struct {
	Titles    []string
	Processes [][]string
}

// =============================================================================
// Network / Volume / Image Types
// =============================================================================

// NetworkSpec defines the specification for creating a network.
type NetworkSpec struct {
	Name       string
	Driver     string // "bridge", "overlay", etc.
	Internal   bool
	Attachable bool
	Labels     map[string]string
}

// NetworkInfo describes an existing network.
type NetworkInfo struct {
	ID     string
	Name   string
	Driver string
	Labels map[string]string
}

// VolumeSpec defines the specification for creating a volume.
type VolumeSpec struct {
	Name   string
	Driver string
	Labels map[string]string
}

// VolumeInfo describes an existing volume.
type VolumeInfo struct {
	Name   string
	Driver string
	Labels map[string]string
}

// ImageInfo describes a local image.
type ImageInfo struct {
	ID      string
	Tags    []string
	Size    int64
	Created time.Time
}

// VersionInfo reports the engine version.
type VersionInfo struct {
	Version       string
	APIVersion    string
	MinAPIVersion string
	OS            string
	Arch          string
}

// EngineEvent is one entry of the engine event stream.
type EngineEvent struct {
	Time       time.Time
	Type       string // container, network, volume, image
	Action     string
	ID         string
	Attributes map[string]string
}

// =============================================================================
// Options
// =============================================================================

// RemoveOptions defines options for removing containers.
type RemoveOptions struct {
	Force         bool
	RemoveVolumes bool
}

// ListOptions defines options for listing engine objects.
type ListOptions struct {
	All     bool              // Include stopped containers
	Labels  []string          // "key=value" or "key" label filters, all must match
	Filters map[string]string // other filters, e.g. {"name": "shop_web_1"}
}

// LogOptions defines options for container logs.
type LogOptions struct {
	Follow     bool
	Tail       string // "all" or number
	Since      time.Time
	Until      time.Time
	Timestamps bool
}

// PullOptions defines options for pulling images.
type PullOptions struct {
	Platform string // e.g., "linux/amd64"
}

// =============================================================================
// Client Interface
// =============================================================================

// Client defines the Docker client interface.
type Client interface {
	// Container operations
	CreateContainer(ctx context.Context, spec ContainerSpec) (containerID string, err error)
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string, timeout *time.Duration) error
	KillContainer(ctx context.Context, containerID, signal string) error
	PauseContainer(ctx context.Context, containerID string) error
	UnpauseContainer(ctx context.Context, containerID string) error
	RemoveContainer(ctx context.Context, containerID string, opts RemoveOptions) error
	InspectContainer(ctx context.Context, containerID string) (*ContainerInfo, error)
	ListContainers(ctx context.Context, opts ListOptions) ([]ContainerInfo, error)
	ContainerLogs(ctx context.Context, containerID string, opts LogOptions) (io.ReadCloser, error)
	ContainerTop(ctx context.Context, containerID string) (*ProcessList, error)
	WaitContainer(ctx context.Context, containerID string) (exitCode int64, err error)
	ExecContainer(ctx context.Context, containerID string, cfg ExecConfig) (exitCode int, err error)

	// Filesystem operations; content is a tar archive
	StatContainerPath(ctx context.Context, containerID, path string) (*PathInfo, error)
	CopyToContainer(ctx context.Context, containerID, dstDir string, content io.Reader, copyOwnership bool) error
	CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, error)

	// Network operations
	CreateNetwork(ctx context.Context, spec NetworkSpec) (networkID string, err error)
	RemoveNetwork(ctx context.Context, networkID string) error
	InspectNetwork(ctx context.Context, name string) (*NetworkInfo, error)
	ListNetworks(ctx context.Context, opts ListOptions) ([]NetworkInfo, error)

	// Volume operations
	CreateVolume(ctx context.Context, spec VolumeSpec) (volumeName string, err error)
	RemoveVolume(ctx context.Context, volumeName string, force bool) error
	InspectVolume(ctx context.Context, name string) (*VolumeInfo, error)
	ListVolumes(ctx context.Context, opts ListOptions) ([]VolumeInfo, error)

	// Image operations
	PullImage(ctx context.Context, image string, opts PullOptions) error
	ImageExists(ctx context.Context, image string) (bool, error)
	InspectImage(ctx context.Context, image string) (*ImageInfo, error)
	RemoveImage(ctx context.Context, image string, force bool) error

	// Event stream; both channels close when ctx is done
	Events(ctx context.Context, opts ListOptions) (<-chan EngineEvent, <-chan error)

	// Health operations
	Ping(ctx context.Context) error
	Version(ctx context.Context) (*VersionInfo, error)
	Close() error
}
