package deployment

import (
	"time"

	"github.com/artpar/stackctl/internal/core/compose"
)

// =============================================================================
// Container Plan Types
// =============================================================================

// ContainerPlan represents a planned container configuration.
// This is the pure output of planning, ready for the shell to execute.
type ContainerPlan struct {
	Name           string
	Image          string
	Command        []string
	Entrypoint     []string
	Env            map[string]string
	Labels         map[string]string
	Ports          []PortPlan
	Volumes        []VolumePlan
	Networks       []string
	NetworkAliases map[string][]string // network name -> aliases
	NetworkMode    string
	WorkingDir     string
	User           string
	RestartPolicy  RestartPolicyPlan
	Resources      ResourcePlan
	HealthCheck    *HealthCheckPlan
	StopTimeout    *time.Duration
}

// PortPlan represents a planned port binding.
type PortPlan struct {
	ContainerPort int
	HostPort      int
	Protocol      string
	HostIP        string
}

// VolumePlan represents a planned volume mount.
type VolumePlan struct {
	Type     compose.VolumeMountType
	Source   string
	Target   string
	ReadOnly bool
}

// RestartPolicyPlan represents a restart policy.
type RestartPolicyPlan struct {
	Name              string
	MaximumRetryCount int
}

// ResourcePlan represents resource limits.
type ResourcePlan struct {
	CPULimit    float64
	MemoryLimit int64
}

// HealthCheckPlan represents a health check configuration.
type HealthCheckPlan struct {
	Test        []string
	Interval    time.Duration
	Timeout     time.Duration
	Retries     int
	StartPeriod time.Duration
}

// =============================================================================
// Builder Parameter Types
// =============================================================================

// BuildContainerPlanParams contains all inputs for building a container plan.
type BuildContainerPlanParams struct {
	Topology   *compose.Topology
	Service    compose.Service
	Instance   Instance
	Labels     Labels
	ConfigHash string
	Version    string
	Requires   []string // instance names of the dependencies created before this one
	OneOff     bool

	// One-off overrides; nil keeps the service definition.
	Command []string
	Env     map[string]string
}
