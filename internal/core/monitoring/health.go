// Package monitoring derives project health and event descriptions from
// container state. It performs no I/O.
package monitoring

// =============================================================================
// Health Status
// =============================================================================

// HealthStatus is the health of one container or of a whole project.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnknown   HealthStatus = "unknown"
)

// =============================================================================
// Health Aggregation
// =============================================================================

// AggregateHealth folds container health into a project health.
// Every container unhealthy is unhealthy; any container short of healthy
// is degraded.
func AggregateHealth(containers []HealthStatus) HealthStatus {
	if len(containers) == 0 {
		return HealthStatusUnknown
	}

	unhealthy := 0
	degraded := 0

	for _, h := range containers {
		switch h {
		case HealthStatusUnhealthy:
			unhealthy++
		case HealthStatusDegraded, HealthStatusUnknown:
			degraded++
		}
	}

	if unhealthy == len(containers) {
		return HealthStatusUnhealthy
	}
	if unhealthy > 0 || degraded > 0 {
		return HealthStatusDegraded
	}
	return HealthStatusHealthy
}

// ContainerHealth maps an engine container state and its healthcheck result
// ("healthy", "unhealthy", "starting" or "") to a HealthStatus.
func ContainerHealth(state, healthCheck string) HealthStatus {
	switch state {
	case "running":
	case "paused", "restarting":
		return HealthStatusDegraded
	case "":
		return HealthStatusUnknown
	default:
		return HealthStatusUnhealthy
	}

	switch healthCheck {
	case "unhealthy":
		return HealthStatusUnhealthy
	case "starting":
		return HealthStatusDegraded
	default:
		return HealthStatusHealthy
	}
}

// =============================================================================
// Event Messages
// =============================================================================

// EventMessage describes an engine event for people. action is the raw
// engine action, e.g. "start", "die" or "health_status: unhealthy".
func EventMessage(kind, action, name string) string {
	subject := "Container " + name
	switch kind {
	case "network":
		subject = "Network " + name
	case "volume":
		subject = "Volume " + name
	case "image":
		subject = "Image " + name
	}

	switch action {
	case "create":
		return subject + " created"
	case "start":
		return subject + " started"
	case "stop":
		return subject + " stopped"
	case "restart":
		return subject + " restarted"
	case "pause":
		return subject + " paused"
	case "unpause":
		return subject + " unpaused"
	case "kill":
		return subject + " killed"
	case "die":
		return subject + " exited"
	case "oom":
		return subject + " killed due to out of memory"
	case "destroy", "remove", "delete":
		return subject + " removed"
	case "connect":
		return subject + " connected"
	case "disconnect":
		return subject + " disconnected"
	case "health_status: healthy":
		return subject + " health check passed"
	case "health_status: unhealthy":
		return subject + " health check failed"
	case "pull":
		return subject + " pulled"
	default:
		return subject + " " + action
	}
}
