package deployment

import "fmt"

// =============================================================================
// Resource Naming Functions
// =============================================================================

// InstanceName returns the container name of replica index (1-based) of a
// service. A fixed container_name wins over the computed name.
// Pattern: {project}_{service}_{index}
//
// Example:
//
//	InstanceName("shop", "web", "", 2) // returns "shop_web_2"
func InstanceName(project, service, fixedName string, index int) string {
	if fixedName != "" {
		return fixedName
	}
	return fmt.Sprintf("%s_%s_%d", project, service, index)
}

// RunContainerName returns the name of a one-off container.
// Pattern: {project}_{service}_run_{id}
//
// Example:
//
//	RunContainerName("shop", "web", "3f2a9c01b7de") // returns "shop_web_run_3f2a9c01b7de"
func RunContainerName(project, service, id string) string {
	return fmt.Sprintf("%s_%s_run_%s", project, service, id)
}
