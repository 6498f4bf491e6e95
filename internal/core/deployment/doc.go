// Package deployment provides pure functions for turning a topology into
// concrete engine-side identities and plans.
//
// # Functions
//
//   - Replicas: Resolve replica counts and instance identities (ReplicaCount, InstanceName, Expand)
//   - Naming: One-off run container names (RunContainerName)
//   - Labels: Project, service and fingerprint label keys under a configurable prefix (Labels)
//   - Recreate: Decide whether existing resources are stale (ShouldRecreate)
//   - Container: Build container plans from compose services (BuildContainerPlan)
//
// # Usage
//
// The imperative shell (internal/shell/docker) uses these pure functions
// to plan each lifecycle verb, then executes the plans via the Docker API.
//
//	instances, err := deployment.Expand(topo, services, overrides)
//	if deployment.ShouldRecreate(existing, current, force, noRecreate) { ... }
//	plan := deployment.BuildContainerPlan(params)
package deployment
