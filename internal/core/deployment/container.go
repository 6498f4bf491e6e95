package deployment

import (
	"path"

	"github.com/artpar/stackctl/internal/core/compose"
)

// SecretsDir is where file-backed secrets are mounted inside containers.
const SecretsDir = "/run/secrets"

// =============================================================================
// Container Plan Building Functions
// =============================================================================

// BuildContainerPlan builds the container plan for one service instance.
//
// The plan carries the instance name, the service's image and runtime
// settings, project labels (including the fingerprint and the names of the
// instances it was created after), network attachments aliased by service
// name, and file-backed secrets as read-only bind mounts under /run/secrets.
//
// Example:
//
//	plan := BuildContainerPlan(BuildContainerPlanParams{
//	    Topology:   topo,
//	    Service:    web,
//	    Instance:   Instance{Service: "web", Index: 1, Name: "shop_web_1"},
//	    Labels:     NewLabels(""),
//	    ConfigHash: hash,
//	})
func BuildContainerPlan(params BuildContainerPlanParams) ContainerPlan {
	svc := params.Service

	plan := ContainerPlan{
		Name:       params.Instance.Name,
		Image:      ImageName(params.Topology.Name, svc),
		Command:    svc.Command,
		Entrypoint: svc.Entrypoint,
		Env:        make(map[string]string),
		Labels: params.Labels.ForInstance(InstanceLabels{
			Project:    params.Topology.Name,
			Instance:   params.Instance,
			ConfigHash: params.ConfigHash,
			Version:    params.Version,
			OneOff:     params.OneOff,
			Requires:   params.Requires,
		}),
		NetworkMode: svc.NetworkMode,
		WorkingDir:  svc.WorkingDir,
		User:        svc.User,
	}

	if params.Command != nil {
		plan.Command = params.Command
	}

	for k, v := range svc.Environment {
		plan.Env[k] = v
	}
	for k, v := range params.Env {
		plan.Env[k] = v
	}

	// One-off containers never publish the service's ports
	if !params.OneOff {
		for _, p := range svc.Ports {
			plan.Ports = append(plan.Ports, PortPlan{
				ContainerPort: int(p.Target),
				HostPort:      int(p.Published),
				Protocol:      p.Protocol,
				HostIP:        p.HostIP,
			})
		}
	}

	for _, v := range svc.Volumes {
		plan.Volumes = append(plan.Volumes, VolumePlan{
			Type:     v.Type,
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		})
	}

	for _, s := range svc.Secrets {
		secret, ok := params.Topology.Secret(s.Source)
		if !ok || secret.File == "" {
			continue
		}
		target := s.Target
		if !path.IsAbs(target) {
			target = path.Join(SecretsDir, target)
		}
		plan.Volumes = append(plan.Volumes, VolumePlan{
			Type:     compose.VolumeMountTypeBind,
			Source:   secret.File,
			Target:   target,
			ReadOnly: true,
		})
	}

	if len(svc.Networks) > 0 {
		plan.Networks = append(plan.Networks, svc.Networks...)
		plan.NetworkAliases = make(map[string][]string, len(svc.Networks))
		for _, n := range svc.Networks {
			plan.NetworkAliases[n] = []string{svc.Name}
		}
	}

	if svc.HealthCheck != nil {
		plan.HealthCheck = &HealthCheckPlan{
			Test:        svc.HealthCheck.Test,
			Interval:    svc.HealthCheck.Interval,
			Timeout:     svc.HealthCheck.Timeout,
			Retries:     svc.HealthCheck.Retries,
			StartPeriod: svc.HealthCheck.StartPeriod,
		}
	}

	if svc.Resources.CPULimit > 0 {
		plan.Resources.CPULimit = svc.Resources.CPULimit
	}
	if svc.Resources.MemoryLimit > 0 {
		plan.Resources.MemoryLimit = svc.Resources.MemoryLimit
	}

	if svc.StopGracePeriod > 0 {
		grace := svc.StopGracePeriod
		plan.StopTimeout = &grace
	}

	if params.OneOff {
		plan.RestartPolicy = RestartPolicyPlan{Name: "no"}
	} else {
		plan.RestartPolicy = mapRestartPolicy(svc.Restart)
	}

	// Service labels never override the project labels
	for k, v := range svc.Labels {
		if _, reserved := plan.Labels[k]; !reserved {
			plan.Labels[k] = v
		}
	}

	return plan
}

// ImageName returns the image a service runs. Images built locally are
// tagged {project}-{service}.
func ImageName(project string, svc compose.Service) string {
	if svc.Image == "" && svc.Build != nil {
		return project + "-" + svc.Name
	}
	return svc.Image
}

// mapRestartPolicy maps compose restart policy to Docker restart policy name.
func mapRestartPolicy(policy compose.RestartPolicy) RestartPolicyPlan {
	switch policy {
	case compose.RestartAlways:
		return RestartPolicyPlan{Name: "always"}
	case compose.RestartOnFailure:
		return RestartPolicyPlan{Name: "on-failure"}
	case compose.RestartUnlessStopped:
		return RestartPolicyPlan{Name: "unless-stopped"}
	default:
		return RestartPolicyPlan{Name: "no"}
	}
}
