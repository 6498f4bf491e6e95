package deployment

import (
	"testing"
	"time"

	"github.com/artpar/stackctl/internal/core/compose"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func planParams(svc compose.Service) BuildContainerPlanParams {
	return BuildContainerPlanParams{
		Topology: &compose.Topology{
			Name:     "shop",
			Services: []compose.Service{svc},
			Secrets: []compose.Secret{
				{Key: "token", Name: "shop_token", File: "/etc/app/token"},
				{Key: "ext", Name: "ext", External: true},
			},
		},
		Service:    svc,
		Instance:   Instance{Service: svc.Name, Index: 1, Name: "shop_" + svc.Name + "_1"},
		Labels:     NewLabels(""),
		ConfigHash: "hash-1",
		Version:    "test",
	}
}

// =============================================================================
// BuildContainerPlan Tests
// =============================================================================

func TestBuildContainerPlan_BasicService(t *testing.T) {
	svc := compose.Service{
		Name:     "web",
		Image:    "nginx:latest",
		Networks: []string{"shop_default"},
	}

	plan := BuildContainerPlan(planParams(svc))

	l := NewLabels("")
	assert.Equal(t, "shop_web_1", plan.Name)
	assert.Equal(t, "nginx:latest", plan.Image)
	assert.Equal(t, []string{"shop_default"}, plan.Networks)
	assert.Equal(t, []string{"web"}, plan.NetworkAliases["shop_default"])
	assert.Equal(t, "shop", plan.Labels[l.Project()])
	assert.Equal(t, "web", plan.Labels[l.Service()])
	assert.Equal(t, "1", plan.Labels[l.ContainerNumber()])
	assert.Equal(t, "hash-1", plan.Labels[l.ConfigHash()])
	assert.Equal(t, "no", plan.RestartPolicy.Name)
	assert.Nil(t, plan.StopTimeout)
}

func TestBuildContainerPlan_Requires(t *testing.T) {
	params := planParams(compose.Service{Name: "web", Image: "nginx"})
	params.Requires = []string{"shop_db_1"}

	plan := BuildContainerPlan(params)
	assert.Equal(t, "shop_db_1", plan.Labels[NewLabels("").DependsOn()])
}

func TestBuildContainerPlan_PortsVolumesAndSecrets(t *testing.T) {
	svc := compose.Service{
		Name:  "api",
		Image: "myapp:1.0",
		Ports: []compose.Port{{Target: 8080, Published: 80, Protocol: "tcp"}},
		Volumes: []compose.VolumeMount{
			{Type: compose.VolumeMountTypeVolume, Source: "shop_data", Target: "/data"},
		},
		Secrets: []compose.SecretMount{
			{Source: "token", Target: "token"},
			{Source: "ext", Target: "ext"},
		},
	}

	plan := BuildContainerPlan(planParams(svc))

	require.Len(t, plan.Ports, 1)
	assert.Equal(t, PortPlan{ContainerPort: 8080, HostPort: 80, Protocol: "tcp"}, plan.Ports[0])

	require.Len(t, plan.Volumes, 2)
	assert.Equal(t, VolumePlan{Type: compose.VolumeMountTypeVolume, Source: "shop_data", Target: "/data"}, plan.Volumes[0])
	assert.Equal(t, VolumePlan{
		Type:     compose.VolumeMountTypeBind,
		Source:   "/etc/app/token",
		Target:   "/run/secrets/token",
		ReadOnly: true,
	}, plan.Volumes[1])
}

func TestBuildContainerPlan_SecretTargetsFromCompose(t *testing.T) {
	topo, err := compose.Parse(`
services:
  app:
    image: busybox
    secrets:
      - token
      - source: token
        target: api-key
      - source: token
        target: /etc/app/key
secrets:
  token:
    file: ./token.txt
`, "shop")
	require.NoError(t, err)

	svc, ok := topo.Service("app")
	require.True(t, ok)
	params := planParams(svc)
	params.Topology = topo

	plan := BuildContainerPlan(params)

	var targets []string
	for _, v := range plan.Volumes {
		assert.Equal(t, compose.VolumeMountTypeBind, v.Type)
		assert.True(t, v.ReadOnly)
		targets = append(targets, v.Target)
	}
	assert.Equal(t, []string{"/run/secrets/token", "/run/secrets/api-key", "/etc/app/key"}, targets)
}

func TestBuildContainerPlan_OneOff(t *testing.T) {
	svc := compose.Service{
		Name:        "web",
		Image:       "nginx",
		Command:     []string{"nginx", "-g", "daemon off;"},
		Environment: map[string]string{"A": "1", "B": "2"},
		Ports:       []compose.Port{{Target: 80, Published: 80}},
		Restart:     compose.RestartAlways,
	}
	params := planParams(svc)
	params.OneOff = true
	params.Instance.Name = "shop_web_run_abc"
	params.Command = []string{"sh"}
	params.Env = map[string]string{"B": "override"}

	plan := BuildContainerPlan(params)

	assert.Equal(t, "shop_web_run_abc", plan.Name)
	assert.Equal(t, []string{"sh"}, plan.Command)
	assert.Equal(t, map[string]string{"A": "1", "B": "override"}, plan.Env)
	assert.Empty(t, plan.Ports)
	assert.Equal(t, "no", plan.RestartPolicy.Name)
	assert.Equal(t, "true", plan.Labels[NewLabels("").OneOff()])
}

func TestBuildContainerPlan_BuildOnlyImageName(t *testing.T) {
	svc := compose.Service{Name: "app", Build: &compose.BuildConfig{Context: "."}}
	plan := BuildContainerPlan(planParams(svc))
	assert.Equal(t, "shop-app", plan.Image)
}

func TestBuildContainerPlan_HealthCheckAndGrace(t *testing.T) {
	svc := compose.Service{
		Name:  "db",
		Image: "postgres",
		HealthCheck: &compose.HealthCheck{
			Test:     []string{"CMD", "pg_isready"},
			Interval: 5 * time.Second,
			Retries:  3,
		},
		StopGracePeriod: 20 * time.Second,
		Resources:       compose.ServiceResources{CPULimit: 0.5, MemoryLimit: 1 << 20},
	}

	plan := BuildContainerPlan(planParams(svc))

	require.NotNil(t, plan.HealthCheck)
	assert.Equal(t, 5*time.Second, plan.HealthCheck.Interval)
	assert.Equal(t, 3, plan.HealthCheck.Retries)
	require.NotNil(t, plan.StopTimeout)
	assert.Equal(t, 20*time.Second, *plan.StopTimeout)
	assert.Equal(t, 0.5, plan.Resources.CPULimit)
	assert.Equal(t, int64(1<<20), plan.Resources.MemoryLimit)
}

func TestBuildContainerPlan_ServiceLabelsCannotOverrideProject(t *testing.T) {
	l := NewLabels("")
	svc := compose.Service{
		Name:   "web",
		Image:  "nginx",
		Labels: map[string]string{l.Project(): "other", "team": "core"},
	}

	plan := BuildContainerPlan(planParams(svc))
	assert.Equal(t, "shop", plan.Labels[l.Project()])
	assert.Equal(t, "core", plan.Labels["team"])
}

func TestMapRestartPolicy(t *testing.T) {
	assert.Equal(t, "always", mapRestartPolicy(compose.RestartAlways).Name)
	assert.Equal(t, "on-failure", mapRestartPolicy(compose.RestartOnFailure).Name)
	assert.Equal(t, "unless-stopped", mapRestartPolicy(compose.RestartUnlessStopped).Name)
	assert.Equal(t, "no", mapRestartPolicy("").Name)
}
