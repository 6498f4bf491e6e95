package compose

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Fixtures
// =============================================================================

const minimalValidSpec = `
services:
  app:
    image: nginx:latest
`

const multiServiceSpec = `
services:
  web:
    image: nginx:latest
    ports:
      - "80:80"
    depends_on:
      - api
    links:
      - cache:redis

  api:
    image: myapp:1.0
    environment:
      DB_HOST: db
    depends_on:
      - db

  db:
    image: postgres:15
    volumes:
      - pgdata:/var/lib/postgresql/data

  cache:
    image: redis:7

volumes:
  pgdata:
`

const replicatedSpec = `
services:
  worker:
    image: busybox
    deploy:
      replicas: 3
  sidecar:
    image: busybox
    scale: 2
  pinned:
    image: busybox
    container_name: fixed-name
`

const resourcesSpec = `
services:
  app:
    image: busybox
    networks:
      - front
      - shared
    secrets:
      - token
  worker:
    image: busybox
    secrets:
      - source: token
        target: api-key
networks:
  front: {}
  shared:
    external: true
  named:
    name: custom-net
volumes:
  data:
    external: true
secrets:
  token:
    file: ./token.txt
`

// =============================================================================
// Parse Tests
// =============================================================================

func TestParse_Minimal(t *testing.T) {
	topo, err := Parse(minimalValidSpec, "demo")
	require.NoError(t, err)

	assert.Equal(t, "demo", topo.Name)
	require.Len(t, topo.Services, 1)
	assert.Equal(t, "app", topo.Services[0].Name)
	assert.Equal(t, "nginx:latest", topo.Services[0].Image)

	// implicit default network
	assert.Equal(t, []string{"demo_default"}, topo.Services[0].Networks)
	net, ok := topo.Network(DefaultNetwork)
	require.True(t, ok)
	assert.Equal(t, "demo_default", net.Name)
}

func TestParse_MultiService(t *testing.T) {
	topo, err := Parse(multiServiceSpec, "shop")
	require.NoError(t, err)

	assert.Equal(t, []string{"api", "cache", "db", "web"}, topo.ServiceNames())

	web, ok := topo.Service("web")
	require.True(t, ok)
	assert.Equal(t, []string{"api"}, web.DependsOn)
	assert.Equal(t, []string{"cache:redis"}, web.Links)
	assert.Equal(t, []string{"api"}, web.Dependencies(false))
	assert.Equal(t, []string{"api", "cache"}, web.Dependencies(true))
	require.Len(t, web.Ports, 1)
	assert.Equal(t, uint32(80), web.Ports[0].Target)
	assert.Equal(t, uint32(80), web.Ports[0].Published)

	api, _ := topo.Service("api")
	assert.Equal(t, "db", api.Environment["DB_HOST"])

	db, _ := topo.Service("db")
	require.Len(t, db.Volumes, 1)
	assert.Equal(t, VolumeMountTypeVolume, db.Volumes[0].Type)
	assert.Equal(t, "shop_pgdata", db.Volumes[0].Source)
	assert.Equal(t, "/var/lib/postgresql/data", db.Volumes[0].Target)
}

func TestParse_ReplicaInputs(t *testing.T) {
	topo, err := Parse(replicatedSpec, "demo")
	require.NoError(t, err)

	worker, _ := topo.Service("worker")
	require.NotNil(t, worker.Replicas)
	assert.Equal(t, 3, *worker.Replicas)

	sidecar, _ := topo.Service("sidecar")
	require.NotNil(t, sidecar.Scale)
	assert.Equal(t, 2, *sidecar.Scale)

	pinned, _ := topo.Service("pinned")
	assert.Equal(t, "fixed-name", pinned.ContainerName)
}

func TestParse_ResourceNames(t *testing.T) {
	topo, err := Parse(resourcesSpec, "demo")
	require.NoError(t, err)

	front, ok := topo.Network("front")
	require.True(t, ok)
	assert.Equal(t, "demo_front", front.Name)

	shared, _ := topo.Network("shared")
	assert.True(t, shared.External)
	assert.Equal(t, "shared", shared.Name)

	named, _ := topo.Network("named")
	assert.Equal(t, "custom-net", named.Name)

	data, _ := topo.Volume("data")
	assert.True(t, data.External)
	assert.Equal(t, "data", data.Name)

	app, _ := topo.Service("app")
	assert.Equal(t, []string{"demo_front", "shared"}, app.Networks)
	assert.Equal(t, []SecretMount{{Source: "token", Target: "/run/secrets/token"}}, app.Secrets)

	worker, _ := topo.Service("worker")
	assert.Equal(t, []SecretMount{{Source: "token", Target: "api-key"}}, worker.Secrets)

	token, ok := topo.Secret("token")
	require.True(t, ok)
	assert.Contains(t, token.File, "token.txt")
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		project string
		wantErr error
	}{
		{name: "empty input", content: "   ", project: "demo", wantErr: ErrEmptyInput},
		{name: "empty project", content: minimalValidSpec, project: "", wantErr: ErrEmptyProjectName},
		{name: "invalid yaml", content: "services: [unclosed", project: "demo", wantErr: ErrInvalidYAML},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.content, tt.project)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestParse_UnknownDependency(t *testing.T) {
	_, err := Parse(`
services:
  web:
    image: nginx
    depends_on:
      - ghost
`, "demo")
	require.Error(t, err)
}

func TestLinkTarget(t *testing.T) {
	assert.Equal(t, "db", LinkTarget("db"))
	assert.Equal(t, "db", LinkTarget("db:database"))
	assert.Equal(t, "", LinkTarget(""))
}

// =============================================================================
// Fingerprint Tests
// =============================================================================

func TestFingerprint(t *testing.T) {
	a, err := Parse(multiServiceSpec, "shop")
	require.NoError(t, err)
	b, err := Parse(multiServiceSpec, "shop")
	require.NoError(t, err)

	ha, err := a.Fingerprint()
	require.NoError(t, err)
	hb, err := b.Fingerprint()
	require.NoError(t, err)

	assert.Len(t, ha, 64)
	assert.Equal(t, ha, hb)

	b.Services[0].Image = "myapp:2.0"
	hc, err := b.Fingerprint()
	require.NoError(t, err)
	assert.NotEqual(t, ha, hc)
}

func TestRenderYAML(t *testing.T) {
	topo, err := Parse(minimalValidSpec, "demo")
	require.NoError(t, err)

	out, err := topo.RenderYAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "name: demo")
	assert.Contains(t, string(out), "image: nginx:latest")
}
