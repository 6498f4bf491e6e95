package deployment

import (
	"errors"
	"testing"

	"github.com/artpar/stackctl/internal/core/compose"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

// =============================================================================
// ReplicaCount Tests
// =============================================================================

func TestReplicaCount_Precedence(t *testing.T) {
	tests := []struct {
		name     string
		svc      compose.Service
		override map[string]int
		want     int
	}{
		{name: "default", svc: compose.Service{Name: "web"}, want: 1},
		{name: "scale", svc: compose.Service{Name: "web", Scale: intPtr(2)}, want: 2},
		{name: "replicas over scale", svc: compose.Service{Name: "web", Scale: intPtr(2), Replicas: intPtr(4)}, want: 4},
		{name: "override wins", svc: compose.Service{Name: "web", Replicas: intPtr(4)}, override: map[string]int{"web": 7}, want: 7},
		{name: "override for other service", svc: compose.Service{Name: "web", Scale: intPtr(3)}, override: map[string]int{"db": 7}, want: 3},
		{name: "fixed name forces one", svc: compose.Service{Name: "web", ContainerName: "w", Replicas: intPtr(3)}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReplicaCount(tt.svc, tt.override)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReplicaCount_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		svc      compose.Service
		override map[string]int
	}{
		{name: "zero replicas", svc: compose.Service{Name: "web", Replicas: intPtr(0)}},
		{name: "negative scale", svc: compose.Service{Name: "web", Scale: intPtr(-1)}},
		{name: "zero override", svc: compose.Service{Name: "web"}, override: map[string]int{"web": 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReplicaCount(tt.svc, tt.override)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidReplicas))
		})
	}
}

// =============================================================================
// Instances / Expand Tests
// =============================================================================

func TestInstances_ContiguousOneBased(t *testing.T) {
	instances, err := Instances("shop", compose.Service{Name: "worker", Replicas: intPtr(3)}, nil)
	require.NoError(t, err)

	assert.Equal(t, []Instance{
		{Service: "worker", Index: 1, Name: "shop_worker_1"},
		{Service: "worker", Index: 2, Name: "shop_worker_2"},
		{Service: "worker", Index: 3, Name: "shop_worker_3"},
	}, instances)
}

func TestExpand(t *testing.T) {
	topo := &compose.Topology{Name: "shop", Services: []compose.Service{
		{Name: "web", Scale: intPtr(2)},
		{Name: "db", ContainerName: "shop-db"},
	}}

	sets, err := Expand(topo, []string{"web", "db"}, nil)
	require.NoError(t, err)
	require.Len(t, sets["web"], 2)
	assert.Equal(t, []Instance{{Service: "db", Index: 1, Name: "shop-db"}}, sets["db"])
}

func TestExpand_Errors(t *testing.T) {
	topo := &compose.Topology{Name: "shop", Services: []compose.Service{
		{Name: "web", Scale: intPtr(0)},
	}}

	_, err := Expand(topo, []string{"web"}, nil)
	assert.True(t, errors.Is(err, ErrInvalidReplicas))

	_, err = Expand(topo, []string{"ghost"}, nil)
	assert.True(t, errors.Is(err, ErrUnknownService))
}

func TestValidateServices(t *testing.T) {
	topo := &compose.Topology{Name: "shop", Services: []compose.Service{{Name: "web"}}}

	assert.NoError(t, ValidateServices(topo, []string{"web"}))
	assert.NoError(t, ValidateServices(topo, nil))

	err := ValidateServices(topo, []string{"web", "zed", "api"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownService))
	assert.Contains(t, err.Error(), "[api zed]")
}
