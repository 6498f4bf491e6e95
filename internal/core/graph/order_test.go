package graph

import (
	"errors"
	"testing"

	"github.com/artpar/stackctl/internal/core/compose"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Order Tests
// =============================================================================

func TestOrder_Chain(t *testing.T) {
	g := Build(topology(svc("web", "api"), svc("api", "db"), svc("db")), EdgeSource{Direction: DependencyFirst})

	order, err := g.Order()
	require.NoError(t, err)
	assert.Equal(t, []string{"db", "api", "web"}, order)
}

func TestOrder_Reverse(t *testing.T) {
	g := Build(topology(svc("web", "api"), svc("api", "db"), svc("db")), EdgeSource{Direction: DependentFirst})

	order, err := g.Order()
	require.NoError(t, err)
	assert.Equal(t, []string{"web", "api", "db"}, order)
}

func TestOrder_Diamond(t *testing.T) {
	topo := &compose.Topology{Name: "demo", Services: []compose.Service{
		svc("app", "cache", "db"), svc("cache", "base"), svc("db", "base"), svc("base"),
	}}
	g := Build(topo, EdgeSource{Direction: DependencyFirst})

	order, err := g.Order()
	require.NoError(t, err)
	assert.Equal(t, []string{"base", "cache", "db", "app"}, order)
}

func TestOrder_Empty(t *testing.T) {
	order, err := New().Order()
	require.NoError(t, err)
	assert.Empty(t, order)
}

func TestOrder_Cycle(t *testing.T) {
	g := New("z")
	g.AddEdge("a", "b")
	g.AddEdge("b", "a")

	order, err := g.Order()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCycle))
	assert.Equal(t, []string{"z", "a", "b"}, order)
}
