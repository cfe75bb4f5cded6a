package dag

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func build(t *testing.T, nodes []string, edges [][2]string) *Graph {
	t.Helper()
	g := New()
	for _, n := range nodes {
		g.AddNode(n)
	}
	for _, e := range edges {
		require.NoError(t, g.AddEdge(e[0], e[1]))
	}
	return g
}

func TestTopoSortDeterministic(t *testing.T) {
	g := build(t, []string{"lint", "compile", "unit", "package"}, [][2]string{
		{"compile", "unit"}, {"lint", "package"}, {"unit", "package"},
	})
	order, err := g.TopoSort()
	require.NoError(t, err)
	assert.Equal(t, []string{"lint", "compile", "unit", "package"}, order)
}

func TestAddEdgeErrors(t *testing.T) {
	g := build(t, []string{"a"}, nil)
	assert.Error(t, g.AddEdge("a", "a"))
	assert.Error(t, g.AddEdge("a", "missing"))
	assert.Error(t, g.AddEdge("missing", "a"))
}

func TestTopoSortReportsMinimalCycle(t *testing.T) {
	// a -> b -> c -> d -> a is long; b -> c -> b is the minimal one.
	g := build(t, []string{"a", "b", "c", "d", "e"}, [][2]string{
		{"a", "b"}, {"b", "c"}, {"c", "d"}, {"d", "a"}, {"c", "b"}, {"d", "e"},
	})
	_, err := g.TopoSort()
	var cycleErr *CycleError
	require.True(t, errors.As(err, &cycleErr))
	assert.Equal(t, []string{"b", "c"}, cycleErr.Cycle)
	assert.Equal(t, "dependency cycle: b -> c -> b", err.Error())
}

func TestAncestorsAndDescendants(t *testing.T) {
	g := build(t, []string{"a", "b", "c", "d"}, [][2]string{{"a", "b"}, {"b", "c"}, {"a", "d"}})
	assert.Equal(t, []string{"a", "b"}, g.Ancestors("c"))
	assert.Equal(t, []string{"b", "c", "d"}, g.Descendants("a"))
	assert.Equal(t, []string{"b", "d"}, g.Dependents("a"))
	assert.Empty(t, g.Dependencies("a"))
}
