package hypergraph

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mtdecode/internal/grammar"
	"mtdecode/pkg/contract"
)

func rule(id int) *grammar.Rule {
	return grammar.NewRule(id, -1, []int{id}, []int{id}, nil, 1)
}

func TestWithModelCosts(t *testing.T) {
	e := NewHyperEdge(rule(1), 5, 1.5, nil)
	assert.Nil(t, e.ModelCosts())

	err := e.WithModelCosts([]float64{1, 1})
	assert.ErrorIs(t, err, contract.ErrInvariantViolation)
	assert.Nil(t, e.ModelCosts(), "校验失败不附加")

	require.NoError(t, e.WithModelCosts([]float64{1, 0.25, 0.25}))
	assert.Equal(t, []float64{1, 0.25, 0.25}, e.ModelCosts())
	assert.Equal(t, 5.0, e.TotalCost(), "附加分项不改变标量代价")
	assert.Equal(t, 1.5, e.TransitionCost())

	mc := e.ModelCosts()
	mc[0] = 99
	assert.Equal(t, 1.0, e.ModelCosts()[0], "返回拷贝")
}

func TestTrivialProber(t *testing.T) {
	e := NewHyperEdge(rule(1), 3, 0.75, nil)
	assert.Equal(t, -0.75, TrivialProber(e, nil))
}

func buildGraph() (*HyperGraph, *Node, *Node, *Node, *HyperEdge, *HyperEdge) {
	g := New()
	a := NewNode(-1, 0, 1, "a", nil)
	a.AddEdge(NewHyperEdge(rule(1), 1, 1, nil))
	b := NewNode(-1, 0, 1, "b", nil)
	b.AddEdge(NewHyperEdge(rule(2), 2, 2, nil))
	goal := NewNode(-2, 0, 1, "", nil)
	e1 := NewHyperEdge(rule(3), 1.5, 0.5, []*Node{a})
	e2 := NewHyperEdge(rule(4), 2.1, 0.1, []*Node{b})
	goal.AddEdge(e2)
	goal.AddEdge(e1)
	g.Add(a)
	g.Add(b)
	g.Add(goal)
	g.SetGoal(goal)
	return g, a, b, goal, e1, e2
}

func TestNodeBestAndViterbi(t *testing.T) {
	g, a, _, goal, e1, _ := buildGraph()
	assert.Same(t, e1, goal.Best())
	assert.Equal(t, 1.5, goal.BestCost())
	path := g.Viterbi()
	require.Len(t, path, 2)
	assert.Same(t, a.Best(), path[0])
	assert.Same(t, e1, path[1])
	assert.Equal(t, 2, goal.ID())
	assert.Len(t, goal.Edges(), 2, "重组保留全部入边")
	assert.Len(t, g.Nodes(), 3)
}

func TestInsideOutside(t *testing.T) {
	g, a, b, goal, e1, e2 := buildGraph()
	io := NewInsideOutside(nil)
	require.NoError(t, io.Run(g))

	assert.InDelta(t, -1, io.Inside(a), 1e-12)
	z := math.Log(math.Exp(-1.5) + math.Exp(-2.1))
	assert.InDelta(t, z, io.LogZ(), 1e-12)
	assert.InDelta(t, -0.5, io.Outside(a), 1e-12)

	p1, p2 := io.EdgePosterior(e1, goal), io.EdgePosterior(e2, goal)
	assert.InDelta(t, 1, p1+p2, 1e-12)
	assert.Greater(t, p1, p2)
	assert.InDelta(t, p1, io.NodePosterior(a), 1e-12)
	assert.InDelta(t, p2, io.NodePosterior(b), 1e-12)
	assert.InDelta(t, 1, io.NodePosterior(goal), 1e-12)
}

func TestInsideOutsideCustomProber(t *testing.T) {
	g, _, _, _, _, _ := buildGraph()
	io := NewInsideOutside(func(*HyperEdge, *Node) float64 { return 0 })
	require.NoError(t, io.Run(g))
	assert.InDelta(t, math.Log(2), io.LogZ(), 1e-12)
}

func TestInsideOutsideErrors(t *testing.T) {
	io := NewInsideOutside(nil)
	assert.ErrorIs(t, io.Run(New()), contract.ErrInvalidInput)
	assert.True(t, math.IsInf(io.LogZ(), -1))

	g := New()
	leaf := NewNode(-1, 0, 1, "", nil)
	leaf.AddEdge(NewHyperEdge(rule(1), 1, 1, nil))
	goal := NewNode(-2, 0, 1, "", nil)
	goal.AddEdge(NewHyperEdge(rule(2), 1, 0, []*Node{leaf}))
	g.Add(goal)
	g.Add(leaf)
	g.SetGoal(goal)
	assert.ErrorIs(t, io.Run(g), contract.ErrInvariantViolation)
}
