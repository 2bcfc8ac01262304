package hypergraph

import "mtdecode/pkg/contract"

// Node: 覆盖源端 [i,j) 、标签为 lhs、DP 状态签名相同的推导集合。
type Node struct {
	id        int
	lhs       int
	i, j      int
	signature string
	states    []contract.DPState
	edges     []*HyperEdge
	best      *HyperEdge
}

// NewNode 构造节点；states 按有状态特征顺序排列。
func NewNode(lhs, i, j int, signature string, states []contract.DPState) *Node {
	return &Node{id: -1, lhs: lhs, i: i, j: j, signature: signature, states: states}
}

func (n *Node) ID() int { return n.id }
func (n *Node) LHS() int { return n.lhs }
func (n *Node) Span() (int, int) { return n.i, n.j }
func (n *Node) Signature() string { return n.signature }
func (n *Node) States() []contract.DPState { return n.states }
func (n *Node) Edges() []*HyperEdge { return n.edges }
func (n *Node) Best() *HyperEdge { return n.best }

// BestCost 最优入边的总代价（无入边时为 0）。
func (n *Node) BestCost() float64 {
	if n.best == nil {
		return 0
	}
	return n.best.TotalCost()
}

// AddEdge 追加入边（重组），并维护最优入边。
func (n *Node) AddEdge(e *HyperEdge) {
	n.edges = append(n.edges, e)
	if n.best == nil || e.TotalCost() < n.best.TotalCost() {
		n.best = e
	}
}

// HyperGraph: 节点按拓扑序存放（前件先于使用它的节点加入）。
type HyperGraph struct {
	nodes []*Node
	goal  *Node
}

// New 构造空图。
func New() *HyperGraph { return &HyperGraph{} }

// Add 加入节点并分配拓扑序号。
func (g *HyperGraph) Add(n *Node) {
	n.id = len(g.nodes)
	g.nodes = append(g.nodes, n)
}

func (g *HyperGraph) Nodes() []*Node { return g.nodes }
func (g *HyperGraph) Goal() *Node { return g.goal }
func (g *HyperGraph) SetGoal(n *Node) { g.goal = n }

// Viterbi 沿最优入边展开，按后序返回最优推导的边序列。
func (g *HyperGraph) Viterbi() []*HyperEdge {
	if g.goal == nil {
		return nil
	}
	var out []*HyperEdge
	var walk func(*Node)
	walk = func(n *Node) {
		e := n.best
		if e == nil {
			return
		}
		for _, a := range e.ants {
			walk(a)
		}
		out = append(out, e)
	}
	walk(g.goal)
	return out
}
