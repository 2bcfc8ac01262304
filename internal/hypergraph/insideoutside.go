package hypergraph

import (
	"fmt"
	"math"

	"mtdecode/pkg/contract"
)

// DeductionProber: 超边对父节点的（对数域）推导概率贡献。
// 约定：代价为负对数概率，取负即回到对数概率。
type DeductionProber func(e *HyperEdge, parent *Node) float64

// TrivialProber 最小定义：-TransitionCost。
func TrivialProber(e *HyperEdge, _ *Node) float64 { return -e.TransitionCost() }

// InsideOutside: 对数域的 inside/outside 计算，结果按节点拓扑序号存放。
type InsideOutside struct {
	Prober DeductionProber

	graph   *HyperGraph
	inside  []float64
	outside []float64
}

// NewInsideOutside 构造；prober 为 nil 时取 TrivialProber。
func NewInsideOutside(prober DeductionProber) *InsideOutside {
	if prober == nil {
		prober = TrivialProber
	}
	return &InsideOutside{Prober: prober}
}

func logAdd(a, b float64) float64 {
	if math.IsInf(a, -1) {
		return b
	}
	if math.IsInf(b, -1) {
		return a
	}
	if a < b {
		a, b = b, a
	}
	return a + math.Log1p(math.Exp(b-a))
}

// Run 对整张图计算 inside/outside。图须有目标节点且节点按拓扑序加入。
func (ioc *InsideOutside) Run(g *HyperGraph) error {
	if g.Goal() == nil {
		return fmt.Errorf("inside-outside: no goal node: %w", contract.ErrInvalidInput)
	}
	nodes := g.Nodes()
	ioc.graph = g
	ioc.inside = make([]float64, len(nodes))
	ioc.outside = make([]float64, len(nodes))

	for _, v := range nodes {
		if len(v.edges) == 0 {
			ioc.inside[v.id] = 0
			continue
		}
		acc := math.Inf(-1)
		for _, e := range v.edges {
			p := ioc.Prober(e, v)
			for _, a := range e.ants {
				if a.id < 0 || a.id >= v.id {
					return fmt.Errorf("inside-outside: node %d antecedent %d not topologically ordered: %w",
						v.id, a.id, contract.ErrInvariantViolation)
				}
				p += ioc.inside[a.id]
			}
			acc = logAdd(acc, p)
		}
		ioc.inside[v.id] = acc
	}

	for i := range ioc.outside {
		ioc.outside[i] = math.Inf(-1)
	}
	ioc.outside[g.Goal().id] = 0
	for k := len(nodes) - 1; k >= 0; k-- {
		v := nodes[k]
		if math.IsInf(ioc.outside[v.id], -1) {
			continue
		}
		for _, e := range v.edges {
			base := ioc.outside[v.id] + ioc.Prober(e, v)
			for x, a := range e.ants {
				p := base
				for y, b := range e.ants {
					if y != x {
						p += ioc.inside[b.id]
					}
				}
				ioc.outside[a.id] = logAdd(ioc.outside[a.id], p)
			}
		}
	}
	return nil
}

// LogZ 目标节点的 inside（对数配分函数）。
func (ioc *InsideOutside) LogZ() float64 {
	if ioc.graph == nil || ioc.graph.Goal() == nil {
		return math.Inf(-1)
	}
	return ioc.inside[ioc.graph.Goal().id]
}

func (ioc *InsideOutside) Inside(n *Node) float64  { return ioc.inside[n.id] }
func (ioc *InsideOutside) Outside(n *Node) float64 { return ioc.outside[n.id] }

// NodePosterior 节点后验概率。
func (ioc *InsideOutside) NodePosterior(n *Node) float64 {
	return math.Exp(ioc.inside[n.id] + ioc.outside[n.id] - ioc.LogZ())
}

// EdgePosterior 超边后验概率。
func (ioc *InsideOutside) EdgePosterior(e *HyperEdge, parent *Node) float64 {
	p := ioc.outside[parent.id] + ioc.Prober(e, parent)
	for _, a := range e.ants {
		p += ioc.inside[a.id]
	}
	return math.Exp(p - ioc.LogZ())
}
