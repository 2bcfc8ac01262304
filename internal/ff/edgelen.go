package ff

import "mtdecode/pkg/contract"

type edgeState struct{}

func (edgeState) Signature() string { return "" }

// EdgeLength: 对直接覆盖源端的边（无前件）按跨度长度计代价。
// 边感知形式看超边实际前件数；无边上下文时退回规则元数判断。
type EdgeLength struct{ StatefulBase }

var (
	_ contract.StatefulFeature  = (*EdgeLength)(nil)
	_ contract.EdgeTransitioner = (*EdgeLength)(nil)
)

// NewEdgeLength 构造。
func NewEdgeLength(weight float64) *EdgeLength {
	f := &EdgeLength{}
	f.Init("edge_length", weight)
	return f
}

func (f *EdgeLength) Estimate(contract.Rule) float64 { return 0 }

func (f *EdgeLength) Transition(r contract.Rule, _ []contract.DPState, i, j int) contract.TransitionResult {
	return f.span(r.Arity() == 0, i, j)
}

func (f *EdgeLength) FinalTransition(contract.DPState) float64 { return 0 }

func (f *EdgeLength) TransitionEdge(e contract.Edge, _ contract.Rule, _ []contract.DPState, i, j int) contract.TransitionResult {
	return f.span(e.Antecedents() == 0, i, j)
}

func (f *EdgeLength) FinalTransitionEdge(contract.Edge, contract.DPState) float64 { return 0 }

func (f *EdgeLength) span(leaf bool, i, j int) contract.TransitionResult {
	if !leaf {
		return contract.TransitionResult{State: edgeState{}}
	}
	return contract.TransitionResult{State: edgeState{}, Cost: float64(j - i)}
}
