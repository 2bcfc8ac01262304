package contract

// Rule: 文法规则的只读视图（供特征函数与搜索使用）。
// 符号约定：终结符为正 ID；源端非终结符为负 ID（非终结符标签）；
// 目标端非终结符槽位以 -k 表示第 k 个（1 起）前件。
type Rule interface {
	ID() int
	LHS() int
	Source() []int
	Target() []int
	Arity() int
	Owner() int
	NumFeatures() int
	FeatureScore(column int) float64
	LatticeCost() float64
	EstimatedCost() float64
}

// DPState: 动态规划状态；Signature 相同的状态可重组（recombination）。
type DPState interface {
	Signature() string
}

// TransitionResult: 有状态特征一次转移的产出。
type TransitionResult struct {
	State DPState
	// Cost: 未加权的转移代价。
	Cost float64
	// FutureCost: 可选的未来代价估计（未加权），仅用于剪枝。
	FutureCost float64
}

// Edge: 超边的只读视图（边感知转移使用）。
type Edge interface {
	Rule() Rule
	TotalCost() float64
	TransitionCost() float64
	Antecedents() int
}

// FeatureFunction: 所有特征的公共面。
// Weight/FeatureID 仅由显式 setter（调参）修改，其余时间视为读多写少。
type FeatureFunction interface {
	Name() string
	Stateful() bool
	Weight() float64
	SetWeight(w float64)
	FeatureID() int
	SetFeatureID(id int)
	// Estimate: 规则的未加权下界代价估计（无上下文）。
	Estimate(r Rule) float64
}

// StatefulFeature: 依赖前件 DP 状态的特征。
// Transition/FinalTransition 为与边无关的形式；需要边上下文的特征
// 另行实现 EdgeTransitioner，由 ff.Transition 统一分派。
type StatefulFeature interface {
	FeatureFunction
	Transition(r Rule, prev []DPState, i, j int) TransitionResult
	FinalTransition(s DPState) float64
}

// EdgeTransitioner: 可选的边感知转移（覆盖默认的“忽略边”行为）。
type EdgeTransitioner interface {
	TransitionEdge(e Edge, r Rule, prev []DPState, i, j int) TransitionResult
	FinalTransitionEdge(e Edge, s DPState) float64
}
