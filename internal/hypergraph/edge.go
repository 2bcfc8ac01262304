package hypergraph

import (
	"fmt"
	"math"

	"mtdecode/pkg/contract"
)

// costTolerance 分项代价之和与转移代价允许的浮点误差（相对）。
const costTolerance = 1e-9

// HyperEdge: 搜索图的超边。TotalCost 含前件最优代价；TransitionCost 仅本边；
// 可选的分项代价（按特征 ID 排列，已加权）只用于诊断/重打分，之和必须等于 TransitionCost。
type HyperEdge struct {
	rule       contract.Rule
	totalCost  float64
	transCost  float64
	ants       []*Node
	modelCosts []float64
}

var _ contract.Edge = (*HyperEdge)(nil)

// NewHyperEdge 构造超边；ants 按规则非终结符槽位顺序排列。
func NewHyperEdge(r contract.Rule, totalCost, transitionCost float64, ants []*Node) *HyperEdge {
	return &HyperEdge{rule: r, totalCost: totalCost, transCost: transitionCost, ants: ants}
}

func (e *HyperEdge) Rule() contract.Rule { return e.rule }
func (e *HyperEdge) TotalCost() float64 { return e.totalCost }
func (e *HyperEdge) TransitionCost() float64 { return e.transCost }
func (e *HyperEdge) Antecedents() int { return len(e.ants) }
func (e *HyperEdge) AntecedentNodes() []*Node { return e.ants }

// WithModelCosts 附加分项代价，不改变两项标量代价。
// 分项之和与转移代价不一致时返回 ErrInvariantViolation 且不附加。
func (e *HyperEdge) WithModelCosts(costs []float64) error {
	var sum float64
	for _, c := range costs {
		sum += c
	}
	if math.Abs(sum-e.transCost) > costTolerance*math.Max(1, math.Abs(e.transCost)) {
		return fmt.Errorf("model costs sum %.6f != transition cost %.6f: %w", sum, e.transCost, contract.ErrInvariantViolation)
	}
	e.modelCosts = append([]float64(nil), costs...)
	return nil
}

// ModelCosts 返回分项代价拷贝；未附加时为 nil。
func (e *HyperEdge) ModelCosts() []float64 {
	if e.modelCosts == nil {
		return nil
	}
	return append([]float64(nil), e.modelCosts...)
}
