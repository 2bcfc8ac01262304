package ff

import "mtdecode/pkg/contract"

// Transition 边感知转移：特征实现了 EdgeTransitioner 且 e 非空时走边感知形式，
// 否则退回与边无关的 Transition。
func Transition(f contract.StatefulFeature, e contract.Edge, r contract.Rule, prev []contract.DPState, i, j int) contract.TransitionResult {
	if et, ok := f.(contract.EdgeTransitioner); ok && e != nil {
		return et.TransitionEdge(e, r, prev, i, j)
	}
	return f.Transition(r, prev, i, j)
}

// FinalTransition 同上，用于推导完成时。
func FinalTransition(f contract.StatefulFeature, e contract.Edge, s contract.DPState) float64 {
	if et, ok := f.(contract.EdgeTransitioner); ok && e != nil {
		return et.FinalTransitionEdge(e, s)
	}
	return f.FinalTransition(s)
}

// Split 按形态拆分特征集（保持相对顺序）。
func Split(features []contract.FeatureFunction) (stateless []contract.FeatureFunction, stateful []contract.StatefulFeature) {
	for _, f := range features {
		if sf, ok := f.(contract.StatefulFeature); ok && f.Stateful() {
			stateful = append(stateful, sf)
			continue
		}
		stateless = append(stateless, f)
	}
	return stateless, stateful
}

// AssignIDs 按配置顺序为特征分配唯一 ID（0 起）。
func AssignIDs(features []contract.FeatureFunction) {
	for i, f := range features {
		f.SetFeatureID(i)
	}
}

// ApplyWeights 以权重表覆盖同名特征的权重，返回被更新的特征数。
// 不在表中的特征保持原值。
func ApplyWeights(features []contract.FeatureFunction, v *FeatureVector) int {
	n := 0
	for _, f := range features {
		if w, ok := v.Get(f.Name()); ok {
			f.SetWeight(w)
			n++
		}
	}
	return n
}
