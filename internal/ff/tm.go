package ff

import "mtdecode/pkg/contract"

// PhraseModel: 文法分数列的线性组合（每个 owner 一个实例）。
// 列权重取自 FeatureVector 的 tm_<owner>_<列>，热加载后即时生效；
// 自身权重作为整体缩放，默认 1。
type PhraseModel struct {
	Base
	owner     int
	ownerName string
	vec       *FeatureVector
}

// NewPhraseModel 构造 owner 的短语模型。
func NewPhraseModel(ownerName string, owner int, vec *FeatureVector) *PhraseModel {
	m := &PhraseModel{owner: owner, ownerName: ownerName, vec: vec}
	m.Init("tm_"+ownerName, 1)
	return m
}

func (m *PhraseModel) Owner() int { return m.owner }

// Estimate 非本 owner 的规则返回 0。
func (m *PhraseModel) Estimate(r contract.Rule) float64 {
	if r.Owner() != m.owner {
		return 0
	}
	var sum float64
	for i := 0; i < r.NumFeatures(); i++ {
		sum += r.FeatureScore(i) * m.vec.Value(DenseName(m.ownerName, i))
	}
	return sum
}
