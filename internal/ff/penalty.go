package ff

import (
	"math"

	"mtdecode/pkg/contract"
)

// omega: 每个目标词的对数代价单位（-log10 e）。
var omega = -math.Log10(math.E)

// WordPenalty: 按目标端终结符个数计代价（无状态）。
type WordPenalty struct{ Base }

// NewWordPenalty 构造。
func NewWordPenalty(weight float64) *WordPenalty {
	f := &WordPenalty{}
	f.Init("word_penalty", weight)
	return f
}

func (f *WordPenalty) Estimate(r contract.Rule) float64 {
	n := 0
	for _, t := range r.Target() {
		if t > 0 {
			n++
		}
	}
	return omega * float64(n)
}

// OOVPenalty: 合成的未登录词规则计 1（无状态）。
type OOVPenalty struct {
	Base
	owner int
}

// NewOOVPenalty 构造；owner 为 oov 规则的 owner 编号。
func NewOOVPenalty(weight float64, owner int) *OOVPenalty {
	f := &OOVPenalty{owner: owner}
	f.Init("oov_penalty", weight)
	return f
}

func (f *OOVPenalty) Estimate(r contract.Rule) float64 {
	if r.Owner() == f.owner {
		return 1
	}
	return 0
}
