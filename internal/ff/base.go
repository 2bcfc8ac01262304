package ff

import (
	"math"
	"sync/atomic"
)

// Base: 特征的公共字段（名称、权重、特征 ID）。
// 权重与 ID 只经 setter 修改（调参时），其余时间只读；以原子单元存放。
type Base struct {
	name   string
	weight atomic.Uint64
	id     atomic.Int64
}

// Init 设置名称与初始权重；ID 初始为 -1（未分配）。嵌入者构造时调用一次。
func (b *Base) Init(name string, weight float64) {
	b.name = name
	b.weight.Store(math.Float64bits(weight))
	b.id.Store(-1)
}

func (b *Base) Name() string { return b.name }
func (b *Base) Stateful() bool { return false }
func (b *Base) Weight() float64 { return math.Float64frombits(b.weight.Load()) }
func (b *Base) SetWeight(w float64) { b.weight.Store(math.Float64bits(w)) }
func (b *Base) FeatureID() int { return int(b.id.Load()) }
func (b *Base) SetFeatureID(id int) { b.id.Store(int64(id)) }

// StatefulBase: 有状态特征的公共部分，Stateful 恒为 true。
// 嵌入者只需实现 Estimate / Transition / FinalTransition；
// 需要边上下文时额外实现 contract.EdgeTransitioner。
type StatefulBase struct{ Base }

func (s *StatefulBase) Stateful() bool { return true }
