package grammar

import (
	"fmt"
	"math"
	"strings"
	"sync/atomic"

	"mtdecode/pkg/contract"
)

// cell: 以 float64 位模式存放的原子数值单元。
type cell struct{ bits atomic.Uint64 }

func (c *cell) Load() float64 { return math.Float64frombits(c.bits.Load()) }
func (c *cell) Store(v float64) { c.bits.Store(math.Float64bits(v)) }

// Add 原子读-改-写，返回新值。
func (c *cell) Add(d float64) float64 {
	for {
		old := c.bits.Load()
		nv := math.Float64frombits(old) + d
		if c.bits.CompareAndSwap(old, math.Float64bits(nv)) {
			return nv
		}
	}
}

// display 缓存项：version 与写入计数对齐时有效。
type display struct {
	version uint64
	text    string
}

// Rule: 文法规则。形状（LHS/源端/目标端/元数/owner/列数）构造后不变；
// 特征分数按列独立原子读写；估计代价为原子单元，仅对计算时的权重有效。
type Rule struct {
	id     int
	lhs    int
	source []int
	target []int
	arity  int
	owner  int

	scores  []cell
	lattice cell
	est     cell

	writes atomic.Uint64
	cached atomic.Pointer[display]
}

var _ contract.Rule = (*Rule)(nil)

// NewRule 构造规则；元数取源端非终结符个数。
func NewRule(id, lhs int, source, target []int, scores []float64, owner int) *Rule {
	r := &Rule{
		id:     id,
		lhs:    lhs,
		source: append([]int(nil), source...),
		target: append([]int(nil), target...),
		owner:  owner,
		scores: make([]cell, len(scores)),
	}
	for _, s := range source {
		if IsNonterminal(s) {
			r.arity++
		}
	}
	for i, s := range scores {
		r.scores[i].Store(s)
	}
	return r
}

func (r *Rule) ID() int { return r.id }
func (r *Rule) LHS() int { return r.lhs }
func (r *Rule) Arity() int { return r.arity }
func (r *Rule) Owner() int { return r.owner }

// Source/Target 返回内部切片，调用方只读。
func (r *Rule) Source() []int { return r.source }
func (r *Rule) Target() []int { return r.target }

func (r *Rule) NumFeatures() int { return len(r.scores) }

// FeatureScore 原子读取一列。
func (r *Rule) FeatureScore(column int) float64 { return r.scores[column].Load() }

// IncrementFeatureScore 原子累加一列并返回新值（并发累加不丢失更新）。
func (r *Rule) IncrementFeatureScore(column int, delta float64) float64 {
	v := r.scores[column].Add(delta)
	r.invalidate()
	return v
}

// SetFeatureScore 原子覆盖一列。
func (r *Rule) SetFeatureScore(column int, v float64) {
	r.scores[column].Store(v)
	r.invalidate()
}

// FeatureScores 返回各列快照（列间无事务一致性）。
func (r *Rule) FeatureScores() []float64 {
	out := make([]float64, len(r.scores))
	for i := range r.scores {
		out[i] = r.scores[i].Load()
	}
	return out
}

func (r *Rule) LatticeCost() float64 { return r.lattice.Load() }

func (r *Rule) SetLatticeCost(c float64) { r.lattice.Store(c) }

// EstimatedCost 返回最近一次 EstimateCost 缓存的值（未估计时为 0）。
func (r *Rule) EstimatedCost() float64 { return r.est.Load() }

// EstimateCost 以当前权重累加 Σ f.Estimate(r)*f.Weight() 并覆盖缓存。
// features 为 nil 时返回 0 且不触碰缓存。权重变化后必须重新调用。
func (r *Rule) EstimateCost(features []contract.FeatureFunction) float64 {
	if features == nil {
		return 0
	}
	var sum float64
	for _, f := range features {
		sum += f.Estimate(r) * f.Weight()
	}
	r.est.Store(sum)
	return sum
}

func (r *Rule) invalidate() { r.writes.Add(1) }

// String 整数形式：`lhs ||| [src...] ||| s0 s1 ...`；写入特征分数后缓存失效。
func (r *Rule) String() string {
	v := r.writes.Load()
	if d := r.cached.Load(); d != nil && d.version == v {
		return d.text
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d ||| %v |||", r.lhs, r.source)
	for i := range r.scores {
		fmt.Fprintf(&b, " %.4f", r.scores[i].Load())
	}
	s := b.String()
	r.cached.Store(&display{version: v, text: s})
	return s
}

// Format 以符号表渲染（不缓存），用于日志与 show-weights。
func (r *Rule) Format(v *Vocabulary) string {
	var b strings.Builder
	b.WriteString(v.Word(r.lhs))
	b.WriteString(" ||| ")
	b.WriteString(v.Words(r.source))
	b.WriteString(" ||| ")
	for i, t := range r.target {
		if i > 0 {
			b.WriteByte(' ')
		}
		if t < 0 {
			fmt.Fprintf(&b, "[%d]", -t)
			continue
		}
		b.WriteString(v.Word(t))
	}
	b.WriteString(" |||")
	for i := range r.scores {
		fmt.Fprintf(&b, " %g", r.scores[i].Load())
	}
	return b.String()
}
