package search

import (
	"fmt"

	"mtdecode/internal/diag"
	"mtdecode/internal/ff"
	"mtdecode/internal/grammar"
	"mtdecode/pkg/contract"
)

// DefaultBeam 每个结束位置保留的假设数（以及每个跨度每个文法的候选数）。
const DefaultBeam = 10

// Options 搜索参数。
type Options struct {
	Beam int
	// MaxLen>0 时，超过该词数的句子不搜索，直接产出空译文。
	MaxLen int
	// Posteriors 计算最优推导的后验概率（inside-outside）。
	Posteriors bool
}

// Model: 进程级只读解码资源，构造一次后由全部 worker 共享。
// 权重变化后调用 Reestimate；解码期间可并发调用。
type Model struct {
	Vocab    *grammar.Vocabulary
	Weights  *ff.FeatureVector
	Grammars []*grammar.Grammar
	Glue     *grammar.Glue
	Features []contract.FeatureFunction
	Options  Options
	Logger   *diag.Logger

	stateless []contract.FeatureFunction
	stateful  []contract.StatefulFeature
}

// Init 校验并准备模型：分配特征 ID、应用权重、按当前权重排序文法。
func (m *Model) Init() error {
	if m.Vocab == nil {
		return fmt.Errorf("search: nil vocabulary: %w", contract.ErrInvalidInput)
	}
	if m.Weights == nil {
		m.Weights = ff.NewFeatureVector(nil)
	}
	if m.Glue == nil {
		m.Glue = grammar.NewGlue(m.Vocab)
	}
	if m.Options.Beam <= 0 {
		m.Options.Beam = DefaultBeam
	}
	seen := make(map[string]bool, len(m.Features))
	for _, f := range m.Features {
		if seen[f.Name()] {
			return fmt.Errorf("search: duplicate feature %q: %w", f.Name(), contract.ErrInvalidInput)
		}
		seen[f.Name()] = true
	}
	ff.AssignIDs(m.Features)
	m.stateless, m.stateful = ff.Split(m.Features)
	m.Reestimate()
	return nil
}

// Reestimate 以权重表覆盖特征权重并重估/重排全部文法。
func (m *Model) Reestimate() {
	ff.ApplyWeights(m.Features, m.Weights)
	for _, g := range m.Grammars {
		g.Sort(m.Features)
	}
	m.Glue.Grammar.Sort(m.Features)
}

// Describe 列出特征名与当前权重（按配置顺序）。
func (m *Model) Describe() []string {
	out := make([]string, 0, len(m.Features))
	for _, f := range m.Features {
		out = append(out, fmt.Sprintf("%s %g", f.Name(), f.Weight()))
	}
	return out
}

// NewWorkers 构造 n 个共享本模型的 worker。
func (m *Model) NewWorkers(n int) []contract.Worker {
	out := make([]contract.Worker, n)
	for i := range out {
		out[i] = &Worker{id: i, m: m}
	}
	return out
}
