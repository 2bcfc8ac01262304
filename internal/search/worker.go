package search

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"

	"mtdecode/internal/ff"
	"mtdecode/internal/grammar"
	"mtdecode/internal/hypergraph"
	"mtdecode/pkg/contract"
)

// Worker: 单调短语搜索。从左到右以粘合规则 [S] -> [S,1] [X,2] 拼接短语，
// 每个结束位置按签名重组并保留 Beam 个假设。只使用无非终结符的文法规则。
type Worker struct {
	id int
	m  *Model
}

var _ contract.Worker = (*Worker)(nil)

// NewWorker 构造 worker；m 须已 Init。
func NewWorker(id int, m *Model) *Worker { return &Worker{id: id, m: m} }

// Translate 解码一句。
func (w *Worker) Translate(ctx context.Context, s contract.Sentence) (contract.Translation, error) {
	m := w.m
	words := strings.Fields(s.Source)
	tr := contract.Translation{SentenceID: s.ID, Source: s.Source}
	if len(words) == 0 {
		return tr, nil
	}
	if m.Options.MaxLen > 0 && len(words) > m.Options.MaxLen {
		m.Logger.DebugStart("search", "skip long sentence", "", strconv.Itoa(s.ID), map[string]string{
			"words":   strconv.Itoa(len(words)),
			"max_len": strconv.Itoa(m.Options.MaxLen),
			"worker":  strconv.Itoa(w.id),
		})
		return tr, nil
	}
	ids := make([]int, len(words))
	for i, wd := range words {
		ids[i] = m.Vocab.Terminal(wd)
	}

	c := &chart{m: m, g: hypergraph.New(), n: len(ids)}
	c.phrases(ids)
	for j := 1; j <= c.n; j++ {
		if err := ctx.Err(); err != nil {
			return contract.Translation{}, err
		}
		c.extend(j)
	}
	goal := c.finish()
	if goal == nil {
		// 无完整覆盖（不应发生：每个位置至少有 OOV 规则）
		return tr, nil
	}

	tr.Output = m.Vocab.Words(yield(goal))
	tr.Score = -goal.BestCost()
	tr.Features = c.breakdown()
	if m.Options.Posteriors {
		ioc := hypergraph.NewInsideOutside(nil)
		if err := ioc.Run(c.g); err != nil {
			return contract.Translation{}, err
		}
		tr.Posterior = math.Exp(-goal.BestCost() - ioc.LogZ())
	}
	return tr, nil
}

// chart: 单句的搜索图与按结束位置组织的假设栈。
type chart struct {
	m *Model
	g *hypergraph.HyperGraph
	n int
	// spans[i] 以 i 开始的短语节点
	spans [][]*hypergraph.Node
	// stacks[j] 覆盖 [0,j) 的 S 节点（剪枝后）
	stacks [][]*hypergraph.Node
}

// phrases 为每个跨度建立短语节点；没有单词规则的位置补 OOV 规则。
func (c *chart) phrases(ids []int) {
	m := c.m
	beam := m.Options.Beam
	c.spans = make([][]*hypergraph.Node, c.n)
	c.stacks = make([][]*hypergraph.Node, c.n+1)
	for i := 0; i < c.n; i++ {
		byKey := make(map[string]*hypergraph.Node)
		var order []*hypergraph.Node
		covered := false
		for j := i + 1; j <= c.n; j++ {
			for _, g := range m.Grammars {
				if lim := g.SpanLimit(); lim > 0 && j-i > lim {
					continue
				}
				taken := 0
				for _, r := range g.Lookup(ids[i:j]) {
					if r.Arity() != 0 {
						continue
					}
					if taken == beam {
						break
					}
					taken++
					if j == i+1 {
						covered = true
					}
					if n := c.apply(r, nil, i, j, byKey); n != nil {
						order = append(order, n)
					}
				}
			}
			if j == i+1 && !covered {
				r := grammar.NewOOVRule(m.Vocab, ids[i])
				r.EstimateCost(m.Features)
				if n := c.apply(r, nil, i, j, byKey); n != nil {
					order = append(order, n)
				}
			}
		}
		for _, n := range order {
			c.g.Add(n)
		}
		c.spans[i] = order
	}
}

// apply 以规则 r 和前件 ants 构造一条超边并挂到 [i,j) 上同签名的节点。
// 返回新建的节点；已有节点重组时返回 nil。
func (c *chart) apply(r contract.Rule, ants []*hypergraph.Node, i, j int, byKey map[string]*hypergraph.Node) *hypergraph.Node {
	m := c.m
	costs := make([]float64, len(m.Features))
	var trans, inner float64
	for _, a := range ants {
		inner += a.BestCost()
	}
	for _, f := range m.stateless {
		v := f.Estimate(r) * f.Weight()
		costs[f.FeatureID()] = v
		trans += v
	}
	// 边感知特征看到的是尚未计入有状态代价的超边
	probe := hypergraph.NewHyperEdge(r, inner+trans, trans, ants)
	states := make([]contract.DPState, len(m.stateful))
	sig := make([]string, 0, len(m.stateful)+1)
	sig = append(sig, strconv.Itoa(r.LHS())+"@"+strconv.Itoa(i)+":"+strconv.Itoa(j))
	for k, f := range m.stateful {
		prev := make([]contract.DPState, len(ants))
		for a, n := range ants {
			prev[a] = n.States()[k]
		}
		res := ff.Transition(f, probe, r, prev, i, j)
		v := res.Cost * f.Weight()
		costs[f.FeatureID()] += v
		trans += v
		states[k] = res.State
		if res.State != nil {
			sig = append(sig, res.State.Signature())
		} else {
			sig = append(sig, "")
		}
	}
	e := hypergraph.NewHyperEdge(r, inner+trans, trans, ants)
	_ = e.WithModelCosts(costs)

	key := strings.Join(sig, "\x1f")
	if n, ok := byKey[key]; ok {
		n.AddEdge(e)
		return nil
	}
	n := hypergraph.NewNode(r.LHS(), i, j, key, states)
	n.AddEdge(e)
	byKey[key] = n
	return n
}

// extend 构造覆盖 [0,j) 的假设栈：起始粘合 + 拼接粘合，再剪枝并入图。
func (c *chart) extend(j int) {
	glue := c.m.Glue
	byKey := make(map[string]*hypergraph.Node)
	var cands []*hypergraph.Node
	add := func(n *hypergraph.Node) {
		if n != nil {
			cands = append(cands, n)
		}
	}
	for _, x := range c.spans[0] {
		if _, end := x.Span(); end == j {
			add(c.apply(glue.Start, []*hypergraph.Node{x}, 0, j, byKey))
		}
	}
	for i := 1; i < j; i++ {
		for _, s := range c.stacks[i] {
			for _, x := range c.spans[i] {
				if _, end := x.Span(); end == j {
					add(c.apply(glue.Concat, []*hypergraph.Node{s, x}, 0, j, byKey))
				}
			}
		}
	}
	sort.SliceStable(cands, func(a, b int) bool {
		ca, cb := cands[a].BestCost(), cands[b].BestCost()
		if ca != cb {
			return ca < cb
		}
		return cands[a].Signature() < cands[b].Signature()
	})
	if len(cands) > c.m.Options.Beam {
		cands = cands[:c.m.Options.Beam]
	}
	for _, n := range cands {
		c.g.Add(n)
	}
	c.stacks[j] = cands
}

// finish 以末位置的每个假设构造目标节点的入边（规则为空，代价为终结转移）。
func (c *chart) finish() *hypergraph.Node {
	final := c.stacks[c.n]
	if len(final) == 0 {
		return nil
	}
	m := c.m
	goal := hypergraph.NewNode(m.Vocab.Nonterminal(grammar.GoalLabel), 0, c.n, "goal", nil)
	for _, s := range final {
		ants := []*hypergraph.Node{s}
		probe := hypergraph.NewHyperEdge(nil, s.BestCost(), 0, ants)
		costs := make([]float64, len(m.Features))
		var trans float64
		for k, f := range m.stateful {
			v := ff.FinalTransition(f, probe, s.States()[k]) * f.Weight()
			costs[f.FeatureID()] = v
			trans += v
		}
		e := hypergraph.NewHyperEdge(nil, s.BestCost()+trans, trans, ants)
		_ = e.WithModelCosts(costs)
		goal.AddEdge(e)
	}
	c.g.Add(goal)
	c.g.SetGoal(goal)
	return goal
}

// breakdown 汇总最优推导各边的分项代价（特征名 → 加权代价）。
func (c *chart) breakdown() map[string]float64 {
	out := make(map[string]float64, len(c.m.Features))
	for _, f := range c.m.Features {
		out[f.Name()] = 0
	}
	for _, e := range c.g.Viterbi() {
		for id, v := range e.ModelCosts() {
			out[c.m.Features[id].Name()] += v
		}
	}
	return out
}

// yield 沿最优入边展开目标端词序列。
func yield(n *hypergraph.Node) []int {
	e := n.Best()
	if e == nil {
		return nil
	}
	ants := e.AntecedentNodes()
	if e.Rule() == nil {
		var out []int
		for _, a := range ants {
			out = append(out, yield(a)...)
		}
		return out
	}
	var out []int
	for _, t := range e.Rule().Target() {
		if t < 0 {
			if k := -t - 1; k < len(ants) {
				out = append(out, yield(ants[k])...)
			}
			continue
		}
		out = append(out, t)
	}
	return out
}
