package grammar

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"mtdecode/pkg/contract"
)

const (
	// GoalLabel 目标非终结符；PhraseLabel 短语非终结符。
	GoalLabel   = "S"
	PhraseLabel = "X"
	// OwnerGlue/OwnerOOV 内置 owner 名称。
	OwnerGlue = "glue"
	OwnerOOV  = "oov"
)

// Grammar: 单一 owner 的规则集合，按源端短语索引。
// 加载完成后规则集合不变；Sort 可在解码期间重排候选（读者看到整体替换的切片）。
type Grammar struct {
	name        string
	owner       int
	spanLimit   int
	numFeatures int

	mu    sync.RWMutex
	rules []*Rule
	index map[string][]*Rule
}

// New 构造空文法；spanLimit<=0 表示不限制。
func New(v *Vocabulary, owner string, spanLimit int) *Grammar {
	return &Grammar{
		name:        owner,
		owner:       v.Owner(owner),
		spanLimit:   spanLimit,
		numFeatures: -1,
		index:       make(map[string][]*Rule),
	}
}

func (g *Grammar) OwnerName() string { return g.name }
func (g *Grammar) Owner() int { return g.owner }
func (g *Grammar) SpanLimit() int { return g.spanLimit }

// NumFeatures 返回列数（空文法为 0）。
func (g *Grammar) NumFeatures() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.numFeatures < 0 {
		return 0
	}
	return g.numFeatures
}

// Add 追加规则：owner 必须一致，同一文法内列数一致。
func (g *Grammar) Add(r *Rule) error {
	if r.Owner() != g.owner {
		return fmt.Errorf("grammar %s: rule %d owner %d: %w", g.name, r.ID(), r.Owner(), contract.ErrInvalidInput)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.numFeatures >= 0 && r.NumFeatures() != g.numFeatures {
		return fmt.Errorf("grammar %s: rule %d has %d scores, want %d: %w",
			g.name, r.ID(), r.NumFeatures(), g.numFeatures, contract.ErrInvalidInput)
	}
	g.numFeatures = r.NumFeatures()
	g.rules = append(g.rules, r)
	k := phraseKey(r.Source())
	g.index[k] = append(g.index[k], r)
	return nil
}

// Len 规则数。
func (g *Grammar) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rules)
}

// Rules 返回规则快照。
func (g *Grammar) Rules() []*Rule {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]*Rule(nil), g.rules...)
}

// Lookup 返回源端恰为 src 的候选（按估计代价升序，需先 Sort）。返回切片只读。
func (g *Grammar) Lookup(src []int) []*Rule {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.index[phraseKey(src)]
}

// Sort 以当前权重重估每条规则，再按估计代价升序重排候选。
// 权重变化（调参/热加载）后调用。
func (g *Grammar) Sort(features []contract.FeatureFunction) {
	rules := g.Rules()
	for _, r := range rules {
		r.EstimateCost(features)
	}
	idx := make(map[string][]*Rule)
	for _, r := range rules {
		k := phraseKey(r.Source())
		idx[k] = append(idx[k], r)
	}
	for _, cands := range idx {
		sort.SliceStable(cands, func(i, j int) bool {
			return cands[i].EstimatedCost() < cands[j].EstimatedCost()
		})
	}
	g.mu.Lock()
	g.index = idx
	g.mu.Unlock()
}

func phraseKey(src []int) string {
	var b strings.Builder
	for i, s := range src {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(s))
	}
	return b.String()
}

// Glue: 单调拼接所需的两条粘合规则。
//   Start:  [S] -> [X,1]        / [1]
//   Concat: [S] -> [S,1] [X,2]  / [1] [2]
type Glue struct {
	Start   *Rule
	Concat  *Rule
	Grammar *Grammar
}

// NewGlue 构造粘合文法（owner = glue，单列分数 0）。
func NewGlue(v *Vocabulary) *Glue {
	g := New(v, OwnerGlue, 0)
	s, x := v.Nonterminal(GoalLabel), v.Nonterminal(PhraseLabel)
	start := NewRule(v.NextRuleID(), s, []int{x}, []int{-1}, []float64{0}, g.Owner())
	concat := NewRule(v.NextRuleID(), s, []int{s, x}, []int{-1, -2}, []float64{0}, g.Owner())
	_ = g.Add(start)
	_ = g.Add(concat)
	return &Glue{Start: start, Concat: concat, Grammar: g}
}

// NewOOVRule 为未登录词合成直通规则（owner = oov，无分数列）。
func NewOOVRule(v *Vocabulary, word int) *Rule {
	return NewRule(v.NextRuleID(), v.Nonterminal(PhraseLabel), []int{word}, []int{word}, nil, v.Owner(OwnerOOV))
}
