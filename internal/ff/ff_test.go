package ff

import (
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mtdecode/internal/grammar"
	"mtdecode/pkg/contract"
)

// probe: 记录调用了哪一种转移形式。
type probe struct {
	StatefulBase
	calls []string
}

func (p *probe) Estimate(contract.Rule) float64 { return 0 }
func (p *probe) Transition(contract.Rule, []contract.DPState, int, int) contract.TransitionResult {
	p.calls = append(p.calls, "plain")
	return contract.TransitionResult{State: edgeState{}}
}
func (p *probe) FinalTransition(contract.DPState) float64 {
	p.calls = append(p.calls, "final")
	return 0
}

type edgeProbe struct{ probe }

func (p *edgeProbe) TransitionEdge(contract.Edge, contract.Rule, []contract.DPState, int, int) contract.TransitionResult {
	p.calls = append(p.calls, "edge")
	return contract.TransitionResult{State: edgeState{}}
}
func (p *edgeProbe) FinalTransitionEdge(contract.Edge, contract.DPState) float64 {
	p.calls = append(p.calls, "final-edge")
	return 0
}

type fakeEdge struct {
	r    contract.Rule
	ants int
}

func (e fakeEdge) Rule() contract.Rule { return e.r }
func (e fakeEdge) TotalCost() float64 { return 0 }
func (e fakeEdge) TransitionCost() float64 { return 0 }
func (e fakeEdge) Antecedents() int { return e.ants }

func TestTransitionDispatch(t *testing.T) {
	r := grammar.NewRule(1, -1, []int{1}, []int{1}, nil, 1)
	e := fakeEdge{r: r}

	plain := &probe{}
	plain.Init("p", 1)
	Transition(plain, e, r, nil, 0, 1)
	FinalTransition(plain, e, edgeState{})
	assert.Equal(t, []string{"plain", "final"}, plain.calls, "未实现边感知时退回无边形式")

	ep := &edgeProbe{}
	ep.Init("e", 1)
	Transition(ep, e, r, nil, 0, 1)
	FinalTransition(ep, e, edgeState{})
	Transition(ep, nil, r, nil, 0, 1)
	assert.Equal(t, []string{"edge", "final-edge", "plain"}, ep.calls)
}

func TestBaseSetters(t *testing.T) {
	f := NewEdgeLength(0.5)
	assert.True(t, f.Stateful())
	assert.Equal(t, -1, f.FeatureID())
	f.SetFeatureID(3)
	f.SetWeight(2)
	assert.Equal(t, 3, f.FeatureID())
	assert.Equal(t, 2.0, f.Weight())
	assert.False(t, NewWordPenalty(1).Stateful())
}

func TestSplitAssignApply(t *testing.T) {
	wp := NewWordPenalty(1)
	el := NewEdgeLength(1)
	fs := []contract.FeatureFunction{wp, el}
	AssignIDs(fs)
	assert.Equal(t, 0, wp.FeatureID())
	assert.Equal(t, 1, el.FeatureID())

	sl, sf := Split(fs)
	require.Len(t, sl, 1)
	require.Len(t, sf, 1)
	assert.Same(t, el, sf[0].(*EdgeLength))

	v := NewFeatureVector(map[string]float64{"word_penalty": -2.5})
	assert.Equal(t, 1, ApplyWeights(fs, v))
	assert.Equal(t, -2.5, wp.Weight())
	assert.Equal(t, 1.0, el.Weight())
}

func TestFeatureVectorConcurrent(t *testing.T) {
	v := NewFeatureVector(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v.Set(DenseName("pt", i), float64(i))
			_ = v.Value("lm")
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 8, v.Len())
	assert.Equal(t, 3.0, v.Value("tm_pt_3"))
	assert.Equal(t, 1, v.Update(map[string]float64{"tm_pt_3": 3, "tm_pt_4": 5}))
	assert.Len(t, v.Names(), 8)
	assert.Equal(t, 5.0, v.Snapshot()["tm_pt_4"])
}

func TestPhraseModelAndPenalties(t *testing.T) {
	voc := grammar.NewVocabulary()
	pt := voc.Owner("pt")
	vec := NewFeatureVector(map[string]float64{"tm_pt_0": 1, "tm_pt_1": 0.5})
	tm := NewPhraseModel("pt", pt, vec)
	r := grammar.NewRule(1, -1, []int{1}, []int{voc.Terminal("a"), voc.Terminal("b")}, []float64{2, 4}, pt)
	assert.Equal(t, 4.0, tm.Estimate(r))
	assert.Equal(t, 1.0, tm.Weight())
	vec.Set("tm_pt_1", 1)
	assert.Equal(t, 6.0, tm.Estimate(r), "列权重即时生效")

	other := grammar.NewRule(2, -1, []int{1}, []int{1}, []float64{9}, voc.Owner("x"))
	assert.Equal(t, 0.0, tm.Estimate(other))

	wp := NewWordPenalty(1)
	assert.InDelta(t, 2*omega, wp.Estimate(r), 1e-12)

	oov := NewOOVPenalty(100, voc.Owner(grammar.OwnerOOV))
	assert.Equal(t, 1.0, oov.Estimate(grammar.NewOOVRule(voc, voc.Terminal("q"))))
	assert.Equal(t, 0.0, oov.Estimate(r))
}

const arpa = `\data\
ngram 1=4
ngram 2=2

\1-grams:
-1.0 <s> -0.5
-1.0 </s>
-0.5 the -0.3
-0.7 house

\2-grams:
-0.2 <s> the
-0.1 the house

\end\
`

func TestLanguageModel(t *testing.T) {
	voc := grammar.NewVocabulary()
	lm := NewLanguageModel(voc, 1, 0)
	require.NoError(t, lm.LoadARPA(strings.NewReader(arpa), voc))
	the, house := voc.Terminal("the"), voc.Terminal("house")

	r1 := grammar.NewRule(1, -1, []int{1}, []int{the}, nil, 1)
	r2 := grammar.NewRule(2, -1, []int{2}, []int{house}, nil, 1)
	glue := grammar.NewRule(3, -2, []int{-2, -1}, []int{-1, -2}, nil, 2)

	s1 := lm.Transition(r1, nil, 0, 1)
	s2 := lm.Transition(r2, nil, 1, 2)
	assert.InDelta(t, 0.5, s1.Cost, 1e-12)
	assert.InDelta(t, 0.7, s2.Cost, 1e-12)

	joined := lm.Transition(glue, []contract.DPState{s1.State, s2.State}, 0, 2)
	assert.InDelta(t, 0.1-0.7, joined.Cost, 1e-12, "边界处以二元代价替换一元代价")
	assert.Equal(t, lmState{the, house}.Signature(), joined.State.Signature())

	final := lm.FinalTransition(joined.State)
	// <s> the 二元 0.2 - the 一元 0.5 + house </s> 回退 0 + </s> 一元 1.0
	assert.InDelta(t, 0.2-0.5+1.0, final, 1e-12)

	unk := voc.Terminal("zzz")
	assert.Equal(t, DefaultFloor, lm.Estimate(grammar.NewRule(4, -1, []int{unk}, []int{unk}, nil, 1)))
	assert.InDelta(t, 0.3+DefaultFloor, lm.bigram(the, unk), 1e-12)
	assert.False(t, math.IsNaN(lm.FinalTransition(lmState{})))
}

func TestLanguageModelBadInput(t *testing.T) {
	voc := grammar.NewVocabulary()
	lm := NewLanguageModel(voc, 1, 5)
	err := lm.LoadARPA(strings.NewReader("\\1-grams:\nxx the\n"), voc)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

func TestEdgeLength(t *testing.T) {
	f := NewEdgeLength(1)
	leaf := grammar.NewRule(1, -1, []int{1, 2}, []int{1}, nil, 1)
	glue := grammar.NewRule(2, -2, []int{-2, -1}, []int{-1, -2}, nil, 2)
	assert.Equal(t, 2.0, Transition(f, fakeEdge{r: leaf}, leaf, nil, 3, 5).Cost)
	assert.Equal(t, 0.0, Transition(f, fakeEdge{r: glue, ants: 2}, glue, nil, 0, 5).Cost)
	assert.Equal(t, 2.0, Transition(f, nil, leaf, nil, 3, 5).Cost)
	assert.Equal(t, 0.0, FinalTransition(f, nil, edgeState{}))
}

func TestParseArgs(t *testing.T) {
	a, err := ParseArgs([]string{"-path", "lm.arpa", "-floor", "-3.5", "-verbose"})
	require.NoError(t, err)
	assert.Equal(t, "lm.arpa", a.String("path", ""))
	fl, err := a.Float("floor", 0)
	require.NoError(t, err)
	assert.Equal(t, -3.5, fl)
	assert.Equal(t, "true", a["verbose"])
	d, err := a.Float("missing", 7)
	require.NoError(t, err)
	assert.Equal(t, 7.0, d)

	_, err = ParseArgs([]string{"path"})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	_, err = Args{"x": "abc"}.Float("x", 0)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}
