package ff

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"mtdecode/pkg/contract"
)

const (
	BOS = "<s>"
	EOS = "</s>"
	// DefaultFloor 未登录词的代价下限（log10 单位）。
	DefaultFloor = 10.0
)

// Symbols: 语言模型所需的词表最小接口（终结符 ID 为正）。
type Symbols interface {
	Terminal(word string) int
}

type bigramKey struct{ a, b int }

// lmState: 目标串的首词与末词（0 表示空串）。
type lmState struct{ first, last int }

func (s lmState) Signature() string { return strconv.Itoa(s.first) + "|" + strconv.Itoa(s.last) }

// LanguageModel: 有状态二元语言模型（ARPA 文本，仅读取 1/2-gram）。
// 代价 = -log10 概率；缺失的二元组走回退，缺失的一元组取 floor。
type LanguageModel struct {
	StatefulBase
	uni     map[int]float64
	backoff map[int]float64
	bi      map[bigramKey]float64
	floor   float64
	bos     int
	eos     int
}

var _ contract.StatefulFeature = (*LanguageModel)(nil)

// NewLanguageModel 构造空模型（floor<=0 时取默认）。
func NewLanguageModel(syms Symbols, weight, floor float64) *LanguageModel {
	if floor <= 0 {
		floor = DefaultFloor
	}
	m := &LanguageModel{
		uni:     make(map[int]float64),
		backoff: make(map[int]float64),
		bi:      make(map[bigramKey]float64),
		floor:   floor,
		bos:     syms.Terminal(BOS),
		eos:     syms.Terminal(EOS),
	}
	m.Init("lm", weight)
	return m
}

// LoadARPA 读取 ARPA 文本的 \1-grams: 与 \2-grams: 段。
func (m *LanguageModel) LoadARPA(r io.Reader, syms Symbols) error {
	sc := bufio.NewScanner(r)
	order := 0
	ln := 0
	for sc.Scan() {
		ln++
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "" || strings.HasPrefix(line, "ngram "):
			continue
		case line == `\data\` || line == `\end\`:
			order = 0
			continue
		case strings.HasPrefix(line, `\`) && strings.HasSuffix(line, "-grams:"):
			n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(line, `\`), "-grams:"))
			if err != nil {
				return fmt.Errorf("lm line %d: %w", ln, contract.ErrInvalidInput)
			}
			order = n
			continue
		}
		if order < 1 || order > 2 {
			continue
		}
		f := strings.Fields(line)
		if len(f) < order+1 {
			return fmt.Errorf("lm line %d: short entry: %w", ln, contract.ErrInvalidInput)
		}
		lp, err := strconv.ParseFloat(f[0], 64)
		if err != nil {
			return fmt.Errorf("lm line %d: bad logprob %q: %w", ln, f[0], contract.ErrInvalidInput)
		}
		if order == 1 {
			w := syms.Terminal(f[1])
			m.uni[w] = -lp
			if len(f) > 2 {
				bo, err := strconv.ParseFloat(f[2], 64)
				if err != nil {
					return fmt.Errorf("lm line %d: bad backoff %q: %w", ln, f[2], contract.ErrInvalidInput)
				}
				m.backoff[w] = -bo
			}
			continue
		}
		m.bi[bigramKey{syms.Terminal(f[1]), syms.Terminal(f[2])}] = -lp
	}
	return sc.Err()
}

// LoadARPAFile 打开并读取。
func (m *LanguageModel) LoadARPAFile(path string, syms Symbols) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return m.LoadARPA(f, syms)
}

func (m *LanguageModel) unigram(w int) float64 {
	if c, ok := m.uni[w]; ok {
		return c
	}
	return m.floor
}

func (m *LanguageModel) bigram(a, b int) float64 {
	if c, ok := m.bi[bigramKey{a, b}]; ok {
		return c
	}
	return m.backoff[a] + m.unigram(b)
}

// Estimate 目标端终结符的一元代价之和。
func (m *LanguageModel) Estimate(r contract.Rule) float64 {
	var sum float64
	for _, t := range r.Target() {
		if t > 0 {
			sum += m.unigram(t)
		}
	}
	return sum
}

// Transition 拼接目标串：新出现的词按二元计分；前件首词此前按一元计分，
// 在拼接边界处以二元代价替换。
func (m *LanguageModel) Transition(r contract.Rule, prev []contract.DPState, _, _ int) contract.TransitionResult {
	var st lmState
	var cost float64
	for _, t := range r.Target() {
		if t < 0 {
			k := -t - 1
			if k >= len(prev) {
				continue
			}
			sub, _ := prev[k].(lmState)
			if sub.first == 0 {
				continue
			}
			if st.last != 0 {
				cost += m.bigram(st.last, sub.first) - m.unigram(sub.first)
			}
			if st.first == 0 {
				st.first = sub.first
			}
			st.last = sub.last
			continue
		}
		if st.last == 0 {
			cost += m.unigram(t)
		} else {
			cost += m.bigram(st.last, t)
		}
		if st.first == 0 {
			st.first = t
		}
		st.last = t
	}
	return contract.TransitionResult{State: st, Cost: cost}
}

// FinalTransition 补上句首/句尾标记。
func (m *LanguageModel) FinalTransition(s contract.DPState) float64 {
	st, _ := s.(lmState)
	if st.first == 0 {
		return m.bigram(m.bos, m.eos)
	}
	return m.bigram(m.bos, st.first) - m.unigram(st.first) + m.bigram(st.last, m.eos)
}
