package grammar

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"mtdecode/pkg/contract"
)

// Load 解析文本文法：每行 `[LHS] ||| 源端 ||| 目标端 ||| 分数...`。
// 非终结符槽位写作 `[X,1]`；空行与 # 开头的行忽略。
func Load(r io.Reader, v *Vocabulary, owner string, spanLimit int) (*Grammar, error) {
	g := New(v, owner, spanLimit)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	ln := 0
	for sc.Scan() {
		ln++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rule, err := parseRule(line, v, g.Owner())
		if err != nil {
			return nil, fmt.Errorf("grammar %s line %d: %w", owner, ln, err)
		}
		if err := g.Add(rule); err != nil {
			return nil, fmt.Errorf("line %d: %w", ln, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("grammar %s: %w", owner, err)
	}
	return g, nil
}

// LoadFile 打开并解析文法文件。
func LoadFile(path string, v *Vocabulary, owner string, spanLimit int) (*Grammar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f, v, owner, spanLimit)
}

func parseRule(line string, v *Vocabulary, owner int) (*Rule, error) {
	fields := strings.Split(line, "|||")
	if len(fields) != 4 {
		return nil, fmt.Errorf("want 4 fields, got %d: %w", len(fields), contract.ErrInvalidInput)
	}
	lhsTok := strings.TrimSpace(fields[0])
	if !isBracketed(lhsTok) {
		return nil, fmt.Errorf("bad lhs %q: %w", lhsTok, contract.ErrInvalidInput)
	}
	lhs := v.Nonterminal(lhsTok)

	var src []int
	slots := 0
	for _, tok := range strings.Fields(fields[1]) {
		if label, _, ok := parseSlot(tok); ok {
			src = append(src, v.Nonterminal(label))
			slots++
			continue
		}
		src = append(src, v.Terminal(tok))
	}
	if len(src) == 0 {
		return nil, fmt.Errorf("empty source: %w", contract.ErrInvalidInput)
	}

	var tgt []int
	for _, tok := range strings.Fields(fields[2]) {
		if _, k, ok := parseSlot(tok); ok {
			if k < 1 || k > slots {
				return nil, fmt.Errorf("target slot %d out of range: %w", k, contract.ErrInvalidInput)
			}
			tgt = append(tgt, -k)
			continue
		}
		tgt = append(tgt, v.Terminal(tok))
	}

	var scores []float64
	for _, tok := range strings.Fields(fields[3]) {
		f, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, fmt.Errorf("bad score %q: %w", tok, contract.ErrInvalidInput)
		}
		scores = append(scores, f)
	}
	return NewRule(v.NextRuleID(), lhs, src, tgt, scores, owner), nil
}

func isBracketed(tok string) bool {
	return len(tok) > 2 && tok[0] == '[' && tok[len(tok)-1] == ']'
}

// parseSlot 解析 `[X,1]`，返回标签与槽位序号。
func parseSlot(tok string) (string, int, bool) {
	if !isBracketed(tok) {
		return "", 0, false
	}
	label, num, ok := strings.Cut(tok[1:len(tok)-1], ",")
	if !ok || label == "" {
		return "", 0, false
	}
	k, err := strconv.Atoi(num)
	if err != nil {
		return "", 0, false
	}
	return label, k, true
}
