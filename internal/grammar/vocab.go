package grammar

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Vocabulary: 进程级符号表（初始化时构建一次，按引用传入各组件）。
// 约定：终结符 ID 为正（1 起）；非终结符 ID 为负（-1 起）；owner 另有独立编号（1 起）。
type Vocabulary struct {
	mu       sync.RWMutex
	words    map[string]int
	wordList []string // 下标 = ID-1
	nts      map[string]int
	ntList   []string // 下标 = -ID-1
	owners   map[string]int
	ownList  []string

	ruleSeq atomic.Int64
}

// NewVocabulary 构造空符号表。
func NewVocabulary() *Vocabulary {
	return &Vocabulary{
		words:  make(map[string]int),
		nts:    make(map[string]int),
		owners: make(map[string]int),
	}
}

// Terminal 返回词的 ID，不存在则分配。
func (v *Vocabulary) Terminal(word string) int {
	v.mu.RLock()
	id, ok := v.words[word]
	v.mu.RUnlock()
	if ok {
		return id
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if id, ok := v.words[word]; ok {
		return id
	}
	v.wordList = append(v.wordList, word)
	id = len(v.wordList)
	v.words[word] = id
	return id
}

// LookupTerminal 只查不分配。
func (v *Vocabulary) LookupTerminal(word string) (int, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	id, ok := v.words[word]
	return id, ok
}

// Nonterminal 返回标签（不含方括号）的负 ID，不存在则分配。
func (v *Vocabulary) Nonterminal(label string) int {
	label = strings.Trim(label, "[]")
	v.mu.Lock()
	defer v.mu.Unlock()
	if id, ok := v.nts[label]; ok {
		return id
	}
	v.ntList = append(v.ntList, label)
	id := -len(v.ntList)
	v.nts[label] = id
	return id
}

// Owner 返回 owner 标签的编号，不存在则分配。
func (v *Vocabulary) Owner(name string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if id, ok := v.owners[name]; ok {
		return id
	}
	v.ownList = append(v.ownList, name)
	id := len(v.ownList)
	v.owners[name] = id
	return id
}

// OwnerName 反查 owner 名称；未知返回空串。
func (v *Vocabulary) OwnerName(id int) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if id <= 0 || id > len(v.ownList) {
		return ""
	}
	return v.ownList[id-1]
}

// Word 反查符号：终结符返回原词，非终结符返回 "[X]"。
func (v *Vocabulary) Word(id int) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	switch {
	case id > 0 && id <= len(v.wordList):
		return v.wordList[id-1]
	case id < 0 && -id <= len(v.ntList):
		return "[" + v.ntList[-id-1] + "]"
	}
	return "<unk>"
}

// Words 以空格拼接符号序列。
func (v *Vocabulary) Words(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = v.Word(id)
	}
	return strings.Join(parts, " ")
}

// NextRuleID 分配全局唯一规则 ID（1 起）。
func (v *Vocabulary) NextRuleID() int { return int(v.ruleSeq.Add(1)) }

// IsNonterminal 源端符号是否为非终结符。
func IsNonterminal(id int) bool { return id < 0 }
