package ff

import (
	"fmt"
	"sort"
	"sync"
)

// FeatureVector: 进程级权重表（特征名 → 权重），初始化时构建一次，
// 按引用传入 Decoder 与各 Worker；调参/热加载通过 Update 写入。
type FeatureVector struct {
	mu    sync.RWMutex
	w     map[string]float64
	order []string
}

// NewFeatureVector 以初始权重构造（可为 nil）。
func NewFeatureVector(init map[string]float64) *FeatureVector {
	v := &FeatureVector{w: make(map[string]float64, len(init))}
	names := make([]string, 0, len(init))
	for k := range init {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		v.Set(k, init[k])
	}
	return v
}

// Set 写入单个权重（新名称追加到顺序表尾）。
func (v *FeatureVector) Set(name string, w float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.w[name]; !ok {
		v.order = append(v.order, name)
	}
	v.w[name] = w
}

// Update 批量写入，返回值发生变化的名称数。
func (v *FeatureVector) Update(ws map[string]float64) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	changed := 0
	for k, w := range ws {
		old, ok := v.w[k]
		if !ok {
			v.order = append(v.order, k)
		}
		if !ok || old != w {
			changed++
		}
		v.w[k] = w
	}
	return changed
}

// Get 查询权重。
func (v *FeatureVector) Get(name string) (float64, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	w, ok := v.w[name]
	return w, ok
}

// Value 查询权重，缺省为 0。
func (v *FeatureVector) Value(name string) float64 {
	w, _ := v.Get(name)
	return w
}

// Names 返回按写入顺序的名称。
func (v *FeatureVector) Names() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]string(nil), v.order...)
}

// Snapshot 返回拷贝。
func (v *FeatureVector) Snapshot() map[string]float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]float64, len(v.w))
	for k, w := range v.w {
		out[k] = w
	}
	return out
}

func (v *FeatureVector) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.w)
}

// DenseName 文法分数列的权重名：tm_<owner>_<列>。
func DenseName(owner string, column int) string {
	return fmt.Sprintf("tm_%s_%d", owner, column)
}
