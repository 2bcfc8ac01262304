package contract

// FileID: 逻辑输入标识（通常为路径，需规范化，跨平台一致）。
type FileID string

// Meta: 可选的轻量元信息；核心流程不读取其键值。
type Meta map[string]string

// Sentence: 单个待解码单元。
// 约束：
// - ID 在所属请求内稳定（通常为输入行号，0 起）；
// - 序位（Position）由请求读取者按读取顺序分配，是结果排序的唯一依据；
// - Source 为原文（已去除行尾换行），不做分词以外的清洗。
type Sentence struct {
	ID     int
	Source string
	Meta   Meta // 可为 nil
}

// Translation: 一个 Sentence 的解码结果。
// Position 回填为源 Sentence 在请求内的读取序位。
// Err 非空表示该位置解码失败（仅在隔离策略下出现）。
type Translation struct {
	SentenceID int
	Position   int
	Source     string
	Output     string
	// Score: 最优推导的模型得分（= -代价）。
	Score float64
	// Features: 可选的逐特征代价明细（特征名 → 加权代价）。
	Features map[string]float64
	// Posterior: 可选，最优推导的后验概率（inside-outside；未计算时为 0）。
	Posterior float64
	Err       error
}
