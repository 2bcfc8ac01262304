package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变；权重表除外，可热加载）。
// JSON/YAML 使用 snake_case；未知字段在解析期失败。
type Config struct {
	Inputs []string `json:"inputs"`
	// NumParallelDecoders: 工作池大小 N（>=1）。
	NumParallelDecoders int `json:"num_parallel_decoders"`
	// OnFailure: fatal（默认）| isolate。
	OnFailure string  `json:"on_failure"`
	Logging   Logging `json:"logging"`

	// WeightsFile: "NAME VALUE" 逐行权重文件；Weights 为内联覆盖（优先于文件）。
	WeightsFile string             `json:"weights_file"`
	Weights     map[string]float64 `json:"weights"`

	// TMs: 翻译模型（文法）列表；每项一个 owner。
	TMs []TM `json:"tms"`
	// Features: 特征行，形如 `NAME -arg value ...`。
	Features []string `json:"features"`

	Search Search `json:"search"`
	Output Output `json:"output"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`
	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`

	Limits  Limits  `json:"limits"`
	Metrics Metrics `json:"metrics"`
}

// Logging: 仅保留日志等级可配置；输出路径与轮转策略为固定默认。
type Logging struct {
	Level string `json:"level"`
}

// TM: 一份文法的来源与归属。
type TM struct {
	Format    string `json:"format"` // 目前仅 text
	Owner     string `json:"owner"`
	SpanLimit int    `json:"span_limit"`
	Path      string `json:"path"`
}

// Search: 搜索算法选择与参数。
type Search struct {
	// Algorithm: worker 注册名（monotone | mock | flaky）。
	Algorithm  string          `json:"algorithm"`
	Beam       int             `json:"beam"`
	MaxLen     int             `json:"max_len"`
	Posteriors bool            `json:"posteriors"`
	Options    json.RawMessage `json:"options"`
}

// Output: 主输出格式与旁路 JSONL。
type Output struct {
	Format  string `json:"format"` // plain | nbest
	Sidecar bool   `json:"sidecar"`
	Ext     string `json:"ext"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Reader   string `json:"reader"`
	Splitter string `json:"splitter"`
	Writer   string `json:"writer"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Reader    json.RawMessage `json:"reader"`
	Splitter  json.RawMessage `json:"splitter"`
	Writer    json.RawMessage `json:"writer"`
	Formatter json.RawMessage `json:"formatter"`
}

// Limits: 准入限流（仅承载；执行位于 rate.Gate）。0 表示关闭。
type Limits struct {
	SentencesPerMinute int `json:"sentences_per_minute"`
	Burst              int `json:"burst"`
}

// Metrics: 非空时在该地址暴露 /metrics。
type Metrics struct {
	Addr string `json:"addr"`
}
