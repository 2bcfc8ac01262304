package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"mtdecode/internal/ff"
	"mtdecode/internal/grammar"
	"mtdecode/internal/search"
	"mtdecode/pkg/contract"
	ftext "mtdecode/plugins/format/text"
	rfs "mtdecode/plugins/reader/filesystem"
	slines "mtdecode/plugins/splitter/lines"
	wfs "mtdecode/plugins/writer/filesystem"
	wflaky "mtdecode/plugins/worker/flaky"
	wmock "mtdecode/plugins/worker/mock"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.Reader, error)

// NewSplitter 工厂签名：接收原样 JSON Options。
type NewSplitter func(raw json.RawMessage) (contract.Splitter, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// NewFormatter 工厂签名：接收原样 JSON Options。
type NewFormatter func(raw json.RawMessage) (contract.Formatter, error)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// fs: 文件系统/STDIN Reader
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
}

// Splitter 工厂注册表。
var Splitter = map[string]NewSplitter{
	// lines: 每行一句
	"lines": func(raw json.RawMessage) (contract.Splitter, error) {
		var opts slines.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return slines.New(&opts), nil
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（覆盖写/原子替换可配置）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}

func newFormatter(mode string) NewFormatter {
	return func(raw json.RawMessage) (contract.Formatter, error) {
		var opts ftext.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return ftext.New(mode, &opts)
	}
}

// Formatter 工厂注册表：主输出格式；jsonl 亦用于逐句明细边车。
var Formatter = map[string]NewFormatter{
	ftext.ModePlain: newFormatter(ftext.ModePlain),
	ftext.ModeNBest: newFormatter(ftext.ModeNBest),
	ftext.ModeJSONL: newFormatter(ftext.ModeJSONL),
}

// WorkerEnv: worker 工厂的进程级输入；Model 仅 monotone 使用。
type WorkerEnv struct {
	Model *search.Model
}

// NewWorkers 工厂签名：构造 n 个 worker（池大小固定）。
type NewWorkers func(env WorkerEnv, n int, raw json.RawMessage) ([]contract.Worker, error)

// Worker 工厂注册表（搜索算法名 → worker 构造）。
var Worker = map[string]NewWorkers{
	// monotone: 单调短语搜索
	"monotone": func(env WorkerEnv, n int, raw json.RawMessage) ([]contract.Worker, error) {
		var opts struct{}
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		if env.Model == nil {
			return nil, fmt.Errorf("worker monotone: no model: %w", contract.ErrInvalidInput)
		}
		return env.Model.NewWorkers(n), nil
	},
	// mock: 回显 worker（可注入延迟）
	"mock": func(_ WorkerEnv, n int, raw json.RawMessage) ([]contract.Worker, error) {
		var opts wmock.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		out := make([]contract.Worker, n)
		for i := range out {
			out[i] = wmock.New(&opts)
		}
		return out, nil
	},
	// flaky: 故障注入 worker（共享调用计数）
	"flaky": func(_ WorkerEnv, n int, raw json.RawMessage) ([]contract.Worker, error) {
		var opts wflaky.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		count := new(atomic.Int32)
		out := make([]contract.Worker, n)
		for i := range out {
			out[i] = wflaky.NewShared(&opts, count)
		}
		return out, nil
	},
}

// FeatureEnv: 特征工厂的进程级输入。
type FeatureEnv struct {
	Vocab   *grammar.Vocabulary
	Weights *ff.FeatureVector
}

// NewFeature 工厂签名：由特征行参数构造特征。
type NewFeature func(env FeatureEnv, args ff.Args) (contract.FeatureFunction, error)

// weightOf 权重优先取权重表，其次 -weight 参数，否则 def。
func weightOf(env FeatureEnv, name string, args ff.Args, def float64) (float64, error) {
	if env.Weights != nil {
		if w, ok := env.Weights.Get(name); ok {
			return w, nil
		}
	}
	return args.Float("weight", def)
}

// Feature 工厂注册表（特征名 → 构造）。
var Feature = map[string]NewFeature{
	// tm -owner NAME: 文法分数列的线性组合
	"tm": func(env FeatureEnv, args ff.Args) (contract.FeatureFunction, error) {
		owner := args.String("owner", "")
		if owner == "" {
			return nil, fmt.Errorf("tm: -owner required: %w", contract.ErrInvalidInput)
		}
		m := ff.NewPhraseModel(owner, env.Vocab.Owner(owner), env.Weights)
		w, err := weightOf(env, m.Name(), args, 1)
		if err != nil {
			return nil, err
		}
		m.SetWeight(w)
		return m, nil
	},
	"word_penalty": func(env FeatureEnv, args ff.Args) (contract.FeatureFunction, error) {
		w, err := weightOf(env, "word_penalty", args, 0)
		if err != nil {
			return nil, err
		}
		return ff.NewWordPenalty(w), nil
	},
	"oov_penalty": func(env FeatureEnv, args ff.Args) (contract.FeatureFunction, error) {
		w, err := weightOf(env, "oov_penalty", args, 0)
		if err != nil {
			return nil, err
		}
		return ff.NewOOVPenalty(w, env.Vocab.Owner(grammar.OwnerOOV)), nil
	},
	// lm -path FILE.arpa [-floor F]: 二元语言模型
	"lm": func(env FeatureEnv, args ff.Args) (contract.FeatureFunction, error) {
		path := args.String("path", "")
		if path == "" {
			return nil, fmt.Errorf("lm: -path required: %w", contract.ErrInvalidInput)
		}
		floor, err := args.Float("floor", ff.DefaultFloor)
		if err != nil {
			return nil, err
		}
		w, err := weightOf(env, "lm", args, 0)
		if err != nil {
			return nil, err
		}
		m := ff.NewLanguageModel(env.Vocab, w, floor)
		if err := m.LoadARPAFile(path, env.Vocab); err != nil {
			return nil, fmt.Errorf("lm %s: %w", path, err)
		}
		return m, nil
	},
	"edge_length": func(env FeatureEnv, args ff.Args) (contract.FeatureFunction, error) {
		w, err := weightOf(env, "edge_length", args, 0)
		if err != nil {
			return nil, err
		}
		return ff.NewEdgeLength(w), nil
	},
}

// aliases: 兼容的特征名写法。
var aliases = map[string]string{
	"phrasemodel":   "tm",
	"wordpenalty":   "word_penalty",
	"oovpenalty":    "oov_penalty",
	"languagemodel": "lm",
	"edgelength":    "edge_length",
}

// ParseFeatureLine 解析 `NAME -arg value ...`，名称不区分大小写并解析别名。
func ParseFeatureLine(line string) (string, ff.Args, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("empty feature line: %w", contract.ErrInvalidInput)
	}
	name := strings.ToLower(fields[0])
	if a, ok := aliases[name]; ok {
		name = a
	}
	args, err := ff.ParseArgs(fields[1:])
	if err != nil {
		return "", nil, err
	}
	return name, args, nil
}

// BuildFeatures 依次构造特征行；未知名称返回 ErrUnknownFeature。
func BuildFeatures(env FeatureEnv, lines []string) ([]contract.FeatureFunction, error) {
	if env.Vocab == nil {
		return nil, fmt.Errorf("features: nil vocabulary: %w", contract.ErrInvalidInput)
	}
	if env.Weights == nil {
		env.Weights = ff.NewFeatureVector(nil)
	}
	out := make([]contract.FeatureFunction, 0, len(lines))
	for i, line := range lines {
		name, args, err := ParseFeatureLine(line)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i+1, err)
		}
		newF, ok := Feature[name]
		if !ok {
			return nil, fmt.Errorf("feature %d %q: %w", i+1, name, contract.ErrUnknownFeature)
		}
		f, err := newF(env, args)
		if err != nil {
			return nil, fmt.Errorf("feature %d %q: %w", i+1, name, err)
		}
		out = append(out, f)
	}
	return out, nil
}
