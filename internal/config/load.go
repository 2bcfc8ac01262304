package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix: 环境变量覆盖的前缀。
const EnvPrefix = "MTDECODE_"

// Defaults 返回带有安全默认值的 Config 雏形。
func Defaults() Config {
	return Config{
		NumParallelDecoders: 1,
		OnFailure:           "fatal",
		Search:              Search{Algorithm: "monotone"},
		Output:              Output{Format: "plain", Ext: ".trans"},
		Components: Components{
			Reader:   "fs",
			Splitter: "lines",
			Writer:   "fs",
		},
		Options: Options{
			Writer: json.RawMessage(`{"output_dir":"out"}`),
		},
	}
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
func LoadJSON(path string, raw []byte) (Config, error) {
	var cfg Config
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		r = f
	default:
		return cfg, errors.New("no config source provided")
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadFile 按扩展名解析配置文件：.yaml/.yml 先转为 JSON 再严格解码，其余按 JSON。
// 模型文件路径（weights_file、tms[].path、特征行的 -path）相对配置文件所在目录解析；
// inputs 与输出目录仍相对工作目录。
func LoadFile(path string) (Config, error) {
	var (
		cfg Config
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		b, rerr := os.ReadFile(path)
		if rerr != nil {
			return Config{}, rerr
		}
		raw, yerr := yamlToJSON(b)
		if yerr != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, yerr)
		}
		if len(raw) > 0 {
			cfg, err = LoadJSON("", raw)
		}
	default:
		cfg, err = LoadJSON(path, nil)
	}
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	resolvePaths(&cfg, filepath.Dir(path))
	return cfg, nil
}

// resolvePaths 将模型文件的相对路径改写为相对 dir。
func resolvePaths(cfg *Config, dir string) {
	join := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	cfg.WeightsFile = join(cfg.WeightsFile)
	for i := range cfg.TMs {
		cfg.TMs[i].Path = join(cfg.TMs[i].Path)
	}
	for i, line := range cfg.Features {
		fields := strings.Fields(line)
		for j := 1; j+1 < len(fields); j++ {
			if fields[j] == "-path" {
				fields[j+1] = join(fields[j+1])
			}
		}
		cfg.Features[i] = strings.Join(fields, " ")
	}
}

// yamlToJSON 将 YAML 文档转为等价 JSON；空文档返回 nil。
func yamlToJSON(b []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	return json.Marshal(normalizeYAML(doc))
}

// normalizeYAML 将非字符串键的映射转为字符串键（JSON 只接受字符串键）。
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, x := range t {
			t[k] = normalizeYAML(x)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[fmt.Sprint(k)] = normalizeYAML(x)
		}
		return out
	case []any:
		for i, x := range t {
			t[i] = normalizeYAML(x)
		}
		return t
	default:
		return v
	}
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；权重表按键合并；不做其他深度合并。
func Merge(base, over Config) Config {
	out := base
	if len(over.Inputs) > 0 {
		out.Inputs = cloneStrings(over.Inputs)
	}
	if over.NumParallelDecoders != 0 {
		out.NumParallelDecoders = over.NumParallelDecoders
	}
	if s := strings.TrimSpace(over.OnFailure); s != "" {
		out.OnFailure = s
	}
	if s := strings.TrimSpace(over.Logging.Level); s != "" {
		out.Logging.Level = s
	}

	if s := strings.TrimSpace(over.WeightsFile); s != "" {
		out.WeightsFile = s
	}
	if len(over.Weights) > 0 {
		m := make(map[string]float64, len(out.Weights)+len(over.Weights))
		for k, v := range out.Weights {
			m[k] = v
		}
		for k, v := range over.Weights {
			m[k] = v
		}
		out.Weights = m
	}
	if len(over.TMs) > 0 {
		out.TMs = append([]TM(nil), over.TMs...)
	}
	if len(over.Features) > 0 {
		out.Features = cloneStrings(over.Features)
	}

	// 搜索
	if over.Search.Algorithm != "" {
		out.Search.Algorithm = over.Search.Algorithm
	}
	if over.Search.Beam != 0 {
		out.Search.Beam = over.Search.Beam
	}
	if over.Search.MaxLen != 0 {
		out.Search.MaxLen = over.Search.MaxLen
	}
	if over.Search.Posteriors {
		out.Search.Posteriors = true
	}
	if isSet(over.Search.Options) {
		out.Search.Options = cloneRaw(over.Search.Options)
	}

	// 输出
	if over.Output.Format != "" {
		out.Output.Format = over.Output.Format
	}
	if over.Output.Sidecar {
		out.Output.Sidecar = true
	}
	if over.Output.Ext != "" {
		out.Output.Ext = over.Output.Ext
	}

	// 组件名（空不覆盖）
	if over.Components.Reader != "" {
		out.Components.Reader = over.Components.Reader
	}
	if over.Components.Splitter != "" {
		out.Components.Splitter = over.Components.Splitter
	}
	if over.Components.Writer != "" {
		out.Components.Writer = over.Components.Writer
	}

	// Options（完整替换对应键）
	if isSet(over.Options.Reader) {
		out.Options.Reader = cloneRaw(over.Options.Reader)
	}
	if isSet(over.Options.Splitter) {
		out.Options.Splitter = cloneRaw(over.Options.Splitter)
	}
	if isSet(over.Options.Writer) {
		out.Options.Writer = cloneRaw(over.Options.Writer)
	}
	if isSet(over.Options.Formatter) {
		out.Options.Formatter = cloneRaw(over.Options.Formatter)
	}

	if over.Limits.SentencesPerMinute != 0 {
		out.Limits.SentencesPerMinute = over.Limits.SentencesPerMinute
	}
	if over.Limits.Burst != 0 {
		out.Limits.Burst = over.Limits.Burst
	}
	if s := strings.TrimSpace(over.Metrics.Addr); s != "" {
		out.Metrics.Addr = s
	}
	return out
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 规则：前缀 MTDECODE_；集合外的键忽略。
// 支持：INPUTS, NUM_PARALLEL_DECODERS, ON_FAILURE, LOG_LEVEL, WEIGHTS_FILE,
// SEARCH_{ALGORITHM,BEAM,MAX_LEN,POSTERIORS}, OUTPUT_{FORMAT,SIDECAR,EXT}, COMPONENTS_*,
// LIMITS_{SENTENCES_PER_MINUTE,BURST}, METRICS_ADDR 以及 WEIGHT__<name>。
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		nk := kv[len(EnvPrefix):eq]
		val := strings.TrimSpace(kv[eq+1:])
		// 空值视为未设置，避免清空现有配置
		if val == "" {
			continue
		}
		switch nk {
		case "INPUTS":
			over.Inputs = splitComma(val)
		case "NUM_PARALLEL_DECODERS":
			v, err := atoi(val)
			if err != nil {
				return over, fmt.Errorf("env %s%s: %w", EnvPrefix, nk, err)
			}
			over.NumParallelDecoders = v
		case "ON_FAILURE":
			over.OnFailure = val
		case "LOG_LEVEL":
			over.Logging.Level = val
		case "WEIGHTS_FILE":
			over.WeightsFile = val
		case "SEARCH_ALGORITHM":
			over.Search.Algorithm = val
		case "SEARCH_BEAM":
			v, err := atoi(val)
			if err != nil {
				return over, fmt.Errorf("env %s%s: %w", EnvPrefix, nk, err)
			}
			over.Search.Beam = v
		case "SEARCH_MAX_LEN":
			v, err := atoi(val)
			if err != nil {
				return over, fmt.Errorf("env %s%s: %w", EnvPrefix, nk, err)
			}
			over.Search.MaxLen = v
		case "SEARCH_POSTERIORS":
			over.Search.Posteriors = truthy(val)
		case "OUTPUT_FORMAT":
			over.Output.Format = val
		case "OUTPUT_SIDECAR":
			over.Output.Sidecar = truthy(val)
		case "OUTPUT_EXT":
			over.Output.Ext = val
		case "COMPONENTS_READER":
			over.Components.Reader = val
		case "COMPONENTS_SPLITTER":
			over.Components.Splitter = val
		case "COMPONENTS_WRITER":
			over.Components.Writer = val
		case "LIMITS_SENTENCES_PER_MINUTE":
			v, err := atoi(val)
			if err != nil {
				return over, fmt.Errorf("env %s%s: %w", EnvPrefix, nk, err)
			}
			over.Limits.SentencesPerMinute = v
		case "LIMITS_BURST":
			v, err := atoi(val)
			if err != nil {
				return over, fmt.Errorf("env %s%s: %w", EnvPrefix, nk, err)
			}
			over.Limits.Burst = v
		case "METRICS_ADDR":
			over.Metrics.Addr = val
		default:
			// WEIGHT__name=value：单个权重覆盖（名称保持原样大小写）
			if name, ok := strings.CutPrefix(nk, "WEIGHT__"); ok && name != "" {
				w, err := strconv.ParseFloat(val, 64)
				if err != nil {
					return over, fmt.Errorf("env %s%s: %w", EnvPrefix, nk, err)
				}
				if over.Weights == nil {
					over.Weights = map[string]float64{}
				}
				over.Weights[name] = w
			}
		}
	}
	return over, nil
}

func truthy(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// isSet: 原样 JSON 非空且不是 null。
func isSet(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && !bytes.Equal(t, []byte("null"))
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func atoi(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &n)
	if err != nil {
		return 0, err
	}
	return n, nil
}
