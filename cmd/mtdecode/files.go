package main

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	cfgpkg "mtdecode/internal/config"
)

// writeConfig 以 YAML 写出配置；path 为 "-" 时写到 out。已存在的文件不覆盖。
// 经 JSON 中转以沿用 snake_case 字段名与字段顺序。
func writeConfig(path string, c cfgpkg.Config, out io.Writer) error {
	b, err := marshalYAML(c)
	if err != nil {
		return err
	}
	if path == "-" {
		_, err = out.Write(b)
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(b)
	return err
}

func marshalYAML(c cfgpkg.Config) ([]byte, error) {
	js, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	// JSON 是 YAML 的子集：解析为节点树后清除流式/引号风格，输出块风格
	var doc yaml.Node
	if err := yaml.Unmarshal(js, &doc); err != nil {
		return nil, err
	}
	blockStyle(&doc)
	var sb strings.Builder
	sb.WriteString("# mtdecode 配置（由 init-config 生成）\n")
	sb.WriteString("# 优先级：CLI > ENV(.env, MTDECODE_*) > 本文件\n")
	enc := yaml.NewEncoder(&sb)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}

func blockStyle(n *yaml.Node) {
	n.Style = 0
	// 空集合保留流式，避免输出悬空的键
	if (n.Kind == yaml.MappingNode || n.Kind == yaml.SequenceNode) && len(n.Content) == 0 {
		n.Style = yaml.FlowStyle
	}
	// 可被误读为其他类型的字符串（如 "-"、"0"）保持引号
	if n.Kind == yaml.ScalarNode && n.Tag == "!!str" && needsQuote(n.Value) {
		n.Style = yaml.DoubleQuotedStyle
	}
	for _, c := range n.Content {
		blockStyle(c)
	}
}

func needsQuote(s string) bool {
	if s == "" || s == "-" || strings.ContainsAny(s[:1], "*&!|>'\"%@`#,[]{}:?") {
		return true
	}
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil {
		return true
	}
	_, isStr := v.(string)
	return !isStr
}

// loadDotEnv 读取简单的 .env 文件格式并注入进程环境。
// 规则：
// - 忽略不存在的文件；无法读取时返回错误（但调用处可忽略）。
// - 跳过空行与以 # 开头的行；支持可选的前缀 "export ".
// - 仅按首个 '=' 分割；key 为左侧去空白；value 去首尾空白；
// - 若 value 被成对的单/双引号包裹，则去除外层引号；双引号内常见转义 \n/\t/\\/\" 作最小处理。
// - 不覆盖已存在的环境变量（保持系统/调用者优先）。
func loadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, val, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		if !ok || key == "" {
			continue
		}
		if len(val) >= 2 {
			if (val[0] == '\'' && val[len(val)-1] == '\'') || (val[0] == '"' && val[len(val)-1] == '"') {
				quoted := val[0]
				val = val[1 : len(val)-1]
				if quoted == '"' {
					val = strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\r`, "\r", `\"`, `"`, `\\`, `\`).Replace(val)
				}
			}
		}
		// 空值视为未设置
		if val == "" {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, val)
	}
	return s.Err()
}

// writeDotEnv 生成 .env 模板（若文件已存在则跳过）。
func writeDotEnv(path string) error {
	if st, err := os.Stat(path); err == nil && !st.IsDir() {
		return nil
	} else if err != nil && !os.IsNotExist(err) {
		return err
	}
	var b strings.Builder
	b.WriteString("# mtdecode .env 模板（由 init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > 配置文件；空值表示未设置。\n\n")

	b.WriteString("# 配置来源\n")
	b.WriteString(cfgpkg.EnvPrefix + "CONFIG_FILE=\n\n")

	b.WriteString("# 运行参数覆盖\n")
	for _, k := range []string{
		"INPUTS", "NUM_PARALLEL_DECODERS", "ON_FAILURE", "LOG_LEVEL", "WEIGHTS_FILE",
		"SEARCH_ALGORITHM", "SEARCH_BEAM", "SEARCH_MAX_LEN", "SEARCH_POSTERIORS",
		"OUTPUT_FORMAT", "OUTPUT_SIDECAR", "OUTPUT_EXT",
		"LIMITS_SENTENCES_PER_MINUTE", "LIMITS_BURST", "METRICS_ADDR",
	} {
		b.WriteString(cfgpkg.EnvPrefix + k + "=\n")
	}
	b.WriteString("\n# 组件选择\n")
	for _, k := range []string{"COMPONENTS_READER", "COMPONENTS_SPLITTER", "COMPONENTS_WRITER"} {
		b.WriteString(cfgpkg.EnvPrefix + k + "=\n")
	}
	b.WriteString("\n# 单个权重覆盖：" + cfgpkg.EnvPrefix + "WEIGHT__<name>=<value>\n")
	b.WriteString("# " + cfgpkg.EnvPrefix + "WEIGHT__lm=\n")

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	_, err = f.WriteString(b.String())
	return err
}
