package config

import "encoding/json"

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - 默认输入为 STDIN（"-"），译文写到标准输出，其余输入写到 ./out；
// - 单调搜索，无文法时全部按 OOV 透传；
// - 选项给出安全中性默认值。
func DefaultTemplateConfig() Config {
	d := Defaults()
	cfg := Config{
		Inputs:              []string{"-"},
		NumParallelDecoders: 2,
		OnFailure:           d.OnFailure,
		Logging:             Logging{Level: "info"},
		Weights: map[string]float64{
			"word_penalty": -1,
			"oov_penalty":  1,
		},
		Features: []string{
			"word_penalty",
			"oov_penalty",
		},
		Search: Search{
			Algorithm: d.Search.Algorithm,
			Beam:      10,
			MaxLen:    100,
		},
		Output:     d.Output,
		Components: d.Components,
	}
	// Options：包含所有键（值可为空/默认），确保键存在。
	cfg.Search.Options = json.RawMessage(`{}`)
	cfg.Options.Reader = json.RawMessage(`{
  "buf_size": 65536,
  "exclude_dir_names": [".git", "node_modules", "vendor"],
  "exclude_globs": ["*.trans", "*.jsonl"]
}`)
	cfg.Options.Splitter = json.RawMessage(`{
  "max_sentence_bytes": 0,
  "allow_exts": [".txt", ".src"],
  "segments": false
}`)
	cfg.Options.Writer = json.RawMessage(`{
  "output_dir": "out",
  "atomic": true,
  "flat": true,
  "perm_file": 0,
  "perm_dir": 0,
  "buf_size": 65536,
  "stdin_to_stdout": true,
  "sync": true
}`)
	cfg.Options.Formatter = json.RawMessage(`{
  "failed_placeholder": "",
  "precision": 4
}`)
	return cfg
}
