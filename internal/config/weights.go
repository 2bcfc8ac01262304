package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"mtdecode/internal/ff"
	"mtdecode/pkg/contract"
)

// Weight: 权重文件中的一行。
type Weight struct {
	Name  string
	Value float64
	Line  int
}

// ParseWeights 解析 "NAME VALUE" 逐行权重；空行与 #、// 开头的行忽略。
// 格式错误返回带行号并包装 ErrMalformedWeights 的错误。
func ParseWeights(r io.Reader) ([]Weight, error) {
	var out []Weight
	sc := bufio.NewScanner(r)
	ln := 0
	for sc.Scan() {
		ln++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("weights line %d %q: want NAME VALUE: %w", ln, line, contract.ErrMalformedWeights)
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("weights line %d %q: bad value: %w", ln, line, contract.ErrMalformedWeights)
		}
		out = append(out, Weight{Name: fields[0], Value: v, Line: ln})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadWeightsFile 打开并解析权重文件；错误信息带文件名。
func LoadWeightsFile(path string) ([]Weight, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	ws, err := ParseWeights(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ws, nil
}

// weightMap 转为名称映射；重复名称后者覆盖前者。
func weightMap(ws []Weight) map[string]float64 {
	m := make(map[string]float64, len(ws))
	for _, w := range ws {
		m[w.Name] = w.Value
	}
	return m
}

// BuildWeights 构造进程级权重表：文件在前，内联 Weights 覆盖。
func BuildWeights(cfg Config) (*ff.FeatureVector, error) {
	vec := ff.NewFeatureVector(nil)
	if cfg.WeightsFile != "" {
		ws, err := LoadWeightsFile(cfg.WeightsFile)
		if err != nil {
			return nil, err
		}
		for _, w := range ws {
			vec.Set(w.Name, w.Value)
		}
	}
	if len(cfg.Weights) > 0 {
		vec.Update(cfg.Weights)
	}
	return vec, nil
}
