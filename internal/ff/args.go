package ff

import (
	"fmt"
	"strconv"
	"strings"

	"mtdecode/pkg/contract"
)

// Args: 特征行参数（`-key value` 形式）。
type Args map[string]string

// ParseArgs 解析 `-path lm.txt -floor 10`；落单的 `-flag` 视为 "true"。
func ParseArgs(tokens []string) (Args, error) {
	a := Args{}
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if !strings.HasPrefix(tok, "-") || len(tok) < 2 {
			return nil, fmt.Errorf("feature arg %q: %w", tok, contract.ErrInvalidInput)
		}
		key := strings.TrimLeft(tok, "-")
		if i+1 < len(tokens) && !isFlag(tokens[i+1]) {
			a[key] = tokens[i+1]
			i++
			continue
		}
		a[key] = "true"
	}
	return a, nil
}

// isFlag 负数值不视为参数名。
func isFlag(s string) bool {
	if !strings.HasPrefix(s, "-") {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err != nil
}

// String 取字符串参数。
func (a Args) String(key, def string) string {
	if v, ok := a[key]; ok {
		return v
	}
	return def
}

// Float 取数值参数。
func (a Args) Float(key string, def float64) (float64, error) {
	v, ok := a[key]
	if !ok {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("feature arg -%s=%q: %w", key, v, contract.ErrInvalidInput)
	}
	return f, nil
}
