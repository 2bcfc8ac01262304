package text

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"mtdecode/pkg/contract"
)

const (
	ModePlain = "plain"
	ModeNBest = "nbest"
	ModeJSONL = "jsonl"
)

// Options: 输出格式选项。
type Options struct {
	// FailedPlaceholder: 失败序位（隔离策略）输出的文本，默认空行。
	FailedPlaceholder string `json:"failed_placeholder"`
	// Precision: nbest 中特征值与得分的小数位数，默认 3。
	Precision int `json:"precision"`
}

type formatter struct {
	mode   string
	failed string
	prec   int
}

// New 构造指定模式的格式器；未知模式返回 ErrInvalidInput。
func New(mode string, opts *Options) (contract.Formatter, error) {
	switch mode {
	case ModePlain, ModeNBest, ModeJSONL:
	default:
		return nil, fmt.Errorf("format: unknown mode %q: %w", mode, contract.ErrInvalidInput)
	}
	f := &formatter{mode: mode, prec: 3}
	if opts != nil {
		f.failed = opts.FailedPlaceholder
		if opts.Precision > 0 {
			f.prec = opts.Precision
		}
	}
	return f, nil
}

// Format 写出一条译文。
func (f *formatter) Format(w io.Writer, tr contract.Translation) error {
	switch f.mode {
	case ModeNBest:
		return f.nbest(w, tr)
	case ModeJSONL:
		return jsonl(w, tr)
	}
	out := tr.Output
	if tr.Err != nil {
		out = f.failed
	}
	_, err := io.WriteString(w, oneLine(out)+"\n")
	return err
}

// nbest: `id ||| 译文 ||| 特征=值 ... ||| 得分`，特征按名称排序。
func (f *formatter) nbest(w io.Writer, tr contract.Translation) error {
	out := tr.Output
	if tr.Err != nil {
		out = f.failed
	}
	names := make([]string, 0, len(tr.Features))
	for k := range tr.Features {
		names = append(names, k)
	}
	sort.Strings(names)
	feats := make([]string, len(names))
	for i, k := range names {
		feats[i] = k + "=" + strconv.FormatFloat(tr.Features[k], 'f', f.prec, 64)
	}
	_, err := fmt.Fprintf(w, "%d ||| %s ||| %s ||| %s\n",
		tr.SentenceID, oneLine(out), strings.Join(feats, " "), strconv.FormatFloat(tr.Score, 'f', f.prec, 64))
	return err
}

type record struct {
	ID        int                `json:"id"`
	Position  int                `json:"position"`
	Source    string             `json:"source"`
	Output    string             `json:"output"`
	Score     float64            `json:"score"`
	Features  map[string]float64 `json:"features,omitempty"`
	Posterior float64            `json:"posterior,omitempty"`
	Error     string             `json:"error,omitempty"`
}

func jsonl(w io.Writer, tr contract.Translation) error {
	rec := record{
		ID:        tr.SentenceID,
		Position:  tr.Position,
		Source:    tr.Source,
		Output:    tr.Output,
		Score:     tr.Score,
		Features:  tr.Features,
		Posterior: tr.Posterior,
	}
	if tr.Err != nil {
		rec.Error = tr.Err.Error()
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}

// oneLine 译文内的换行替换为空格，保证逐行对齐。
func oneLine(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
}
