package text

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"mtdecode/pkg/contract"
)

// TestPlain 正常与失败序位均输出一行
func TestPlain(t *testing.T) {
	f, err := New(ModePlain, &Options{FailedPlaceholder: "<fail>"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	var buf bytes.Buffer
	_ = f.Format(&buf, contract.Translation{Output: "the house"})
	_ = f.Format(&buf, contract.Translation{Output: "x", Err: errors.New("boom")})
	_ = f.Format(&buf, contract.Translation{Output: "a\nb"})
	if buf.String() != "the house\n<fail>\na b\n" {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

// TestNBest 特征按名称排序，精度可配
func TestNBest(t *testing.T) {
	f, _ := New(ModeNBest, nil)
	var buf bytes.Buffer
	tr := contract.Translation{SentenceID: 4, Output: "the house", Score: -1.25,
		Features: map[string]float64{"tm_pt": 0.9, "lm": 1.3}}
	if err := f.Format(&buf, tr); err != nil {
		t.Fatalf("format: %v", err)
	}
	want := "4 ||| the house ||| lm=1.300 tm_pt=0.900 ||| -1.250\n"
	if buf.String() != want {
		t.Fatalf("期望 %q 实得 %q", want, buf.String())
	}
}

// TestJSONL 每行一个对象，失败带 error
func TestJSONL(t *testing.T) {
	f, _ := New(ModeJSONL, nil)
	var buf bytes.Buffer
	_ = f.Format(&buf, contract.Translation{SentenceID: 2, Position: 1, Source: "le", Output: "the", Score: -0.5, Posterior: 0.6})
	_ = f.Format(&buf, contract.Translation{SentenceID: 3, Position: 2, Err: errors.New("boom")})
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("期望 2 行 实得 %d", len(lines))
	}
	var r0, r1 record
	if err := json.Unmarshal(lines[0], &r0); err != nil {
		t.Fatalf("json: %v", err)
	}
	_ = json.Unmarshal(lines[1], &r1)
	if r0.ID != 2 || r0.Output != "the" || r0.Posterior != 0.6 || r0.Error != "" {
		t.Fatalf("unexpected %+v", r0)
	}
	if r1.Error != "boom" || r1.Position != 2 {
		t.Fatalf("unexpected %+v", r1)
	}
}

// TestUnknownMode 未知模式
func TestUnknownMode(t *testing.T) {
	if _, err := New("xml", nil); !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("expect ErrInvalidInput, got %v", err)
	}
}
