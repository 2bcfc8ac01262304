package lines

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"mtdecode/pkg/contract"
)

func drain(t *testing.T, req contract.TranslationRequest) []contract.Sentence {
	t.Helper()
	var out []contract.Sentence
	for {
		s, err := req.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		out = append(out, s)
	}
}

// TestOpenLines 逐行拆分，CRLF 归一，末行无换行
func TestOpenLines(t *testing.T) {
	s := New(nil)
	req, err := s.Open(context.Background(), "a.txt", strings.NewReader("le chat\r\n\n  la maison  \nfin"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	got := drain(t, req)
	if len(got) != 4 {
		t.Fatalf("期望 4 句 实得 %d: %+v", len(got), got)
	}
	if got[0].Source != "le chat" || got[1].Source != "" || got[2].Source != "la maison" || got[3].Source != "fin" {
		t.Fatalf("内容错误: %+v", got)
	}
	for i, x := range got {
		if x.ID != i {
			t.Fatalf("ID 应为行号: %d != %d", x.ID, i)
		}
	}
	if got[2].Meta["line"] != "3" || got[2].Meta["file"] != "a.txt" {
		t.Fatalf("meta 错误: %v", got[2].Meta)
	}
	// 耗尽后重复调用仍为 EOF
	if _, err := req.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("期望 EOF 实得 %v", err)
	}
}

// TestOpenSegments 识别 seg 标记
func TestOpenSegments(t *testing.T) {
	s := New(&Options{Segments: true})
	req, _ := s.Open(context.Background(), "stdin", strings.NewReader("<seg id=\"12\">le chat</seg>\nplain\n<seg id=3> x </seg>\n"))
	got := drain(t, req)
	if len(got) != 3 || got[0].ID != 12 || got[0].Source != "le chat" || got[1].ID != 1 || got[2].ID != 3 || got[2].Source != "x" {
		t.Fatalf("seg 解析错误: %+v", got)
	}
}

// TestOpenTooLarge 超出 MaxSentenceBytes
func TestOpenTooLarge(t *testing.T) {
	s := New(&Options{MaxSentenceBytes: 3})
	req, _ := s.Open(context.Background(), "a.txt", strings.NewReader("ab\nabcdef\n"))
	if _, err := req.Next(context.Background()); err != nil {
		t.Fatalf("首行应通过: %v", err)
	}
	if _, err := req.Next(context.Background()); !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("期望 ErrInvalidInput 实得 %v", err)
	}
}

// TestOpenExtFilter 扩展名过滤；STDIN 不受限
func TestOpenExtFilter(t *testing.T) {
	s := New(&Options{AllowExts: []string{".SRC"}})
	req, err := s.Open(context.Background(), "a.txt", strings.NewReader("x"))
	if err != nil || req != nil {
		t.Fatalf("非允许扩展名应跳过且不报错")
	}
	if req, _ := s.Open(context.Background(), "b.src", strings.NewReader("x")); req == nil {
		t.Fatalf("大小写不敏感匹配失败")
	}
	if req, _ := s.Open(context.Background(), "stdin", strings.NewReader("x")); req == nil {
		t.Fatalf("stdin 应始终处理")
	}
}

// TestOpenInvalidUTF8 非法字节快速失败
func TestOpenInvalidUTF8(t *testing.T) {
	s := New(nil)
	req, _ := s.Open(context.Background(), "a.txt", strings.NewReader("\xff\xfe\n"))
	if _, err := req.Next(context.Background()); !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("期望 ErrInvalidInput 实得 %v", err)
	}
}

// TestNextCanceled 取消后立即返回
func TestNextCanceled(t *testing.T) {
	s := New(nil)
	req, _ := s.Open(context.Background(), "a.txt", strings.NewReader("x\n"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := req.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("期望 Canceled 实得 %v", err)
	}
}
