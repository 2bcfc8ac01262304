package lines

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"mtdecode/pkg/contract"
)

// Options 为逐行 Splitter 的可选配置（最小必要）。
type Options struct {
	// MaxSentenceBytes: 单行最大字节数。0 表示不限制。
	MaxSentenceBytes int `json:"max_sentence_bytes"`
	// AllowExts: 允许处理的文件扩展名（大小写不敏感，包含点，如 [".txt"]）。
	// 为空时不限制；STDIN 始终处理。
	AllowExts []string `json:"allow_exts"`
	// Segments: 识别 <seg id="N">…</seg> 标记，以标记内的 id 作为句子 ID。
	Segments bool `json:"segments"`
}

// Splitter 每行一句。
type Splitter struct {
	maxBytes int
	allow    map[string]struct{}
	segments bool
}

// New 创建逐行 Splitter。
func New(opts *Options) *Splitter {
	s := &Splitter{}
	if opts == nil {
		return s
	}
	if opts.MaxSentenceBytes > 0 {
		s.maxBytes = opts.MaxSentenceBytes
	}
	if len(opts.AllowExts) > 0 {
		s.allow = make(map[string]struct{}, len(opts.AllowExts))
		for _, e := range opts.AllowExts {
			if e == "" {
				continue
			}
			s.allow[strings.ToLower(e)] = struct{}{}
		}
	}
	s.segments = opts.Segments
	return s
}

var _ contract.Splitter = (*Splitter)(nil)

// Open 把输入包装为惰性请求；扩展名不在允许集合时返回 (nil, nil) 表示跳过。
func (s *Splitter) Open(ctx context.Context, fileID contract.FileID, r io.Reader) (contract.TranslationRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.allow != nil && fileID != "stdin" {
		ext := strings.ToLower(path.Ext(string(fileID)))
		if _, ok := s.allow[ext]; !ok {
			return nil, nil
		}
	}
	br, ok := r.(lineReader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &request{s: s, fileID: fileID, br: br}, nil
}

var segRe = regexp.MustCompile(`^<seg\s+id="?(\d+)"?\s*>(.*)</seg>$`)

// request 逐行读取；ID 默认为行号（0 起）。
type request struct {
	s      *Splitter
	fileID contract.FileID
	br     lineReader
	line   int
	done   bool
}

func (q *request) Next(ctx context.Context) (contract.Sentence, error) {
	if err := ctx.Err(); err != nil {
		return contract.Sentence{}, err
	}
	if q.done {
		return contract.Sentence{}, io.EOF
	}
	text, eof, err := readTrimmedLine(q.br)
	if err != nil {
		return contract.Sentence{}, err
	}
	if eof {
		q.done = true
		return contract.Sentence{}, io.EOF
	}
	ln := q.line
	q.line++
	if !utf8.ValidString(text) {
		return contract.Sentence{}, fmt.Errorf("%s line %d: invalid UTF-8: %w", q.fileID, ln+1, contract.ErrInvalidInput)
	}
	if q.s.maxBytes > 0 && len(text) > q.s.maxBytes {
		return contract.Sentence{}, fmt.Errorf("%s line %d: sentence too large: %d > %d: %w",
			q.fileID, ln+1, len(text), q.s.maxBytes, contract.ErrInvalidInput)
	}
	id := ln
	if q.s.segments {
		if m := segRe.FindStringSubmatch(strings.TrimSpace(text)); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				id = n
				text = m[2]
			}
		}
	}
	return contract.Sentence{
		ID:     id,
		Source: strings.TrimSpace(text),
		Meta:   contract.Meta{"file": string(q.fileID), "line": strconv.Itoa(ln + 1)},
	}, nil
}

// lineReader: 已带缓冲的输入（*bufio.Reader 或 Reader 插件的包装）无需再包一层。
type lineReader interface {
	ReadString(delim byte) (string, error)
}

// readTrimmedLine 读取一行，归一 CRLF→LF，并去除结尾换行符；返回该行、是否 EOF。
// 末行无换行时仍作为一行返回。
func readTrimmedLine(br lineReader) (line string, eof bool, err error) {
	s, err := br.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return "", false, err
		}
		if s == "" {
			return "", true, nil
		}
	}
	s = strings.TrimSuffix(s, "\n")
	s = strings.TrimSuffix(s, "\r")
	return s, false, nil
}
