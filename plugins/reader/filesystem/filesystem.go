package filesystem

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"mtdecode/pkg/contract"
)

// Options 为语料 Reader 的可选配置。
type Options struct {
	// BufSize 读缓冲区大小（字节），默认 64KiB。
	BufSize int `json:"buf_size"`
	// ExcludeDirNames: 目录扫描时跳过的目录基名（大小写不敏感），如 [".git","out"]。
	ExcludeDirNames []string `json:"exclude_dir_names"`
	// ExcludeGlobs: 目录扫描时跳过基名匹配的文件（path.Match 语法），
	// 如 ["*.trans","*.jsonl"]，避免把上一轮的译文当作输入。
	ExcludeGlobs []string `json:"exclude_globs"`
	// IncludeHidden: 目录扫描默认跳过以 "." 开头的文件与目录。
	IncludeHidden bool `json:"include_hidden"`
}

// StdinID 标准输入对应的 FileID。
const StdinID contract.FileID = "stdin"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// FileSystem 从文件、目录与 STDIN 读取源语料：每个输入文件一次回调，
// 由调用方包装为一个翻译请求。目录内按路径字典序，结果稳定。
type FileSystem struct {
	bufSize int
	skipDir map[string]struct{}
	globs   []string
	hidden  bool

	mu    sync.Mutex
	stdin io.Reader
}

var _ contract.Reader = (*FileSystem)(nil)

// New 创建 Reader；非法的 glob 模式被忽略。
func New(opts *Options) *FileSystem {
	r := &FileSystem{bufSize: 64 * 1024, skipDir: map[string]struct{}{}, stdin: os.Stdin}
	if opts == nil {
		return r
	}
	if opts.BufSize > 0 {
		r.bufSize = opts.BufSize
	}
	for _, name := range opts.ExcludeDirNames {
		if name = strings.Trim(name, `/\`); name != "" {
			r.skipDir[strings.ToLower(name)] = struct{}{}
		}
	}
	for _, g := range opts.ExcludeGlobs {
		if _, err := path.Match(g, ""); err == nil && g != "" {
			r.globs = append(r.globs, g)
		}
	}
	r.hidden = opts.IncludeHidden
	return r
}

// SetStdin 替换 "-" 的数据来源（测试注入）。
func (r *FileSystem) SetStdin(in io.Reader) {
	r.mu.Lock()
	r.stdin = in
	r.mu.Unlock()
}

// Iterate 依次对每个输入调用 yield；roots 为空或仅为 "-" 时读取 STDIN。
// yield 返回后 ReadCloser 归调用方关闭；yield 出错时由本方关闭。
func (r *FileSystem) Iterate(ctx context.Context, roots []string, yield func(fileID contract.FileID, rc io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(roots) == 0 || (len(roots) == 1 && roots[0] == "-") {
		r.mu.Lock()
		in := r.stdin
		r.mu.Unlock()
		return r.emit(StdinID, io.NopCloser(in), yield)
	}
	for _, s := range roots {
		if s == "-" {
			return errors.New("reader: stdin '-' cannot be mixed with other roots")
		}
	}
	for _, root := range roots {
		files, err := r.collect(ctx, root)
		if err != nil {
			return err
		}
		for _, p := range files {
			if err := ctx.Err(); err != nil {
				return err
			}
			f, err := os.Open(p)
			if err != nil {
				return err
			}
			if err := r.emit(contract.NormalizeFileID(p), f, yield); err != nil {
				return err
			}
		}
	}
	return nil
}

// collect 展开单个 root：常规文件（或指向常规文件的链接）原样返回；
// 目录递归收集，目录链接不跟随，非常规文件与悬空链接跳过。
// 显式给出的 root 不受隐藏与排除规则影响；不存在（含悬空链接）时报错。
func (r *FileSystem) collect(ctx context.Context, root string) ([]string, error) {
	st, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		if !st.Mode().IsRegular() {
			return nil, nil
		}
		return []string{root}, nil
	}
	if li, err := os.Lstat(root); err == nil && li.Mode()&fs.ModeSymlink != 0 {
		return nil, nil
	}

	var out []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if p == root {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if _, skip := r.skipDir[strings.ToLower(name)]; skip || r.hiddenName(name) {
				return filepath.SkipDir
			}
			return nil
		}
		if r.hiddenName(name) || r.excluded(name) {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			t, err := os.Stat(p)
			if err != nil || !t.Mode().IsRegular() {
				return nil
			}
		} else if !d.Type().IsRegular() {
			return nil
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

func (r *FileSystem) hiddenName(name string) bool {
	return !r.hidden && strings.HasPrefix(name, ".")
}

func (r *FileSystem) excluded(name string) bool {
	for _, g := range r.globs {
		if ok, _ := path.Match(g, name); ok {
			return true
		}
	}
	return false
}

// emit 以缓冲读取器包装输入并去除开头的 UTF-8 BOM。
func (r *FileSystem) emit(id contract.FileID, rc io.ReadCloser, yield func(contract.FileID, io.ReadCloser) error) error {
	src := &source{Reader: bufio.NewReaderSize(rc, r.bufSize), c: rc}
	if head, err := src.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = src.Discard(len(utf8BOM))
	}
	if err := yield(id, src); err != nil {
		_ = src.Close()
		return err
	}
	return nil
}

// source: 带缓冲的输入；ReadString 供逐行切分直接使用。
type source struct {
	*bufio.Reader
	c io.Closer
}

func (s *source) Close() error { return s.c.Close() }
