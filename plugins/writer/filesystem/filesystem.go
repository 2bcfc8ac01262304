package filesystem

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"mtdecode/pkg/contract"
)

// Options: 译文工件的落盘方式。
type Options struct {
	// OutputDir: 输出根目录（必需）。
	OutputDir string `json:"output_dir"`
	// Atomic: 同目录临时文件写完后 rename 替换，失败时不留半截译文。默认 true。
	Atomic *bool `json:"atomic,omitempty"`
	// Flat: 只保留工件基名；false 时保留输入的相对目录层级。默认 true。
	Flat *bool `json:"flat,omitempty"`
	// PermFile/PermDir: 为 0 时取 0644/0755。
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
	// BufSize: 写缓冲区大小；<=0 取 64KiB。
	BufSize int `json:"buf_size,omitempty"`
	// StdinToStdout: 工件 "stdin"（STDIN 的译文）直接写到标准输出。默认 true。
	StdinToStdout *bool `json:"stdin_to_stdout,omitempty"`
	// Sync: 原子写在替换前 fsync。默认 true。
	Sync *bool `json:"sync,omitempty"`
}

// StdinArtifact: 标准输入对应的工件 ID。
const StdinArtifact contract.ArtifactID = "stdin"

// FS: 文件系统 Writer，每个输入的译文（及边车明细）各为一个工件。
type FS struct {
	root    string
	atomic  bool
	flat    bool
	sync    bool
	permF   os.FileMode
	permD   os.FileMode
	bufSize int

	mu     sync.Mutex
	stdout io.Writer // nil: STDIN 工件按普通文件落盘
}

var _ contract.Writer = (*FS)(nil)

func pick(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// New 创建 Writer；OutputDir 为空时返回 os.ErrInvalid。
func New(opts *Options) (*FS, error) {
	if opts == nil || strings.TrimSpace(opts.OutputDir) == "" {
		return nil, os.ErrInvalid
	}
	w := &FS{
		root:    opts.OutputDir,
		atomic:  pick(opts.Atomic, true),
		flat:    pick(opts.Flat, true),
		sync:    pick(opts.Sync, true),
		permF:   0o644,
		permD:   0o755,
		bufSize: 64 * 1024,
	}
	if opts.PermFile != 0 {
		w.permF = opts.PermFile
	}
	if opts.PermDir != 0 {
		w.permD = opts.PermDir
	}
	if opts.BufSize > 0 {
		w.bufSize = opts.BufSize
	}
	if pick(opts.StdinToStdout, true) {
		w.stdout = os.Stdout
	}
	return w, nil
}

// SetStdout 替换 STDIN 工件的输出目标（CLI 或测试注入）。stdin_to_stdout 关闭时无效。
func (w *FS) SetStdout(out io.Writer) {
	w.mu.Lock()
	if w.stdout != nil && out != nil {
		w.stdout = out
	}
	w.mu.Unlock()
}

// Write 把 r 的全部字节写入 id 对应的工件。r 报错（如解码中止）时目标不被创建或替换（原子模式）。
func (w *FS) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src := ctxReader{ctx: ctx, r: r}

	w.mu.Lock()
	out := w.stdout
	w.mu.Unlock()
	if out != nil && id == StdinArtifact {
		// 逐块透传，交互使用时可逐行看到译文
		_, err := io.Copy(out, src)
		return err
	}

	dest, err := w.resolve(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), w.permD); err != nil {
		return err
	}
	t, err := w.open(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(t, src); err != nil {
		t.abort()
		return err
	}
	return t.commit()
}

// resolve 把工件 ID 映射为 root 下的路径；越界返回 ErrPathInvalid。
func (w *FS) resolve(id contract.ArtifactID) (string, error) {
	rel := filepath.Clean(filepath.FromSlash(string(id)))
	if w.flat {
		rel = filepath.Base(rel)
	}
	switch {
	case rel == "." || rel == ".." || rel == string(filepath.Separator):
		return "", contract.ErrPathInvalid
	case filepath.IsAbs(rel) || filepath.VolumeName(rel) != "":
		return "", contract.ErrPathInvalid
	case strings.HasPrefix(rel, ".."+string(filepath.Separator)):
		return "", contract.ErrPathInvalid
	}
	return filepath.Join(w.root, rel), nil
}

// target: 一次写入的目的地；commit 使内容可见，abort 丢弃。
type target struct {
	f    *os.File
	bw   *bufio.Writer
	dest string // 非空表示原子模式：f 为临时文件
	sync bool
}

func (w *FS) open(dest string) (*target, error) {
	if !w.atomic {
		f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, w.permF)
		if err != nil {
			return nil, err
		}
		return &target{f: f, bw: bufio.NewWriterSize(f, w.bufSize)}, nil
	}
	f, err := os.CreateTemp(filepath.Dir(dest), ".tmp-"+filepath.Base(dest)+"-*")
	if err != nil {
		return nil, err
	}
	_ = f.Chmod(w.permF)
	return &target{f: f, bw: bufio.NewWriterSize(f, w.bufSize), dest: dest, sync: w.sync}, nil
}

func (t *target) Write(p []byte) (int, error) { return t.bw.Write(p) }

func (t *target) commit() error {
	if err := t.bw.Flush(); err != nil {
		t.abort()
		return err
	}
	if t.dest == "" {
		return t.f.Close()
	}
	if t.sync {
		if err := t.f.Sync(); err != nil {
			t.abort()
			return err
		}
	}
	if err := t.f.Close(); err != nil {
		_ = os.Remove(t.f.Name())
		return err
	}
	// os.Rename 在各平台均替换已存在的目标
	if err := os.Rename(t.f.Name(), t.dest); err != nil {
		_ = os.Remove(t.f.Name())
		return err
	}
	if t.sync {
		syncDir(filepath.Dir(t.dest))
	}
	return nil
}

// abort: 非原子模式保留已写出的部分，原子模式删除临时文件。
func (t *target) abort() {
	if t.dest == "" {
		_ = t.bw.Flush()
		_ = t.f.Close()
		return
	}
	_ = t.f.Close()
	_ = os.Remove(t.f.Name())
}

// syncDir 尽力持久化目录项；不支持目录 fsync 的平台忽略错误。
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// ctxReader 在每次 Read 前检查 ctx。
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
