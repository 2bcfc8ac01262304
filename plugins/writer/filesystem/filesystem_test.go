package filesystem

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mtdecode/pkg/contract"
)

func newFS(t testing.TB, opts Options) (*FS, string) {
	t.Helper()
	dir := t.TempDir()
	opts.OutputDir = dir
	w, err := New(&opts)
	require.NoError(t, err)
	return w, dir
}

func boolp(b bool) *bool { return &b }

// noTemp 断言目录内没有残留临时文件。
func noTemp(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".tmp-"), "残留临时文件 %s", e.Name())
	}
}

func TestWriteAtomicReplace(t *testing.T) {
	w, dir := newFS(t, Options{})
	ctx := context.Background()
	require.NoError(t, w.Write(ctx, "in/fr.txt.trans", strings.NewReader("the house\n")))
	require.NoError(t, w.Write(ctx, "in/fr.txt.trans", strings.NewReader("the blue house\n")))
	b, err := os.ReadFile(filepath.Join(dir, "fr.txt.trans"))
	require.NoError(t, err)
	assert.Equal(t, "the blue house\n", string(b))
	noTemp(t, dir)
}

// 解码中止（上游 pipe 以错误关闭）时原子模式保留旧译文。
func TestWriteAtomicAbortKeepsPrevious(t *testing.T) {
	w, dir := newFS(t, Options{Sync: boolp(false)})
	ctx := context.Background()
	require.NoError(t, w.Write(ctx, "a.trans", strings.NewReader("old\n")))

	pr, pw := io.Pipe()
	go func() {
		_, _ = pw.Write([]byte("partial\n"))
		pw.CloseWithError(errors.New("decode aborted"))
	}()
	err := w.Write(ctx, "a.trans", pr)
	require.EqualError(t, err, "decode aborted")
	b, _ := os.ReadFile(filepath.Join(dir, "a.trans"))
	assert.Equal(t, "old\n", string(b))
	noTemp(t, dir)
}

func TestWriteNonAtomicKeepsPartial(t *testing.T) {
	w, dir := newFS(t, Options{Atomic: boolp(false)})
	pr, pw := io.Pipe()
	go func() {
		_, _ = pw.Write([]byte("line 1\n"))
		pw.CloseWithError(errors.New("boom"))
	}()
	require.Error(t, w.Write(context.Background(), "a.trans", pr))
	b, err := os.ReadFile(filepath.Join(dir, "a.trans"))
	require.NoError(t, err)
	assert.Equal(t, "line 1\n", string(b))
}

func TestWriteHierarchy(t *testing.T) {
	w, dir := newFS(t, Options{Flat: boolp(false), Atomic: boolp(false)})
	require.NoError(t, w.Write(context.Background(), "corpus/news/a.txt.trans", strings.NewReader("v")))
	_, err := os.Stat(filepath.Join(dir, "corpus", "news", "a.txt.trans"))
	assert.NoError(t, err)
}

func TestResolve(t *testing.T) {
	flat, root := newFS(t, Options{})
	nested, _ := newFS(t, Options{Flat: boolp(false)})
	nested.root = root

	p, err := flat.resolve("../../etc/a.txt.trans")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "a.txt.trans"), p)

	p, err = nested.resolve("x/./y/../a.trans")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "x", "a.trans"), p)

	bad := []contract.ArtifactID{"..", ".", "", "../bad", "x/../../bad"}
	if runtime.GOOS == "windows" {
		bad = append(bad, `C:\abs`)
	} else {
		bad = append(bad, "/abs")
	}
	for _, id := range bad {
		_, err := nested.resolve(id)
		assert.ErrorIs(t, err, contract.ErrPathInvalid, "id %q", id)
	}
	_, err = flat.resolve("..")
	assert.ErrorIs(t, err, contract.ErrPathInvalid)
}

func TestWriteCtxCancel(t *testing.T) {
	w, dir := newFS(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, w.Write(ctx, "a.trans", strings.NewReader("x")), context.Canceled)
	_, err := os.Stat(filepath.Join(dir, "a.trans"))
	assert.True(t, os.IsNotExist(err))

	r := ctxReader{ctx: ctx, r: strings.NewReader("x")}
	_, err = r.Read(make([]byte, 1))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewInvalid(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, os.ErrInvalid)
	_, err = New(&Options{OutputDir: "  "})
	assert.ErrorIs(t, err, os.ErrInvalid)

	w, _ := newFS(t, Options{PermFile: 0o600, BufSize: 16})
	assert.Equal(t, os.FileMode(0o600), w.permF)
	assert.Equal(t, 16, w.bufSize)
	assert.True(t, w.atomic && w.flat && w.sync)
}

func TestWriteStdinToStdout(t *testing.T) {
	w, dir := newFS(t, Options{})
	var out bytes.Buffer
	w.SetStdout(&out)
	ctx := context.Background()
	require.NoError(t, w.Write(ctx, StdinArtifact, strings.NewReader("the house\n")))
	assert.Equal(t, "the house\n", out.String())
	_, err := os.Stat(filepath.Join(dir, "stdin"))
	assert.True(t, os.IsNotExist(err), "不应落盘")

	// 边车工件照常落盘
	require.NoError(t, w.Write(ctx, "stdin.jsonl", strings.NewReader("{}\n")))
	_, err = os.Stat(filepath.Join(dir, "stdin.jsonl"))
	assert.NoError(t, err)

	// 关闭后 SetStdout 无效，STDIN 工件落盘
	off, dir2 := newFS(t, Options{StdinToStdout: boolp(false)})
	off.SetStdout(&out)
	require.NoError(t, off.Write(ctx, StdinArtifact, strings.NewReader("x")))
	b, err := os.ReadFile(filepath.Join(dir2, "stdin"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(b))
}

// BenchmarkWrite 不同尺寸译文的写入开销。
func BenchmarkWrite(b *testing.B) {
	for _, sz := range []int{1024, 1024 * 1024} {
		for _, atomic := range []bool{true, false} {
			b.Run(fmt.Sprintf("size=%d/atomic=%v", sz, atomic), func(b *testing.B) {
				data := bytes.Repeat([]byte("the blue house\n"), sz/15+1)
				w, _ := newFS(b, Options{Atomic: boolp(atomic), Sync: boolp(false)})
				ctx := context.Background()
				b.ReportAllocs()
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					if err := w.Write(ctx, "out.trans", bytes.NewReader(data)); err != nil {
						b.Fatalf("写入失败: %v", err)
					}
				}
			})
		}
	}
}
