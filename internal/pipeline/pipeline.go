package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"mtdecode/internal/decoder"
	"mtdecode/internal/diag"
	"mtdecode/pkg/contract"
)

// - 并发只在两处：Decoder 内部的工作池，以及本层每个输入一个消费协程；
// - 每个输入一个请求：Reader 产出字节流，Splitter 包装为惰性请求，Decoder 并发解码、按序产出；
// - 流式落盘：译文经 io.Pipe 交给 Writer，单个工件一次 Write；
// - 首错取消：任一输入的读/写错误取消整体，排空后返回首错。

// Components 聚合运行所需的组件。
type Components struct {
	Reader    contract.Reader
	Splitter  contract.Splitter
	Decoder   *decoder.Decoder
	Formatter contract.Formatter
	// Sidecar 可选：每个输入另写一份 <fileID>.jsonl。
	Sidecar contract.Formatter
	Writer  contract.Writer
}

// Settings 运行期配置（最小必要）。
type Settings struct {
	Inputs []string
	// Ext: 主输出工件后缀（STDIN 除外）。
	Ext string
	// MaxOpenInputs: 同时在途的输入数；<=0 时取 2。
	MaxOpenInputs int
}

// SidecarExt: 旁路明细工件后缀。
const SidecarExt = ".jsonl"

// StdinID: Reader 为 STDIN 产出的 FileID；其主输出工件不加后缀。
const StdinID contract.FileID = "stdin"

// Stats: 一次运行的汇总。
type Stats struct {
	Inputs    int
	Skipped   int
	Sentences int
	Failed    int
}

// Run 执行：Reader → Splitter → Decoder.DecodeAll → Formatter → Writer。
// 同一输入的译文严格按句子顺序写出；不同输入之间并发推进，共享同一工作池。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (Stats, error) {
	var st Stats
	if err := sanity(comp, set); err != nil {
		return st, fmt.Errorf("sanity: %w", err)
	}
	limit := set.MaxOpenInputs
	if limit <= 0 {
		limit = 2
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	var mu sync.Mutex

	err := comp.Reader.Iterate(gctx, set.Inputs, func(fileID contract.FileID, rc io.ReadCloser) error {
		req, err := comp.Splitter.Open(gctx, fileID, rc)
		if err != nil {
			_ = rc.Close()
			logStageError(logger, "splitter", "open failed", err, fileID)
			return fmt.Errorf("splitter open %s: %w", fileID, err)
		}
		if req == nil {
			_ = rc.Close()
			mu.Lock()
			st.Skipped++
			mu.Unlock()
			if logger != nil {
				logger.DebugStart("splitter", "skip", string(fileID), "", nil)
			}
			return nil
		}
		g.Go(func() error {
			defer rc.Close()
			n, failed, err := runOne(gctx, comp, set, fileID, req, logger)
			mu.Lock()
			st.Inputs++
			st.Sentences += n
			st.Failed += failed
			mu.Unlock()
			return err
		})
		return nil
	})
	if err != nil {
		logStageError(logger, "reader", "iterate failed", err, "")
	}
	// Reader 的错误优先于后续由取消引发的错误
	if werr := g.Wait(); err == nil {
		err = werr
	}
	return st, err
}

// runOne 消费单个输入的结果流并写出主工件（及旁路工件）。
func runOne(ctx context.Context, comp Components, set Settings, fileID contract.FileID, req contract.TranslationRequest, logger *diag.Logger) (n, failed int, err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	t0 := time.Now()
	ts := comp.Decoder.DecodeAll(ctx, req, decoder.WithName(string(fileID)))
	if logger != nil {
		logger.DebugStart("pipeline", "input", ts.RequestID(), "", map[string]string{"file": string(fileID)})
	}

	var wg errgroup.Group
	pr, pw := io.Pipe()
	mainID := ArtifactID(fileID, set.Ext)
	wg.Go(func() error { return writeArtifact(ctx, comp.Writer, mainID, pr, logger) })
	var spw *io.PipeWriter
	if comp.Sidecar != nil {
		var spr *io.PipeReader
		spr, spw = io.Pipe()
		sideID := contract.ArtifactID(string(fileID) + SidecarExt)
		wg.Go(func() error { return writeArtifact(ctx, comp.Writer, sideID, spr, logger) })
	}

	for tr, serr := range ts.All(ctx) {
		if serr != nil {
			err = serr
			break
		}
		n++
		if tr.Err != nil {
			failed++
		}
		if ferr := comp.Formatter.Format(pw, tr); ferr != nil {
			err = fmt.Errorf("format %s: %w", mainID, ferr)
			break
		}
		if spw != nil {
			if ferr := comp.Sidecar.Format(spw, tr); ferr != nil {
				err = fmt.Errorf("format %s%s: %w", fileID, SidecarExt, ferr)
				break
			}
		}
	}
	if err != nil {
		// 停止读取者；Writer 收到错误后放弃该工件
		cancel()
		logStageError(logger, "pipeline", "input failed", err, fileID)
	}
	pw.CloseWithError(err)
	if spw != nil {
		spw.CloseWithError(err)
	}
	if werr := wg.Wait(); err == nil {
		err = werr
	}
	if err == nil {
		diag.IncOp("pipeline", "finish", "success")
		diag.ObserveDuration("pipeline", "input", time.Since(t0).Milliseconds())
		if logger != nil {
			logger.InfoFinish("pipeline", string(fileID), t0, int64(n))
		}
	}
	return n, failed, err
}

func writeArtifact(ctx context.Context, w contract.Writer, id contract.ArtifactID, r *io.PipeReader, logger *diag.Logger) error {
	err := w.Write(ctx, id, r)
	if err != nil {
		// 解除格式化侧的阻塞
		r.CloseWithError(err)
		logStageError(logger, "writer", "write failed", err, id)
		return fmt.Errorf("writer write %s: %w", id, err)
	}
	// Writer 正常返回但未读尽时，丢弃余下内容避免格式化侧阻塞
	_, _ = io.Copy(io.Discard, r)
	return nil
}

// ArtifactID 主输出工件：STDIN 保持 "stdin"，其余为 FileID+ext。
func ArtifactID(fileID contract.FileID, ext string) contract.ArtifactID {
	if fileID == StdinID {
		return contract.ArtifactID(fileID)
	}
	return contract.ArtifactID(string(fileID) + ext)
}

func logStageError(logger *diag.Logger, comp, msg string, err error, id contract.FileID) {
	code := diag.Classify(err)
	diag.IncOp(comp, "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError(comp, string(code))
	}
	if logger != nil {
		logger.ErrorWith(comp, string(code), msg+": "+err.Error(), nil, string(id), "")
	}
}

func sanity(comp Components, set Settings) error {
	if comp.Reader == nil || comp.Splitter == nil || comp.Decoder == nil || comp.Formatter == nil || comp.Writer == nil {
		return errors.New("nil component")
	}
	if len(set.Inputs) == 0 {
		return errors.New("no inputs")
	}
	return nil
}
