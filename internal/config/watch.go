package config

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"mtdecode/internal/diag"
	"mtdecode/internal/ff"
)

// watchDebounce: 编辑器保存常触发多次写事件，合并为一次重载。
var watchDebounce = 250 * time.Millisecond

// WatchWeights 监视 cfg.WeightsFile，变更后重新解析并写入 vec（内联 cfg.Weights 仍优先），
// 有权重变化时调用 onReload(changed)。监视目录而非文件，以覆盖改名替换式保存。
// 解析失败保留旧权重并记录错误。返回后在后台运行直到 ctx 结束。
func WatchWeights(ctx context.Context, cfg Config, vec *ff.FeatureVector, onReload func(changed int), logger *diag.Logger) error {
	if cfg.WeightsFile == "" {
		return errors.New("config: weights_file not set")
	}
	path, err := filepath.Abs(cfg.WeightsFile)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return err
	}
	pinned := make(map[string]float64, len(cfg.Weights))
	for k, v := range cfg.Weights {
		pinned[k] = v
	}

	var mu sync.Mutex
	reload := func() {
		mu.Lock()
		defer mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		t0 := time.Now()
		ws, err := LoadWeightsFile(path)
		if err != nil {
			logger.ErrorWithKV("config", string(diag.Classify(err)), "weights reload failed: "+err.Error(), &t0, "", "", map[string]string{"path": path})
			diag.IncError("config", string(diag.Classify(err)))
			return
		}
		m := weightMap(ws)
		for k, v := range pinned {
			m[k] = v
		}
		changed := vec.Update(m)
		logger.StartWithKV("config", "weights reloaded", "", "", map[string]string{"path": path, "changed": strconv.Itoa(changed)}).Finish("weights reloaded", int64(changed))
		diag.IncOp("config", "reload", "ok")
		if changed > 0 && onReload != nil {
			onReload(changed)
		}
	}

	go func() {
		defer w.Close()
		var timer *time.Timer
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != path {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(watchDebounce, reload)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("config", "weights watcher error: "+err.Error(), map[string]string{"path": path})
			}
		}
	}()
	return nil
}
