package diag

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// 级别定义
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "info"
	}
}

func (l Level) slog() slog.Level {
	switch l {
	case Debug:
		return slog.LevelDebug
	case Warn:
		return slog.LevelWarn
	case Error:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger 结构化日志器：slog JSON 单行事件，写入轮转文件（或指定 writer）。
// nil *Logger 的所有方法均为 no-op。
type Logger struct {
	corrID string
	level  Level
	sl     *slog.Logger
	sink   *RotatingFile
}

// NewLogger 通过配置的 level 初始化，日志写入 logs/mtdecode-current.txt，10m 轮转。
func NewLogger(corrID, level string) *Logger {
	sink := NewRotatingFile("logs", 10*1024*1024)
	l := NewLoggerWithWriter(corrID, level, sink)
	l.sink = sink
	return l
}

// NewLoggerWithWriter 写入任意 writer（stderr、测试缓冲）。
func NewLoggerWithWriter(corrID, level string, w io.Writer) *Logger {
	lvl := parseLevel(strings.TrimSpace(level))
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: lvl.slog(),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				return slog.String("ts", a.Value.Time().UTC().Format(time.RFC3339))
			case slog.LevelKey:
				return slog.String("level", strings.ToLower(a.Value.String()))
			}
			return a
		},
	})
	return &Logger{corrID: corrID, level: lvl, sl: slog.New(h).With("corr_id", corrID)}
}

func parseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return Debug
	case "warn":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

// Close 关闭底层轮转文件（如有）。
func (l *Logger) Close() error {
	if l == nil || l.sink == nil {
		return nil
	}
	return l.sink.Close()
}

// Event 为标准事件结构。
type Event struct {
	Comp       string
	Stage      string // start|finish|error|event
	Code       string
	DurMS      int64
	Count      int64
	RequestID  string
	SentenceID string
	Msg        string
	KV         map[string]string
}

func (l *Logger) log(lv Level, ev Event) {
	if l == nil || lv < l.level {
		return
	}
	attrs := make([]slog.Attr, 0, 8)
	attrs = append(attrs, slog.String("comp", ev.Comp), slog.String("stage", ev.Stage))
	if ev.Code != "" {
		attrs = append(attrs, slog.String("code", ev.Code))
	}
	if ev.DurMS != 0 {
		attrs = append(attrs, slog.Int64("dur_ms", ev.DurMS))
	}
	if ev.Count != 0 {
		attrs = append(attrs, slog.Int64("count", ev.Count))
	}
	if ev.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", ev.RequestID))
	}
	if ev.SentenceID != "" {
		attrs = append(attrs, slog.String("sentence_id", ev.SentenceID))
	}
	if len(ev.KV) > 0 {
		kv := make([]any, 0, len(ev.KV)*2)
		for k, v := range ev.KV {
			kv = append(kv, k, v)
		}
		attrs = append(attrs, slog.Group("kv", kv...))
	}
	l.sl.LogAttrs(context.Background(), lv.slog(), ev.Msg, attrs...)
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", Msg: msg})
	return &Timer{l: l, comp: comp, t0: time.Now()}
}

// StartWith 记录带 request_id/sentence_id 的 start。
func (l *Logger) StartWith(comp, msg, requestID, sentenceID string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", RequestID: requestID, SentenceID: sentenceID, Msg: msg})
	return &Timer{l: l, comp: comp, requestID: requestID, sentenceID: sentenceID, t0: time.Now()}
}

// StartWithKV 记录带键值的 start。
func (l *Logger) StartWithKV(comp, msg, requestID, sentenceID string, kv map[string]string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", RequestID: requestID, SentenceID: sentenceID, Msg: msg, KV: kv})
	return &Timer{l: l, comp: comp, requestID: requestID, sentenceID: sentenceID, t0: time.Now()}
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.ErrorWithKV(comp, code, msg, durSince, "", "", nil)
}

// ErrorWith 支持 request_id/sentence_id。
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, requestID, sentenceID string) {
	l.ErrorWithKV(comp, code, msg, durSince, requestID, sentenceID, nil)
}

// ErrorWithKV 支持附带键值对。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, requestID, sentenceID string, kv map[string]string) {
	var dur int64
	if durSince != nil {
		dur = time.Since(*durSince).Milliseconds()
	}
	l.log(Error, Event{Comp: comp, Stage: "error", Code: code, DurMS: dur, Msg: msg, RequestID: requestID, SentenceID: sentenceID, KV: kv})
}

// Warn 记录 warn 事件。
func (l *Logger) Warn(comp, msg string, kv map[string]string) {
	l.log(Warn, Event{Comp: comp, Stage: "event", Msg: msg, KV: kv})
}

// InfoFinish 在已有起点的情况下记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	l.log(Info, Event{Comp: comp, Stage: "finish", DurMS: time.Since(start).Milliseconds(), Count: count, Msg: msg})
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l          *Logger
	comp       string
	requestID  string
	sentenceID string
	t0         time.Time
}

// Finish 记录 finish；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	t.l.log(Info, Event{Comp: t.comp, Stage: "finish", DurMS: time.Since(t.t0).Milliseconds(), Count: count, RequestID: t.requestID, SentenceID: t.sentenceID, Msg: msg})
}

// DebugStart 输出调试级别的“start”类事件（仅在 level=debug 时生效）。
func (l *Logger) DebugStart(comp, msg, requestID, sentenceID string, kv map[string]string) {
	l.log(Debug, Event{Comp: comp, Stage: "start", RequestID: requestID, SentenceID: sentenceID, Msg: msg, KV: kv})
}

// Stderr 便捷构造：写 stderr 的日志器（init-config 等短命令使用）。
func Stderr(level string) *Logger { return NewLoggerWithWriter("", level, os.Stderr) }
