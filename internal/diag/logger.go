package diag

import (
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 为组件级结构化日志器：事件形状固定（comp/stage/code/dur_ms/...），
// 底层由 zap 输出单行 JSON 到轮转文件；verbose 时同时 tee 到 stderr。
type Logger struct {
	corrID string
	z      *zap.Logger
	sink   *RotatingFile
}

// NewLogger 通过配置的 level 初始化，日志写入 logs/，10 MiB 轮转。
func NewLogger(corrID, level string, verbose bool) *Logger {
	sink := NewRotatingFile("logs", 10*1024*1024)
	lvl := ParseLevel(level)
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.TimeKey = "ts"
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(sink), lvl),
	}
	if verbose {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(os.Stderr), zapcore.DebugLevel))
	}
	z := zap.New(zapcore.NewTee(cores...)).With(zap.String("corr_id", corrID))
	return &Logger{corrID: corrID, z: z, sink: sink}
}

// NewWithZap 包装现成的 zap.Logger（测试用 observer 或上层注入）。
func NewWithZap(corrID string, z *zap.Logger) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{corrID: corrID, z: z.With(zap.String("corr_id", corrID))}
}

// NewNop 返回丢弃一切输出的 Logger。
func NewNop() *Logger { return &Logger{z: zap.NewNop()} }

// ParseLevel 解析 debug|info|warn|error，未知值回退 info。
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// CorrID 返回本次运行的关联 ID。
func (l *Logger) CorrID() string { return l.corrID }

// Sync 刷出缓冲并关闭文件 sink。
func (l *Logger) Sync() error {
	err := l.z.Sync()
	if l.sink != nil {
		if cerr := l.sink.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func event(comp, stage, msg, fileID, item string, kv map[string]string) []zap.Field {
	fs := make([]zap.Field, 0, 6)
	fs = append(fs, zap.String("comp", comp), zap.String("stage", stage))
	if fileID != "" {
		fs = append(fs, zap.String("file_id", fileID))
	}
	if item != "" {
		fs = append(fs, zap.String("item", item))
	}
	if len(kv) > 0 {
		fs = append(fs, zap.Any("kv", kv))
	}
	return fs
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	return l.StartWithKV(comp, msg, "", "", nil)
}

// StartWith 记录带 file_id/item 的 start。
func (l *Logger) StartWith(comp, msg, fileID, item string) *Timer {
	return l.StartWithKV(comp, msg, fileID, item, nil)
}

// StartWithKV 记录带 file_id/item 与键值的 start。
func (l *Logger) StartWithKV(comp, msg, fileID, item string, kv map[string]string) *Timer {
	l.z.Info(msg, event(comp, "start", msg, fileID, item, kv)...)
	return &Timer{l: l, comp: comp, fileID: fileID, item: item, t0: time.Now()}
}

// Error 记录 error 事件（不采样）。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.ErrorWithKV(comp, code, msg, durSince, "", "", nil)
}

// ErrorWith 支持 file_id/item。
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, fileID, item string) {
	l.ErrorWithKV(comp, code, msg, durSince, fileID, item, nil)
}

// ErrorWithKV 支持附带键值对（例如 HTTP 状态码、上游错误片段）。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, fileID, item string, kv map[string]string) {
	fs := event(comp, "error", msg, fileID, item, kv)
	fs = append(fs, zap.String("code", code))
	if durSince != nil {
		fs = append(fs, zap.Int64("dur_ms", time.Since(*durSince).Milliseconds()))
	}
	l.z.Error(msg, fs...)
}

// Warn 记录不影响结果的降级事件。
func (l *Logger) Warn(comp, code, msg string, kv map[string]string) {
	fs := event(comp, "warn", msg, "", "", kv)
	fs = append(fs, zap.String("code", code))
	l.z.Warn(msg, fs...)
}

// InfoFinish 在已有起点的情况下记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	fs := event(comp, "finish", msg, "", "", nil)
	fs = append(fs, zap.Int64("dur_ms", time.Since(start).Milliseconds()), zap.Int64("count", count))
	l.z.Info(msg, fs...)
}

// DebugStart 输出调试级别的 start 类事件。
func (l *Logger) DebugStart(comp, msg, fileID, item string, kv map[string]string) {
	l.z.Debug(msg, event(comp, "start", msg, fileID, item, kv)...)
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l      *Logger
	comp   string
	fileID string
	item   string
	t0     time.Time
}

// Finish 记录 finish；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	fs := event(t.comp, "finish", msg, t.fileID, t.item, nil)
	fs = append(fs, zap.Int64("dur_ms", time.Since(t.t0).Milliseconds()), zap.Int64("count", count))
	t.l.z.Info(msg, fs...)
}
