package diag

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Terminal: 终端进度提示（非日志）。
// - 输出到提供的 io.Writer（默认 stderr）。
// - TTY: 单行 \r 覆盖；非 TTY: 关键节点分行打印。
// - 并发安全；写失败后进入禁用态为 no-op。
type Terminal struct {
	w       io.Writer
	enabled bool
	isTTY   bool

	concurrency int
	llm         string
	runStart    time.Time

	// 当前工作簿
	curName  string
	total    int
	done     int
	errCount int
	// pace: 单条 HU 平均秒数（用于 ETA，0 表示未知）
	pace float64

	lastLen   int
	lastFlush time.Time

	mu sync.Mutex
}

// NewTerminal 构造终端提示器。enabled=false 时总是 no-op。
func NewTerminal(w io.Writer, enabled bool) *Terminal {
	if w == nil {
		w = os.Stderr
	}
	t := &Terminal{w: w, enabled: enabled}
	// CI 环境视为非 TTY
	if os.Getenv("CI") != "" {
		t.isTTY = false
	} else if f, ok := w.(*os.File); ok {
		if fi, err := f.Stat(); err == nil {
			t.isTTY = fi.Mode()&os.ModeCharDevice != 0
		}
	}
	return t
}

// SetPace 设置历史平均单条耗时（秒）。
func (t *Terminal) SetPace(sec float64) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.pace = sec
	t.mu.Unlock()
}

// RunStart: 记录运行上下文（并发、LLM）。
func (t *Terminal) RunStart(concurrency int, llm string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.concurrency = concurrency
	t.llm = llm
	t.runStart = time.Now()
	t.println(fmt.Sprintf("[run] concurrencia=%d | llm=%s", concurrency, safe(llm)))
}

// WorkbookStart: 标记当前工作簿与计划评分条数。
func (t *Terminal) WorkbookStart(name string, initiatives, total int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.curName = shortenBase(name, 48)
	t.total = total
	t.done = 0
	t.errCount = 0
	line := fmt.Sprintf("[file] %s | hojas %d | HUs planificadas %d", t.curName, initiatives, total)
	if eta := t.eta(total); eta != "" {
		line += " | estimado " + eta
	}
	t.println(line)
}

// Progress: 周期性进度（≥100ms 节流，仅 TTY）。
func (t *Terminal) Progress(done, total, errs int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled || !t.isTTY {
		return
	}
	t.done = done
	t.total = total
	t.errCount = errs
	now := time.Now()
	if now.Sub(t.lastFlush) < 100*time.Millisecond {
		return
	}
	t.lastFlush = now
	line := fmt.Sprintf("[file] %s | progreso %d/%d | errores %d | concurrencia %d | transcurrido %s",
		t.curName, t.done, t.total, t.errCount, t.concurrency, formatSince(t.runStart))
	if eta := t.eta(total - done); eta != "" {
		line += " | restante " + eta
	}
	t.printInline(line)
}

// WorkbookFinish: 完成当前工作簿（立即刷新并换行）。
func (t *Terminal) WorkbookFinish(ok bool, out string, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	status := "done"
	if !ok {
		status = "fail"
	}
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
	}
	line := fmt.Sprintf("[%s] %s | HUs %d | tiempo total %s", status, t.curName, t.total, formatDur(dur))
	if out != "" {
		line += " | salida " + safe(out)
	}
	t.println(line)
}

// RunFinish: 结束总览。
func (t *Terminal) RunFinish(ok bool, scored, failed int, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	tag := "ok"
	if !ok {
		tag = "fail"
	}
	t.println(fmt.Sprintf("[%s] completado | correctas %d | fallidas %d | tiempo total %s", tag, scored, failed, formatDur(dur)))
}

// eta: 按 pace 与并发估算剩余时长。调用方持锁。
func (t *Terminal) eta(remaining int) string {
	if t.pace <= 0 || remaining <= 0 {
		return ""
	}
	c := t.concurrency
	if c < 1 {
		c = 1
	}
	sec := t.pace * float64(remaining) / float64(c)
	return formatDur(time.Duration(sec * float64(time.Second)))
}

func (t *Terminal) println(s string) {
	if t == nil || !t.enabled {
		return
	}
	if _, err := io.WriteString(t.w, s+"\n"); err != nil {
		// 写失败即禁用
		t.enabled = false
	}
	t.lastLen = 0
}

func (t *Terminal) printInline(s string) {
	if t == nil || !t.enabled {
		return
	}
	// 新行比旧短时用空格覆盖尾部
	pad := 0
	if l := visLen(s); t.lastLen > l {
		pad = t.lastLen - l
	}
	var b strings.Builder
	b.WriteByte('\r')
	b.WriteString(s)
	if pad > 0 {
		b.WriteString(strings.Repeat(" ", pad))
	}
	if _, err := io.WriteString(t.w, b.String()); err != nil {
		t.enabled = false
		return
	}
	t.lastLen = visLen(s)
}

// shortenBase: 取基名并按可见宽度截断（尾部省略号）。
func shortenBase(s string, max int) string {
	if max <= 0 {
		return ""
	}
	base := filepath.Base(strings.TrimSpace(s))
	if base == "" {
		return ""
	}
	if visLen(base) <= max {
		return base
	}
	cut := max - 1
	if cut < 1 {
		cut = 1
	}
	rs := []rune(base)
	return string(rs[:cut]) + "…"
}

func visLen(s string) int { return len([]rune(s)) }

func safe(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return s
}

func formatSince(t0 time.Time) string { return formatDur(time.Since(t0)) }

func formatDur(d time.Duration) string {
	if d < time.Second {
		ms := d.Milliseconds()
		if ms <= 0 {
			ms = 0
		}
		return fmt.Sprintf("%dms", ms)
	}
	if d >= time.Minute {
		m := int(d / time.Minute)
		s := int((d % time.Minute) / time.Second)
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%.1fs", float64(d.Milliseconds())/1000.0)
}
