package diag

import (
	"sort"
	"strings"
	"sync"
)

// 进程内计数器（运行结束时随日志输出）：
// - op_total{comp,stage,result}
// - error_total{comp,code}
// - op_duration_ms{comp,stage}（累计）

var (
	metricsMu sync.Mutex
	counters  = map[string]int64{}
)

func key(parts ...string) string { return strings.Join(parts, "|") }

// IncOp 累加操作计数（result=success|error|retry）。
func IncOp(comp, stage, result string) {
	metricsMu.Lock()
	counters[key("op_total", comp, stage, result)]++
	metricsMu.Unlock()
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	metricsMu.Lock()
	counters[key("error_total", comp, code)]++
	metricsMu.Unlock()
}

// ObserveDuration 累计阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	metricsMu.Lock()
	counters[key("op_duration_ms", comp, stage)] += durMS
	metricsMu.Unlock()
}

// Counter 返回单个计数值。
func Counter(parts ...string) int64 {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	return counters[key(parts...)]
}

// MetricsSnapshot 返回按键排序的 "name|labels=value" 视图。
func MetricsSnapshot() map[string]int64 {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	out := make(map[string]int64, len(counters))
	for k, v := range counters {
		out[k] = v
	}
	return out
}

// MetricKeys 返回排序后的键（日志输出顺序稳定）。
func MetricKeys(m map[string]int64) []string {
	ks := make([]string, 0, len(m))
	for k := range m {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return ks
}

// ResetMetrics 清空计数器（测试用）。
func ResetMetrics() {
	metricsMu.Lock()
	counters = map[string]int64{}
	metricsMu.Unlock()
}
