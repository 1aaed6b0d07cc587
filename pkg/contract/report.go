package contract

import "time"

// GapTheme: 跨 HU 反复出现的缺口。
type GapTheme struct {
	Text  string
	Count int
}

// DimensionMean: 维度均分（0..100）。
type DimensionMean struct {
	Dimension Dimension
	Mean      float64
}

// Stats: 一组成功结果的汇总。失败结果只计入 Failed。
type Stats struct {
	Count   int
	Failed  int
	Skipped int
	Mean    float64
	Min     int
	Max     int
	Tiers   map[Tier]int
	// Dimensions: 按均分升序（平局按 Dimensions 顺序）。
	Dimensions []DimensionMean
	Gaps       []GapTheme
}

// Weakest 返回均分最低的 n 个维度。
func (s Stats) Weakest(n int) []DimensionMean {
	if n > len(s.Dimensions) {
		n = len(s.Dimensions)
	}
	return s.Dimensions[:n]
}

// InitiativeReport: 单个 Initiative 的结果与汇总。
type InitiativeReport struct {
	Initiative Initiative
	// Results: 按行号升序。
	Results   []ScoreResult
	Stats     Stats
	Executive string
}

// Report: 一次运行的完整分析结果，供装配器渲染。
type Report struct {
	GeneratedAt time.Time
	Source      string
	Weights     Weights
	Initiatives []InitiativeReport
	Global      Stats
	// Notes: 运行级提示（额度耗尽、截断等），渲染在综述页指标区下方。
	Notes []string
}

// SummarySheet: 输出工作簿首张汇总表名（输入时跳过同名表）。
const SummarySheet = "📊 Síntesis Ejecutiva"
