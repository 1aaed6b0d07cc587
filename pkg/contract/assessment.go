package contract

import "time"

// CompleteMarker: 维度无缺口时模型回复的占位词。
const CompleteMarker = "Completo"

// Assessment: 单条 HU 的结构化评估（来自模型回复解码）。
// Scores 已换算到 0..100。
type Assessment struct {
	Scores       map[Dimension]float64
	Layers       []string
	Summary      string
	Gaps         map[Dimension][]string
	Questions    []string
	Improvements string
	Comparison   string
}

// Previous: 上一版报告中匹配到的评分（用于对比提示与回归说明）。
type Previous struct {
	ID      string
	Title   string
	Total   float64
	Tier    string
	Scores  map[Dimension]float64 // 0..10，按上一版报表原样
	Summary string
	Gaps    map[Dimension]string
}

// Outcome: 评分器对每条派发记录产出的唯一结局。
type Outcome struct {
	Record     Record
	Assessment Assessment
	Attempts   int
	Err        error
	Duration   time.Duration
}

// Failed 报告是否为失败结局。
func (o Outcome) Failed() bool { return o.Err != nil }

// ScoreResult: 聚合后的单条结果（总分与等级只在此处计算一次）。
type ScoreResult struct {
	Outcome
	Total int
	Tier  Tier
}
