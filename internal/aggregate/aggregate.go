// Package aggregate 计算加权总分、等级与各层级统计。全部为纯函数：
// 相同输入必然得到相同输出，不依赖完成顺序。
package aggregate

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/Act1nv3r/HUA/pkg/contract"
)

const (
	// TopGaps: 反复出现缺口的输出条数。
	TopGaps = 6
	// gapMinLen: 短于此长度（含）的缺口条目视为噪声。
	gapMinLen = 12
	// gapKeyLen: 分组键取前 70 个字符。
	gapKeyLen = 70
)

// Aggregator 持有一次运行的维度权重。
type Aggregator struct {
	weights contract.Weights
}

// New 构造聚合器；权重需事先通过 Validate。
func New(w contract.Weights) *Aggregator {
	return &Aggregator{weights: w}
}

// Total 计算 round(Σ score_i × w_i)，结果钳制到 0..100。缺失维度按 0 计。
func (a *Aggregator) Total(as contract.Assessment) int {
	sum := 0.0
	for _, d := range contract.Dimensions {
		sum += clamp(as.Scores[d]) * a.weights[d]
	}
	t := int(math.Round(sum))
	if t < 0 {
		return 0
	}
	if t > 100 {
		return 100
	}
	return t
}

// Result 将评分结局转换为带总分与等级的结果；失败结局不计算分数。
func (a *Aggregator) Result(o contract.Outcome) contract.ScoreResult {
	r := contract.ScoreResult{Outcome: o}
	if o.Failed() {
		return r
	}
	r.Total = a.Total(o.Assessment)
	r.Tier = contract.TierFor(r.Total)
	return r
}

// Stats 汇总一组结果。results 的顺序决定缺口平局的先后（调用方按行序传入）。
func (a *Aggregator) Stats(results []contract.ScoreResult) contract.Stats {
	st := contract.Stats{Tiers: make(map[contract.Tier]int, len(contract.Tiers))}
	for _, t := range contract.Tiers {
		st.Tiers[t] = 0
	}
	dimSum := make(map[contract.Dimension]float64, len(contract.Dimensions))
	sum := 0
	for _, r := range results {
		if r.Failed() {
			st.Failed++
			continue
		}
		if st.Count == 0 || r.Total < st.Min {
			st.Min = r.Total
		}
		if st.Count == 0 || r.Total > st.Max {
			st.Max = r.Total
		}
		st.Count++
		sum += r.Total
		st.Tiers[r.Tier]++
		for _, d := range contract.Dimensions {
			dimSum[d] += clamp(r.Assessment.Scores[d])
		}
	}
	if st.Count > 0 {
		st.Mean = float64(sum) / float64(st.Count)
		st.Dimensions = make([]contract.DimensionMean, 0, len(contract.Dimensions))
		for _, d := range contract.Dimensions {
			st.Dimensions = append(st.Dimensions, contract.DimensionMean{Dimension: d, Mean: dimSum[d] / float64(st.Count)})
		}
		sort.SliceStable(st.Dimensions, func(i, j int) bool { return st.Dimensions[i].Mean < st.Dimensions[j].Mean })
	}
	st.Gaps = RecurringGaps(results, TopGaps)
	return st
}

// RecurringGaps 统计跨结果重复出现的缺口：按频次降序，平局按首次出现顺序。
func RecurringGaps(results []contract.ScoreResult, top int) []contract.GapTheme {
	counts := map[string]int{}
	var order []string
	for _, r := range results {
		if r.Failed() {
			continue
		}
		for _, d := range contract.Dimensions {
			for _, item := range r.Assessment.Gaps[d] {
				key, ok := gapKey(item)
				if !ok {
					continue
				}
				if _, seen := counts[key]; !seen {
					order = append(order, key)
				}
				counts[key]++
			}
		}
	}
	themes := make([]contract.GapTheme, 0, len(order))
	for _, k := range order {
		themes = append(themes, contract.GapTheme{Text: k, Count: counts[k]})
	}
	sort.SliceStable(themes, func(i, j int) bool { return themes[i].Count > themes[j].Count })
	if top > 0 && len(themes) > top {
		themes = themes[:top]
	}
	return themes
}

func gapKey(item string) (string, bool) {
	s := strings.TrimSpace(item)
	if s == "" || strings.EqualFold(s, contract.CompleteMarker) {
		return "", false
	}
	rs := []rune(s)
	if len(rs) <= gapMinLen {
		return "", false
	}
	if len(rs) > gapKeyLen {
		rs = rs[:gapKeyLen]
	}
	return string(rs), true
}

// Build 以完整结局集合构建报告。outcomes 顺序任意；每个 Initiative 内按行号排序。
// skipped: 每个 Initiative 因上限未派发的合格记录数。
func (a *Aggregator) Build(inits []contract.Initiative, outcomes []contract.Outcome, skipped map[string]int, now time.Time) contract.Report {
	byInit := make(map[string][]contract.ScoreResult, len(inits))
	for _, o := range outcomes {
		byInit[o.Record.Initiative] = append(byInit[o.Record.Initiative], a.Result(o))
	}
	rep := contract.Report{GeneratedAt: now, Weights: a.weights}
	var all []contract.ScoreResult
	for _, in := range inits {
		rs := byInit[in.Name]
		sort.SliceStable(rs, func(i, j int) bool { return rs[i].Record.Row < rs[j].Record.Row })
		st := a.Stats(rs)
		st.Skipped = skipped[in.Name]
		rep.Initiatives = append(rep.Initiatives, contract.InitiativeReport{Initiative: in, Results: rs, Stats: st})
		all = append(all, rs...)
	}
	rep.Global = a.Stats(all)
	for _, n := range skipped {
		rep.Global.Skipped += n
	}
	return rep
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
