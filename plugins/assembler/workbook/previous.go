package workbook

import (
	"strconv"
	"strings"

	"github.com/Act1nv3r/HUA/pkg/contract"
)

// AnalysisStart 在表头行中定位 SCORE TOTAL 列；未找到返回 -1。
func AnalysisStart(headers []string) int {
	for i, h := range headers {
		u := strings.ToUpper(h)
		if strings.Contains(u, "SCORE") && strings.Contains(u, "TOTAL") {
			return i
		}
	}
	return -1
}

// ParsePrevious 从本工具输出的一行（start 为 SCORE TOTAL 列）还原上一版分析。
// 失败行或总分不可解析时返回 false。ID/Title 由调用方填充。
func ParsePrevious(row []string, start int) (contract.Previous, bool) {
	at := func(off int) string {
		i := start + off
		if start < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	total, err := strconv.ParseFloat(at(offTotal), 64)
	if err != nil {
		return contract.Previous{}, false
	}
	p := contract.Previous{
		Total:   total,
		Tier:    at(offTier),
		Summary: at(offSummary),
		Scores:  make(map[contract.Dimension]float64, len(contract.Dimensions)),
		Gaps:    make(map[contract.Dimension]string, len(contract.Dimensions)),
	}
	for i, d := range contract.Dimensions {
		s := strings.TrimSuffix(at(offScores+i), "/10")
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			p.Scores[d] = v
		}
		if g := at(offGaps + i); g != "" {
			p.Gaps[d] = g
		}
	}
	return p, true
}
