package analysis

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/Act1nv3r/HUA/pkg/contract"
)

// BuildExecutive 构造单个 Initiative 的执行摘要提示（system+user+json_schema）。
func BuildExecutive(ctx context.Context, ir contract.InitiativeReport) (contract.Prompt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ir.Stats.Count == 0 {
		return nil, fmt.Errorf("prompt: %w: initiative %q has no scored records", contract.ErrInvalidInput, ir.Initiative.Name)
	}
	return contract.ChatPrompt([]contract.Message{
		{Role: "system", Content: executiveSystem},
		{Role: "user", Content: Digest(ir)},
		{Role: "json_schema", Content: `{"type":"object","required":["analisis_ejecutivo"],"properties":{"analisis_ejecutivo":{"type":"string"}}}`},
	}), nil
}

// Digest 生成 Initiative 的紧凑摘要：均分、逐条总分/等级、截断的总结与未完成缺口。
// 仅包含成功评分的记录。
func Digest(ir contract.InitiativeReport) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "INICIATIVA: %s\n", ir.Initiative.Name)
	fmt.Fprintf(&b, "HUs: %d, Score promedio: %.1f\n", ir.Stats.Count, ir.Stats.Mean)
	for _, r := range ir.Results {
		if r.Failed() {
			continue
		}
		as := r.Assessment
		var gaps []string
		for _, d := range contract.Dimensions {
			for _, g := range as.Gaps[d] {
				if strings.EqualFold(strings.TrimSpace(g), contract.CompleteMarker) {
					continue
				}
				gaps = append(gaps, string(d)+": "+truncate(g, 50))
			}
		}
		fmt.Fprintf(&b, "  %s (%d, %s): Resumen: %s. Mejoras: %s. Comparación: %s. Brechas: %s\n",
			r.Record.ID, r.Total, r.Tier.Label(),
			truncate(as.Summary, 150),
			orNA(truncate(as.Improvements, 120)),
			orNA(truncate(as.Comparison, 120)),
			truncate(strings.Join(gaps, " | "), 200))
	}
	return b.String()
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
