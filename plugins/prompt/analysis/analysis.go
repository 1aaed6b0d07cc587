package analysis

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/Act1nv3r/HUA/pkg/contract"
)

// Options 为 HU 评估 PromptBuilder 的最小配置。
// InlineSystemTemplate / SystemTemplatePath 二选一，均为空时使用内置模板。
type Options struct {
	InlineSystemTemplate string `json:"inline_system_template"`
	SystemTemplatePath   string `json:"system_template_path"`
	// Context: 组织背景（核心系统、常见集成、监管框架），追加在 system 尾部。
	Context     string `json:"context"`
	ContextPath string `json:"context_path"`
}

// Builder: 以单条 Record（可附上一版评估）构造 ChatPrompt（system+user+json_schema）。
// 运行期不做 I/O；模板在构造期解析。
type Builder struct {
	sysT    *template.Template
	context string
	weights contract.Weights
}

// New 创建 PromptBuilder。weights 用于在提示中标注各维度占比。
func New(opts *Options, weights contract.Weights) (*Builder, error) {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	src := defaultSystemTemplate
	if o.InlineSystemTemplate != "" {
		src = o.InlineSystemTemplate
	} else if o.SystemTemplatePath != "" {
		b, err := os.ReadFile(o.SystemTemplatePath)
		if err != nil {
			return nil, fmt.Errorf("system template read: %w", err)
		}
		src = string(b)
	}
	tpl, err := template.New("system").Funcs(funcs).Parse(src)
	if err != nil {
		return nil, fmt.Errorf("system template parse: %w", err)
	}
	ctxText := o.Context
	if ctxText == "" && o.ContextPath != "" {
		b, err := os.ReadFile(o.ContextPath)
		if err != nil {
			return nil, fmt.Errorf("context read: %w", err)
		}
		ctxText = string(b)
	}
	if weights == nil {
		weights = contract.DefaultWeights()
	}
	return &Builder{sysT: tpl, context: strings.TrimSpace(ctxText), weights: weights}, nil
}

var funcs = template.FuncMap{"inc": func(i int) int { return i + 1 }}

type dimView struct {
	Key    string
	Label  string
	Weight int
	Hint   string
}

func (b *Builder) system() (string, error) {
	dims := make([]dimView, 0, len(contract.Dimensions))
	for _, d := range contract.Dimensions {
		dims = append(dims, dimView{
			Key:    string(d),
			Label:  d.Label(),
			Weight: int(b.weights[d]*100 + 0.5),
			Hint:   dimensionHints[d],
		})
	}
	var buf bytes.Buffer
	if err := b.sysT.Execute(&buf, map[string]any{"Dimensions": dims}); err != nil {
		return "", err
	}
	sys := buf.String()
	if b.context != "" {
		sys += "\n\n<contexto>\n" + b.context + "\n</contexto>"
	}
	return sys, nil
}

// Build: 基于 Record 构造 ChatPrompt。
func (b *Builder) Build(ctx context.Context, rec contract.Record, prev *contract.Previous) (contract.Prompt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if contract.IsSentinelID(rec.ID) {
		return nil, fmt.Errorf("prompt: %w: record without identifier", contract.ErrInvalidInput)
	}
	sys, err := b.system()
	if err != nil {
		return nil, fmt.Errorf("system render: %w", contract.ErrInvalidInput)
	}

	var uw bytes.Buffer
	uw.Grow(2048)
	uw.WriteString(userIntro)
	uw.WriteString("\n<historia>\n")
	writeRecord(&uw, rec)
	uw.WriteString("</historia>\n")
	if prev != nil {
		writePrevious(&uw, prev)
	}
	uw.WriteString(userRules)

	return contract.ChatPrompt([]contract.Message{
		{Role: "system", Content: sys},
		{Role: "user", Content: uw.String()},
		{Role: "json_schema", Content: assessmentJSONSchema},
	}), nil
}

// EstimateOverheadTokens: 与记录无关的固定开销（system + 固定 user 规则 + schema）。
func (b *Builder) EstimateOverheadTokens(estimate contract.TokenEstimator) int {
	if estimate == nil {
		return 0
	}
	sys, _ := b.system()
	return estimate(sys) + estimate(userIntro+userRules) + estimate(assessmentJSONSchema)
}

var _ contract.PromptBuilder = (*Builder)(nil)

// writeRecord: 输出 "campo: valor"，空值省略；无表头时回退到角色字段。
func writeRecord(w *bytes.Buffer, rec contract.Record) {
	if len(rec.Fields) == 0 {
		for _, f := range []contract.Field{
			{Name: "ID", Value: rec.ID},
			{Name: "Título", Value: rec.Title},
			{Name: "Descripción", Value: rec.Description},
			{Name: "Criterios de aceptación", Value: rec.Criteria},
			{Name: "Reglas de negocio", Value: rec.Rules},
		} {
			writeField(w, f)
		}
		return
	}
	for _, f := range rec.Fields {
		writeField(w, f)
	}
}

func writeField(w *bytes.Buffer, f contract.Field) {
	v := strings.TrimSpace(f.Value)
	if v == "" || strings.EqualFold(v, "nan") || strings.EqualFold(v, "none") {
		return
	}
	w.WriteString("  ")
	w.WriteString(f.Name)
	w.WriteString(": ")
	w.WriteString(v)
	w.WriteByte('\n')
}

func writePrevious(w *bytes.Buffer, p *contract.Previous) {
	w.WriteString("\n<analisis_anterior>\n")
	fmt.Fprintf(w, "Score total previo: %.0f/100\n", p.Total)
	if p.Tier != "" {
		fmt.Fprintf(w, "Nivel previo: %s\n", p.Tier)
	}
	if p.Summary != "" {
		fmt.Fprintf(w, "Resumen previo: %s\n", truncate(p.Summary, 300))
	}
	var gaps []string
	for _, d := range contract.Dimensions {
		g := strings.TrimSpace(p.Gaps[d])
		if g == "" {
			continue
		}
		gaps = append(gaps, string(d)+": "+truncate(g, 60))
	}
	if len(gaps) > 0 {
		fmt.Fprintf(w, "Brechas previas: %s\n", truncate(strings.Join(gaps, " | "), 400))
	}
	w.WriteString("</analisis_anterior>\n")
	w.WriteString(previousRules)
}

func truncate(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n]) + "..."
}
