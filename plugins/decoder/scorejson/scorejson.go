package scorejson

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Act1nv3r/HUA/pkg/contract"
)

// Options: 解码选项。
type Options struct {
	// ScoreScale: 模型分值上限（默认 10），解码后统一换算到 0..100。
	ScoreScale float64 `json:"score_scale"`
}

type decoder struct {
	scale float64
}

// New 从原样 JSON Options 创建解码器。
func New(raw json.RawMessage) (contract.Decoder, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("scorejson options: %w", err)
		}
	}
	if opts.ScoreScale <= 0 {
		opts.ScoreScale = 10
	}
	return &decoder{scale: opts.ScoreScale}, nil
}

// reply 为模型回复的 JSON 形状。列表字段既接受 "a | b" 字符串也接受字符串数组。
type reply struct {
	Scores       map[string]flexNumber `json:"scores"`
	Layers       flexList              `json:"capas_tecnologicas"`
	Summary      string                `json:"resumen"`
	Gaps         map[string]flexList   `json:"brechas"`
	Questions    flexList              `json:"preguntas_criticas"`
	Improvements flexList              `json:"mejoras_identificadas"`
	Comparison   string                `json:"comparacion_anterior"`
}

// Decode 期望 Raw.Text 为 JSON 对象（允许 markdown 代码围栏或前后杂文）。
// 分值按 scale 换算到 0..100 并钳制；缺失维度记 0；scores 缺失视为协议无效。
func (d *decoder) Decode(ctx context.Context, raw contract.Raw) (contract.Assessment, error) {
	if err := ctx.Err(); err != nil {
		return contract.Assessment{}, err
	}
	body := ExtractJSON(raw.Text)
	if body == "" {
		return contract.Assessment{}, fmt.Errorf("decode assessment: no json object: %w", contract.ErrResponseInvalid)
	}
	var r reply
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return contract.Assessment{}, fmt.Errorf("decode assessment: %v: %w", err, contract.ErrResponseInvalid)
	}
	if len(r.Scores) == 0 {
		return contract.Assessment{}, fmt.Errorf("decode assessment: missing scores: %w", contract.ErrResponseInvalid)
	}
	as := contract.Assessment{
		Scores:     make(map[contract.Dimension]float64, len(contract.Dimensions)),
		Gaps:       make(map[contract.Dimension][]string, len(contract.Dimensions)),
		Layers:     []string(r.Layers),
		Summary:    strings.TrimSpace(r.Summary),
		Questions:  []string(r.Questions),
		Comparison: dropNA(strings.TrimSpace(r.Comparison)),
	}
	as.Improvements = dropNA(strings.Join(r.Improvements, " | "))
	for _, dim := range contract.Dimensions {
		v := float64(r.Scores[string(dim)])
		as.Scores[dim] = clamp(v * 100 / d.scale)
		if g := r.Gaps[string(dim)]; len(g) > 0 {
			as.Gaps[dim] = []string(g)
		}
	}
	return as, nil
}

var _ contract.Decoder = (*decoder)(nil)

// ExtractJSON 去除 markdown 围栏并截取首个 '{' 到末个 '}' 之间的内容。
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
	}
	i := strings.IndexByte(s, '{')
	j := strings.LastIndexByte(s, '}')
	if i < 0 || j < i {
		return ""
	}
	return s[i : j+1]
}

// SplitList 按 "|" 拆分并去空白。
func SplitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, "|") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type flexNumber float64

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	// 兼容 "7/10"
	if i := strings.IndexByte(s, '/'); i > 0 {
		s = s[:i]
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("score %q: %w", s, err)
	}
	*n = flexNumber(v)
	return nil
}

type flexList []string

func (l *flexList) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*l = SplitList(s)
		return nil
	}
	var arr []string
	if err := json.Unmarshal(b, &arr); err != nil {
		return err
	}
	var out []string
	for _, it := range arr {
		out = append(out, SplitList(it)...)
	}
	*l = out
	return nil
}

func dropNA(s string) string {
	if strings.EqualFold(s, "N/A") || strings.EqualFold(s, "NA") {
		return ""
	}
	return s
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

// DecodeExecutive 解析执行摘要回复 {"analisis_ejecutivo": "..."}；段落为空视为协议无效。
func DecodeExecutive(raw contract.Raw) (string, error) {
	body := ExtractJSON(raw.Text)
	if body == "" {
		return "", fmt.Errorf("decode executive: no json object: %w", contract.ErrResponseInvalid)
	}
	var r struct {
		Paragraph string `json:"analisis_ejecutivo"`
	}
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return "", fmt.Errorf("decode executive: %v: %w", err, contract.ErrResponseInvalid)
	}
	p := strings.TrimSpace(r.Paragraph)
	if p == "" {
		return "", fmt.Errorf("decode executive: empty paragraph: %w", contract.ErrResponseInvalid)
	}
	return p, nil
}
