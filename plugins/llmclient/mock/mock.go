package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Act1nv3r/HUA/pkg/contract"
	"github.com/Act1nv3r/HUA/plugins/llmclient"
)

// Options: 离线确定性客户端，用于本地演示与端到端测试。
type Options struct {
	// Scores: HU ID → 各维度统一分值（0..10）。未列出的 ID 按 ID 哈希取 3..9。
	Scores map[string]float64 `json:"scores,omitempty"`
	// Fail: 这些 ID 返回不可重试错误。
	Fail []string `json:"fail,omitempty"`
	// CreditsAfter: 第 N 次调用之后返回额度耗尽（0 为不启用）。
	CreditsAfter int `json:"credits_after,omitempty"`
	// DelayMS: 每次调用的模拟延迟。
	DelayMS int `json:"delay_ms,omitempty"`
	// Executive: 执行摘要回复文本，默认固定文案。
	Executive string `json:"executive,omitempty"`
}

type Client struct {
	opts  Options
	fail  map[string]bool
	calls atomic.Int64
}

func New(raw json.RawMessage) (contract.LLMClient, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("mock options: %w", err)
		}
	}
	if o.Executive == "" {
		o.Executive = "La iniciativa presenta un nivel de definición intermedio. Conviene reforzar criterios de aceptación e integraciones."
	}
	c := &Client{opts: o, fail: make(map[string]bool, len(o.Fail))}
	for _, id := range o.Fail {
		c.fail[strings.TrimSpace(id)] = true
	}
	return c, nil
}

var idLine = regexp.MustCompile(`(?m)^\s*ID:\s*(.+?)\s*$`)

// Calls 返回累计调用次数。
func (c *Client) Calls() int64 { return c.calls.Load() }

// Invoke 实现 contract.LLMClient：执行摘要请求回固定段落，其余按 HU ID 回评分 JSON。
func (c *Client) Invoke(ctx context.Context, p contract.Prompt) (contract.Raw, error) {
	n := c.calls.Add(1)
	if c.opts.DelayMS > 0 {
		t := time.NewTimer(time.Duration(c.opts.DelayMS) * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return contract.Raw{}, ctx.Err()
		case <-t.C:
		}
	} else if err := ctx.Err(); err != nil {
		return contract.Raw{}, err
	}
	if c.opts.CreditsAfter > 0 && n > int64(c.opts.CreditsAfter) {
		return contract.Raw{}, llmclient.FromStatus("mock", 402, "credit balance exhausted")
	}
	sys, user, _, err := llmclient.SplitPrompt(p)
	if err != nil {
		return contract.Raw{}, err
	}
	if strings.Contains(sys, "analisis_ejecutivo") {
		b, _ := json.Marshal(map[string]string{"analisis_ejecutivo": c.opts.Executive})
		return contract.Raw{Text: string(b)}, nil
	}
	id := ""
	if m := idLine.FindStringSubmatch(user); m != nil {
		id = m[1]
	}
	if c.fail[id] {
		return contract.Raw{}, llmclient.FromStatus("mock", 400, "rejected "+id)
	}
	return contract.Raw{Text: Assessment(id, c.score(id))}, nil
}

func (c *Client) score(id string) float64 {
	if v, ok := c.opts.Scores[id]; ok {
		return v
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return float64(3 + h.Sum32()%7)
}

// Assessment 生成各维度同分的评分 JSON（0..10 标度）。
func Assessment(id string, v float64) string {
	scores := make(map[string]float64, len(contract.Dimensions))
	gaps := make(map[string]string, len(contract.Dimensions))
	for _, d := range contract.Dimensions {
		scores[string(d)] = v
		if v >= 9 {
			gaps[string(d)] = contract.CompleteMarker
		} else {
			gaps[string(d)] = "Falta detallar " + strings.ToLower(d.Label()) + " | Sin responsables definidos"
		}
	}
	b, _ := json.Marshal(map[string]any{
		"scores":                scores,
		"capas_tecnologicas":    "Frontend | Backend",
		"resumen":               fmt.Sprintf("La HU %s tiene un nivel de definición de %.0f/10. Conviene precisar los pendientes.", id, v),
		"brechas":               gaps,
		"preguntas_criticas":    "¿Quién aprueba el flujo? | ¿Qué sistemas se integran?",
		"mejoras_identificadas": "N/A",
		"comparacion_anterior":  "N/A",
	})
	return string(b)
}

var _ contract.LLMClient = (*Client)(nil)
