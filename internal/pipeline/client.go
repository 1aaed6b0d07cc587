package pipeline

import (
	"context"
	"fmt"

	"github.com/Act1nv3r/HUA/pkg/contract"
)

// PreviousLookup: 为一条记录查找上一版分析（未命中返回 nil）。
type PreviousLookup interface {
	Lookup(rec contract.Record) *contract.Previous
}

// LLMScorer 将 PromptBuilder + LLMClient + Decoder 组合为 ScoreClient：一次评分即一次完整请求。
type LLMScorer struct {
	Builder  contract.PromptBuilder
	LLM      contract.LLMClient
	Decoder  contract.Decoder
	Previous PreviousLookup
}

// Score 构建提示、调用模型并解码。构建失败视为不可重试。
func (c *LLMScorer) Score(ctx context.Context, rec contract.Record) (contract.Assessment, error) {
	var prev *contract.Previous
	if c.Previous != nil {
		prev = c.Previous.Lookup(rec)
	}
	p, err := c.Builder.Build(ctx, rec, prev)
	if err != nil {
		return contract.Assessment{}, fmt.Errorf("build prompt %s: %w", rec.ID, err)
	}
	raw, err := c.LLM.Invoke(ctx, p)
	if err != nil {
		return contract.Assessment{}, err
	}
	as, err := c.Decoder.Decode(ctx, raw)
	if err != nil {
		return contract.Assessment{}, fmt.Errorf("decode %s: %w", rec.ID, err)
	}
	return as, nil
}

var _ contract.ScoreClient = (*LLMScorer)(nil)
