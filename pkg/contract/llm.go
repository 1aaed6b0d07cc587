package contract

import "context"

// Raw: LLM 客户端返回的原始文本（原样，不清洗）。
type Raw struct {
	Text string
}

// LLMClient: 单次同步调用；应尊重 ctx 取消/超时。
type LLMClient interface {
	Invoke(ctx context.Context, p Prompt) (Raw, error)
}

// Decoder: 将 Raw 解码为 Assessment；格式不符返回 ErrResponseInvalid。
type Decoder interface {
	Decode(ctx context.Context, raw Raw) (Assessment, error)
}

// ScoreClient: 对单条 HU 评分（提示词构造 + 调用 + 解码的组合）。
type ScoreClient interface {
	Score(ctx context.Context, rec Record) (Assessment, error)
}

// ScoreClientFunc 适配普通函数。
type ScoreClientFunc func(ctx context.Context, rec Record) (Assessment, error)

func (f ScoreClientFunc) Score(ctx context.Context, rec Record) (Assessment, error) {
	return f(ctx, rec)
}
