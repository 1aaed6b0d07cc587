package contract

import "context"

// Prompt: 不透明载荷，由具体 PromptBuilder/LLMClient 配对解释。
type Prompt any

// Message: 最小会话消息形状。
type Message struct {
	Role    string
	Content string
}

// TextPrompt: 文本型提示词。
type TextPrompt string

// ChatPrompt: 会话型提示词（system + user）。
type ChatPrompt []Message

// PromptBuilder: 基于 Record（及可选的上一版评分）构造确定性的 Prompt。
// 纯计算，不做 I/O。
type PromptBuilder interface {
	Build(ctx context.Context, rec Record, prev *Previous) (Prompt, error)
	// EstimateOverheadTokens: 与记录无关的固定开销（system/规则/schema）。
	EstimateOverheadTokens(estimate TokenEstimator) int
}

// TokenEstimator: 文本→token 的近似估算函数。
type TokenEstimator func(s string) int
