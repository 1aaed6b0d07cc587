// Package llmclient 汇集各上游客户端共用的错误映射与提示词拆解。
package llmclient

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/Act1nv3r/HUA/pkg/contract"
)

// UpstreamError 承载上游非 2xx 响应；5xx/408 时可经 errors.Is 判定为 ErrTransient。
type UpstreamError struct {
	Provider string
	Status   int
	Msg      string
}

func (e UpstreamError) Error() string {
	return fmt.Sprintf("%s upstream %d: %s", e.Provider, e.Status, e.Msg)
}
func (e UpstreamError) Timeout() bool           { return e.Status == http.StatusRequestTimeout }
func (e UpstreamError) Temporary() bool         { return e.Status/100 == 5 }
func (e UpstreamError) UpstreamStatus() int     { return e.Status }
func (e UpstreamError) UpstreamMessage() string { return e.Msg }

// Is 让 5xx/408 归入瞬时错误。
func (e UpstreamError) Is(target error) bool {
	return target == contract.ErrTransient && (e.Timeout() || e.Temporary())
}

var _ contract.UpstreamError = UpstreamError{}

var creditWords = []string{"credit", "billing", "quota", "insufficient_quota", "payment"}

// MentionsCredits 判断上游消息是否指向额度/计费问题。
func MentionsCredits(msg string) bool {
	m := strings.ToLower(msg)
	for _, w := range creditWords {
		if strings.Contains(m, w) {
			return true
		}
	}
	return false
}

// FromStatus 将上游状态码映射到错误分类；2xx 返回 nil。
//
//	429 → ErrRateLimited；5xx/408 → ErrTransient；
//	402，或 400/403 且消息提及额度 → ErrCreditsExhausted；其余 4xx → ErrFatal。
func FromStatus(provider string, status int, msg string) error {
	msg = strings.TrimSpace(msg)
	if len(msg) > 300 {
		msg = msg[:300]
	}
	ue := UpstreamError{Provider: provider, Status: status, Msg: msg}
	switch {
	case status/100 == 2:
		return nil
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", ue, contract.ErrRateLimited)
	case status == http.StatusRequestTimeout || status/100 == 5:
		return ue
	case status == http.StatusPaymentRequired:
		return fmt.Errorf("%w: %w", ue, contract.ErrCreditsExhausted)
	case (status == http.StatusBadRequest || status == http.StatusForbidden) && MentionsCredits(msg):
		return fmt.Errorf("%w: %w", ue, contract.ErrCreditsExhausted)
	default:
		return fmt.Errorf("%w: %w", ue, contract.ErrFatal)
	}
}

// SplitPrompt 拆出 system/user 文本与可选的 json_schema 载荷。
// TextPrompt 整体视为 user。
func SplitPrompt(p contract.Prompt) (system, user string, schema string, err error) {
	switch v := p.(type) {
	case contract.TextPrompt:
		return "", string(v), "", nil
	case contract.ChatPrompt:
		var sys, usr []string
		for _, m := range v {
			switch strings.ToLower(strings.TrimSpace(m.Role)) {
			case "system":
				sys = append(sys, m.Content)
			case "json_schema":
				schema = m.Content
			default:
				usr = append(usr, m.Content)
			}
		}
		return strings.Join(sys, "\n\n"), strings.Join(usr, "\n\n"), schema, nil
	default:
		return "", "", "", fmt.Errorf("unsupported prompt %T: %w", p, contract.ErrInvalidInput)
	}
}
