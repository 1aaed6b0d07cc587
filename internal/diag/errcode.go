package diag

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/Act1nv3r/HUA/pkg/contract"
)

// Code 是最小错误分类代码。
// 仅用于日志/指标汇总，与退出码解耦。
type Code string

const (
	CodeUnknown     Code = "unknown"
	CodeRateLimited Code = "rate_limited"
	CodeTransient   Code = "transient"
	CodeProtocol    Code = "protocol"
	CodeFatal       Code = "fatal"
	CodeCredits     Code = "credits"
	CodeConfig      Code = "config"
	CodeInvariant   Code = "invariant"
	CodeCancel      Code = "cancel"
	CodeIO          Code = "io"
)

// Classify 将错误归为最小分类。
// 仅依赖哨兵错误与标准库错误类型，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	// 取消/超时优先
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	switch {
	case errors.Is(err, contract.ErrCreditsExhausted):
		return CodeCredits
	case errors.Is(err, contract.ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, contract.ErrTransient):
		return CodeTransient
	case errors.Is(err, contract.ErrResponseInvalid):
		return CodeProtocol
	case errors.Is(err, contract.ErrFatal):
		return CodeFatal
	case errors.Is(err, contract.ErrConfigInvalid):
		return CodeConfig
	case errors.Is(err, contract.ErrInvalidInput),
		errors.Is(err, contract.ErrPathInvalid),
		errors.Is(err, contract.ErrRecordIneligible):
		return CodeInvariant
	case errors.Is(err, contract.ErrWriteFailure):
		return CodeIO
	}
	var perr *os.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	// 网络（连接/超时等）按瞬时处理
	var nerr net.Error
	if errors.As(err, &nerr) {
		return CodeTransient
	}
	return CodeUnknown
}

// NowUTC 返回 RFC3339 UTC 时间字符串。
func NowUTC() string { return time.Now().UTC().Format(time.RFC3339) }
