package contract

import "errors"

// 错误分类（上层据此决定重试/降级/终止）。
var (
	// ErrSchemaNotFound: 表头扫描窗口内未识别到必需列（调用方回退到固定布局）。
	ErrSchemaNotFound = errors.New("schema not found")
	// ErrRecordIneligible: 行不具备评分资格（空 ID / 占位行）。
	ErrRecordIneligible = errors.New("record ineligible")
	// ErrRateLimited: 本地令牌等待超时或上游 429。可重试。
	ErrRateLimited = errors.New("rate limited")
	// ErrTransient: 网络/5xx/超时类瞬时错误。可重试。
	ErrTransient = errors.New("transient upstream failure")
	// ErrResponseInvalid: 上游回复无法解析为评分结构。可重试。
	ErrResponseInvalid = errors.New("response invalid")
	// ErrCreditsExhausted: 上游额度耗尽，停止派发。
	ErrCreditsExhausted = errors.New("credits exhausted")
	// ErrFatal: 不可重试的上游错误（鉴权/请求非法）。
	ErrFatal = errors.New("fatal upstream failure")
	// ErrInvalidInput: 调用参数非法。
	ErrInvalidInput = errors.New("invalid input")
	// ErrConfigInvalid: 配置不合法（权重和、并发、上限等）。
	ErrConfigInvalid = errors.New("config invalid")
	// ErrWriteFailure: 报告无法持久化。
	ErrWriteFailure = errors.New("write failure")
	// ErrPathInvalid: 目标路径无效/越界。
	ErrPathInvalid = errors.New("path invalid")
)

// Retryable 判断错误是否属于可重试类别。
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransient) || errors.Is(err, ErrResponseInvalid)
}
