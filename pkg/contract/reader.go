package contract

import "context"

// Reader: 工作簿读取抽象。按工作表回调，不做业务解析，不在内部起并发。
type Reader interface {
	Iterate(ctx context.Context, roots []string, yield func(sh Sheet) error) error
}
