package contract

import (
	"context"
	"io"
)

// Writer: 将装配结果持久化，返回最终落盘路径。
// 不覆盖已有工件；ctx 取消需尽快返回；错误直接上抛。
type Writer interface {
	Write(ctx context.Context, base string, r io.Reader) (string, error)
}
