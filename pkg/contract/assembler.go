package contract

import (
	"context"
	"io"
)

// Assembler: 将 Report 渲染为输出工件字节流。
type Assembler interface {
	Assemble(ctx context.Context, rep Report) (io.Reader, error)
}
