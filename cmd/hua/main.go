package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Act1nv3r/HUA/internal/diag"
	"github.com/Act1nv3r/HUA/pkg/contract"
)

// version 由构建时 -ldflags 注入。
var version = "dev"

// 进程退出码。
const (
	exitOK      = 0
	exitFailed  = 1 // 运行失败或存在失败记录
	exitCredits = 2 // 供应商额度耗尽
	exitConfig  = 3 // 配置无效或启动失败
)

// newLogger 便于测试替换为 diag.NewNop。
var newLogger = diag.NewLogger

// exitError 携带退出码；msg 为空时不再向 stderr 重复打印。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error { return &exitError{code: code, err: err} }

// exitCode: exitError 取其码；配置错误为 3；其余非空错误为 1。
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if errors.Is(err, contract.ErrConfigInvalid) {
		return exitConfig
	}
	return exitFailed
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute 运行 CLI 并返回退出码。
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err != nil {
		var ee *exitError
		if !errors.As(err, &ee) || ee.err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
	}
	return exitCode(err)
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "hua",
		Short: "HUA - analizador de completitud de Historias de Usuario",
		Long: `HUA lee backlogs de Historias de Usuario en Excel, puntúa cada HU en seis
dimensiones con un LLM y escribe un nuevo libro versionado con el análisis
por HU, por iniciativa y global.

Códigos de salida: 0 éxito, 1 fallo o HUs con error, 2 créditos agotados,
3 configuración inválida.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.AddCommand(
		newRunCmd(),
		newInitConfigCmd(),
		newMCPCmd(),
		newHistoryCmd(),
	)
	return root
}
