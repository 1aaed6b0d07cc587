package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/Act1nv3r/HUA/internal/diag"
	"github.com/Act1nv3r/HUA/pkg/contract"
)

func TestMain(m *testing.M) {
	// 测试不写 logs/ 目录
	newLogger = func(string, string, bool) *diag.Logger { return diag.NewNop() }
	os.Exit(m.Run())
}

func writeBacklog(t *testing.T, path string) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetName("Sheet1", "Pagos"))
	rows := [][]any{
		{"ID", "Título", "Descripción", "Criterios de aceptación"},
		{"Ejemplo", "Plantilla", "No analizar", ""},
		{"HU-001", "Pagar con QR", "Como cliente quiero pagar con QR para no usar efectivo", "Dado un QR válido el pago se aprueba"},
		{"HU-002", "Consultar saldo", "Como cliente quiero ver mi saldo", ""},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Pagos", cell, &row))
	}
	require.NoError(t, f.SaveAs(path))
}

// workspace: 临时目录 + 输入工作簿 + 配置文件。mockOpts 为 mock provider 的 options（YAML 流式映射）。
func workspace(t *testing.T, mockOpts string) (dir, input, cfgPath string) {
	t.Helper()
	dir = t.TempDir()
	input = filepath.Join(dir, "Backlog.xlsx")
	writeBacklog(t, input)
	cfg := fmt.Sprintf(`output_dir: %q
llm: mock
retry:
  base_delay: 1ms
  max_delay: 2ms
history:
  enabled: true
  path: %q
provider:
  mock:
    client: mock
    options: %s
`, filepath.Join(dir, "Output"), filepath.Join(dir, "hist", "history.db"), mockOpts)
	cfgPath = filepath.Join(dir, "hua.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))
	return dir, input, cfgPath
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var out, errb bytes.Buffer
	code := execute(context.Background(), args, &out, &errb)
	return code, out.String(), errb.String()
}

func TestRunWritesVersionedOutputAndHistory(t *testing.T) {
	dir, input, cfgPath := workspace(t, "{scores: {HU-001: 9, HU-002: 6}}")

	code, _, stderr := runCLI(t, "run", "--config", cfgPath, "--status=false", input)
	require.Equal(t, exitOK, code, stderr)
	assert.FileExists(t, filepath.Join(dir, "Output", "Backlog_analizado_v1.0.xlsx"))

	// 第二次运行不覆盖，并从历史库取得上一版分析
	code, _, stderr = runCLI(t, "run", "-c", cfgPath, "--status=false", input)
	require.Equal(t, exitOK, code, stderr)
	assert.FileExists(t, filepath.Join(dir, "Output", "Backlog_analizado_v2.0.xlsx"))

	code, out, stderr := runCLI(t, "history", "-c", cfgPath)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, out, "backlog")
	assert.Contains(t, out, "Backlog_analizado_v2.0.xlsx")
	assert.Contains(t, out, "Velocidad media")
}

func TestRunLimitSkipsAndReports(t *testing.T) {
	dir, input, cfgPath := workspace(t, "{}")
	code, _, stderr := runCLI(t, "run", "-c", cfgPath, "--status=false", "--limit", "1", input)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stderr, "1 HUs no se analizaron")
	assert.FileExists(t, filepath.Join(dir, "Output", "Backlog_analizado_v1.0.xlsx"))
}

func TestRunFailedRecordExitsOne(t *testing.T) {
	dir, input, cfgPath := workspace(t, "{fail: [HU-002]}")
	code, _, _ := runCLI(t, "run", "-c", cfgPath, "--status=false", input)
	assert.Equal(t, exitFailed, code)
	// 报告仍然写出
	assert.FileExists(t, filepath.Join(dir, "Output", "Backlog_analizado_v1.0.xlsx"))
}

func TestRunCreditsExhaustedExitsTwo(t *testing.T) {
	dir, input, cfgPath := workspace(t, "{credits_after: 1}")
	code, _, stderr := runCLI(t, "run", "-c", cfgPath, "--status=false", "--concurrency", "1", input)
	assert.Equal(t, exitCredits, code)
	assert.Contains(t, stderr, "Créditos del proveedor agotados")
	assert.FileExists(t, filepath.Join(dir, "Output", "Backlog_analizado_v1.0.xlsx"))
}

func TestRunInvalidConfigExitsThree(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("max_concurrent_analysis: 0\n"), 0o644))
	code, _, stderr := runCLI(t, "run", "-c", bad, "--status=false", "x.xlsx")
	assert.Equal(t, exitConfig, code)
	assert.Contains(t, stderr, "max_concurrent_analysis")

	unknown := filepath.Join(dir, "unknown.yaml")
	require.NoError(t, os.WriteFile(unknown, []byte("colores: rojo\n"), 0o644))
	code, _, _ = runCLI(t, "run", "-c", unknown, "x.xlsx")
	assert.Equal(t, exitConfig, code)

	// 缺少输入
	code, _, _ = runCLI(t, "run", "-c", bad, "--concurrency", "2")
	assert.Equal(t, exitConfig, code)
}

func TestRunMissingInputExitsOne(t *testing.T) {
	dir, _, cfgPath := workspace(t, "{}")
	code, _, _ := runCLI(t, "run", "-c", cfgPath, "--status=false", filepath.Join(dir, "no-existe.xlsx"))
	assert.Equal(t, exitFailed, code)
}

func TestInitConfigNeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	code, out, _ := runCLI(t, "init-config", dir)
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "hua.yaml")
	assert.FileExists(t, filepath.Join(dir, ".env"))

	code, out, _ = runCLI(t, "init-config", dir)
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "Nada que hacer")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitConfig, exitCode(fmt.Errorf("x: %w", contract.ErrConfigInvalid)))
	assert.Equal(t, exitFailed, exitCode(errors.New("boom")))
	assert.Equal(t, exitCredits, exitCode(withCode(exitCredits, nil)))
	assert.Equal(t, exitConfig, exitCode(fmt.Errorf("wrapped: %w", withCode(exitConfig, errors.New("y")))))
}
