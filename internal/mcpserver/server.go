// Package mcpserver 通过 stdio 以 MCP 工具形式暴露 HU 分析流水线。
// 服务器本身不持有流水线状态：每次 analyze_workbook 调用都经由注入的 Analyzer
// 完成配置加载、完整运行并返回汇总。
package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Act1nv3r/HUA/internal/pipeline"
	"github.com/Act1nv3r/HUA/plugins/reader/xlsx"
)

// Request: 一次 analyze_workbook 调用的参数。
type Request struct {
	InputPath string
	Sheet     string
	Limit     int
}

// Analyzer 对单个文件执行一次完整运行。
type Analyzer func(ctx context.Context, req Request) (pipeline.Summary, error)

// New 创建注册了 analyze_workbook 的 MCP 服务器。
func New(version string, analyze Analyzer) *server.MCPServer {
	s := server.NewMCPServer(
		"hua",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions("Analiza backlogs de Historias de Usuario en Excel (.xlsx) o Word (.docx) y genera un informe de completitud por HU e iniciativa."),
	)
	tool := NewAnalyzeTool(analyze)
	s.AddTool(tool.Definition(), tool.Handle)
	return s
}

// Serve 在 stdin/stdout 上服务直到客户端关闭。
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

// AnalyzeTool: analyze_workbook 工具。
type AnalyzeTool struct {
	analyze Analyzer
}

func NewAnalyzeTool(analyze Analyzer) *AnalyzeTool {
	return &AnalyzeTool{analyze: analyze}
}

// Definition 返回工具定义（参数 schema）。
func (t *AnalyzeTool) Definition() mcp.Tool {
	return mcp.NewTool("analyze_workbook",
		mcp.WithDescription(
			"Analiza un Excel o Word de Historias de Usuario: puntúa cada HU en seis dimensiones, "+
				"escribe un nuevo archivo versionado con el análisis y devuelve las métricas globales.",
		),
		mcp.WithString("input_path",
			mcp.Required(),
			mcp.Description("Ruta del archivo .xlsx o .docx a analizar"),
		),
		mcp.WithString("sheet",
			mcp.Description("Analizar solo esta hoja (iniciativa)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Máximo de HUs a analizar (0 = todas, sujeto al tope por ejecución)"),
		),
	)
}

// Handle 处理一次调用。参数错误与运行失败以工具错误结果返回，而非协议错误。
func (t *AnalyzeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	in := strings.TrimSpace(req.GetString("input_path", ""))
	if in == "" {
		return mcp.NewToolResultError("input_path es obligatorio"), nil
	}
	if !xlsx.IsWorkbookName(in) {
		return mcp.NewToolResultError(fmt.Sprintf("solo se aceptan archivos .xlsx o .docx: %s", in)), nil
	}
	limit := intArg(req, "limit", 0)
	if limit < 0 {
		return mcp.NewToolResultError("limit debe ser >= 0"), nil
	}
	sum, err := t.analyze(ctx, Request{
		InputPath: in,
		Sheet:     strings.TrimSpace(req.GetString("sheet", "")),
		Limit:     limit,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("el análisis falló: %v", err)), nil
	}
	return mcp.NewToolResultText(Format(sum)), nil
}

// Format 将运行汇总渲染为 markdown 文本。
func Format(sum pipeline.Summary) string {
	g := sum.Report.Global
	var sb strings.Builder
	sb.WriteString("## Análisis de HUs\n\n")
	fmt.Fprintf(&sb, "- **Archivo generado**: %s\n", sum.Output)
	fmt.Fprintf(&sb, "- **HUs analizadas**: %d\n", sum.Scored)
	fmt.Fprintf(&sb, "- **Con error**: %d\n", sum.Failed)
	if sum.Skipped > 0 {
		fmt.Fprintf(&sb, "- **Sin analizar (límite)**: %d\n", sum.Skipped)
	}
	if g.Count > 0 {
		fmt.Fprintf(&sb, "- **Score promedio**: %.1f/100 (máx %d, mín %d)\n", g.Mean, g.Max, g.Min)
	}
	if weak := g.Weakest(2); len(weak) > 0 {
		names := make([]string, 0, len(weak))
		for _, d := range weak {
			names = append(names, fmt.Sprintf("%s (%.1f)", d.Dimension.Label(), d.Mean))
		}
		fmt.Fprintf(&sb, "- **Dimensiones más débiles**: %s\n", strings.Join(names, ", "))
	}
	if len(sum.Report.Notes) > 0 {
		sb.WriteString("\n")
		for _, n := range sum.Report.Notes {
			fmt.Fprintf(&sb, "> %s\n", n)
		}
	}
	return sb.String()
}

// intArg: JSON 数字按 float64 到达。
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}
