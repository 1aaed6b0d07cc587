// Package workbook 将评分报告渲染为 xlsx：首张综述页，其后逐表保留原始内容并在右侧追加分析列。
package workbook

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/Act1nv3r/HUA/pkg/contract"
)

// Options: 渲染选项。
type Options struct {
	// FontName: 全部单元格字体，默认 Arial。
	FontName string `json:"font_name,omitempty"`
	// Title: 综述页主标题。
	Title string `json:"title,omitempty"`
	// RowHeight: 已评分行的行高，默认 100。
	RowHeight float64 `json:"row_height,omitempty"`
}

// Assembler 实现 contract.Assembler。
type Assembler struct {
	font      string
	title     string
	rowHeight float64
}

// New 构造渲染器。
func New(opts *Options) *Assembler {
	a := &Assembler{font: "Arial", title: "📊  SÍNTESIS EJECUTIVA · DEFINICIÓN FUNCIONAL + CAPAS TECNOLÓGICAS", rowHeight: 100}
	if opts == nil {
		return a
	}
	if opts.FontName != "" {
		a.font = opts.FontName
	}
	if opts.Title != "" {
		a.title = opts.Title
	}
	if opts.RowHeight > 0 {
		a.rowHeight = opts.RowHeight
	}
	return a
}

var _ contract.Assembler = (*Assembler)(nil)

// analysisHeader: 追加列的标题、底色与列宽。
type analysisHeader struct {
	text  string
	bg    string
	width float64
}

// AnalysisHeaders 按输出顺序列出追加的分析列。
var AnalysisHeaders = buildHeaders()

func buildHeaders() []analysisHeader {
	hs := []analysisHeader{
		{"SCORE\nTOTAL\n(0-100)", navy, 9},
		{"NIVEL DE\nCOMPLETITUD", navy, 14},
	}
	for _, d := range contract.Dimensions {
		hs = append(hs, analysisHeader{"SCORE\n" + d.Short() + "\n(0-10)", blue, 9})
	}
	hs = append(hs,
		analysisHeader{"CAPAS TECNOLÓGICAS\nINVOLUCRADAS", slate, 35},
		analysisHeader{"RESUMEN\nEJECUTIVO", green, 45},
	)
	for _, d := range contract.Dimensions {
		hs = append(hs, analysisHeader{"POR DEFINIR\n" + d.Short(), brick, 38})
	}
	return append(hs,
		analysisHeader{"PREGUNTAS PARA\nCLARIFICAR", maroon, 45},
		analysisHeader{"MEJORAS\nIDENTIFICADAS", green, 40},
		analysisHeader{"COMPARACIÓN\nvs ANTERIOR", slate, 35},
	)
}

// ReadyText: 维度无缺口时的显示文本。
const ReadyText = "✅ Listo para prerefinamiento"

// Assemble 渲染完整工作簿并返回其字节流。
func (a *Assembler) Assemble(ctx context.Context, rep contract.Report) (io.Reader, error) {
	f := excelize.NewFile()
	defer f.Close()
	st := newStyles(f, a.font)

	if err := f.SetSheetName("Sheet1", contract.SummarySheet); err != nil {
		return nil, fmt.Errorf("assemble: %w", err)
	}
	used := map[string]bool{strings.ToLower(contract.SummarySheet): true}
	for _, ir := range rep.Initiatives {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := uniqueSheetName(ir.Initiative.Name, used)
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("assemble: sheet %q: %w", name, err)
		}
		if err := a.writeInitiative(f, st, name, ir); err != nil {
			return nil, fmt.Errorf("assemble: sheet %q: %w", name, err)
		}
	}
	if err := a.writeSummary(f, st, rep); err != nil {
		return nil, fmt.Errorf("assemble: summary: %w", err)
	}
	if st.err != nil {
		return nil, fmt.Errorf("assemble: style: %w", st.err)
	}
	f.SetActiveSheet(0)
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("assemble: serialize: %w", err)
	}
	return buf, nil
}

// uniqueSheetName 保证表名唯一（大小写不敏感）且不超过 31 个字符。
func uniqueSheetName(name string, used map[string]bool) string {
	base := truncRunes(strings.TrimSpace(name), 31)
	if base == "" {
		base = "Hoja"
	}
	cand := base
	for i := 2; used[strings.ToLower(cand)]; i++ {
		sfx := fmt.Sprintf(" (%d)", i)
		cand = truncRunes(base, 31-utf8.RuneCountInString(sfx)) + sfx
	}
	used[strings.ToLower(cand)] = true
	return cand
}

func truncRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func cell(col, row int) string {
	c, _ := excelize.CoordinatesToCellName(col, row)
	return c
}

func colName(col int) string {
	c, _ := excelize.ColumnNumberToName(col)
	return c
}

// writeInitiative 原样复制原始网格，再在原有最后一列之后隔一列写入分析列。
func (a *Assembler) writeInitiative(f *excelize.File, st *styles, sheet string, ir contract.InitiativeReport) error {
	in := ir.Initiative
	for r, row := range in.Rows {
		if len(row) == 0 {
			continue
		}
		vals := make([]any, len(row))
		for i, v := range row {
			vals[i] = v
		}
		if err := f.SetSheetRow(sheet, cell(1, r+1), &vals); err != nil {
			return err
		}
	}
	lastRow := len(in.Rows)
	for _, res := range ir.Results {
		if res.Record.Row+1 > lastRow {
			lastRow = res.Record.Row + 1
		}
	}
	sep := in.Rows.Width() + 1
	start := sep + 1
	if err := f.SetColWidth(sheet, colName(sep), colName(sep), 2); err != nil {
		return err
	}
	if lastRow > 0 {
		if err := f.SetCellStyle(sheet, cell(sep, 1), cell(sep, lastRow), st.id(cellStyle{bg: navy})); err != nil {
			return err
		}
	}

	hdr := in.Schema.HeaderRow + 1
	if err := f.SetRowHeight(sheet, hdr, 50); err != nil {
		return err
	}
	for i, h := range AnalysisHeaders {
		col := start + i
		if err := f.SetCellValue(sheet, cell(col, hdr), h.text); err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, cell(col, hdr), cell(col, hdr), st.id(h2(h.bg))); err != nil {
			return err
		}
		if err := f.SetColWidth(sheet, colName(col), colName(col), h.width); err != nil {
			return err
		}
	}

	for _, res := range ir.Results {
		row := res.Record.Row + 1
		if err := f.SetRowHeight(sheet, row, a.rowHeight); err != nil {
			return err
		}
		if err := a.writeResult(f, st, sheet, row, start, res); err != nil {
			return err
		}
	}
	return nil
}

// 分析列内偏移。
const (
	offTotal     = 0
	offTier      = 1
	offScores    = 2
	offLayers    = 8
	offSummary   = 9
	offGaps      = 10
	offQuestions = 16
	offImprove   = 17
	offCompare   = 18
)

func (a *Assembler) writeResult(f *excelize.File, st *styles, sheet string, row, start int, res contract.ScoreResult) error {
	zebra := "FFFFFF"
	if row%2 == 1 {
		zebra = "F5F8FF"
	}
	set := func(off int, v any, s cellStyle) error {
		c := cell(start+off, row)
		if err := f.SetCellValue(sheet, c, v); err != nil {
			return err
		}
		return f.SetCellStyle(sheet, c, c, st.id(s))
	}
	plain := cellStyle{size: 9, fc: "000000", bg: zebra, valign: "top", wrap: true, border: 1}

	if res.Failed() {
		ep := errorPalette
		if err := set(offTotal, contract.ErrorLabel, data(true, ep.fc, ep.bg, "center", 11)); err != nil {
			return err
		}
		if err := set(offTier, contract.ErrorLabel, data(true, ep.fc, ep.bg, "center", 9)); err != nil {
			return err
		}
		return set(offSummary, FailureReason(res.Err), plain)
	}

	as := res.Assessment
	tp := scorePalette(float64(res.Total))
	if err := set(offTotal, res.Total, data(true, tp.fc, tp.bg, "center", 14)); err != nil {
		return err
	}
	lp := tierPalette[res.Tier]
	if err := set(offTier, res.Tier.Label(), data(true, lp.fc, lp.bg, "center", 9)); err != nil {
		return err
	}
	for i, d := range contract.Dimensions {
		v := as.Scores[d]
		p := scorePalette(v)
		if err := set(offScores+i, Tenths(v)+"/10", data(true, p.fc, p.bg, "center", 10)); err != nil {
			return err
		}
	}
	layers := cellStyle{size: 9, fc: navy, bg: "E8F4FD", valign: "top", wrap: true, border: 1}
	if err := set(offLayers, Bullets(as.Layers, "▸ "), layers); err != nil {
		return err
	}
	if err := set(offSummary, as.Summary, plain); err != nil {
		return err
	}
	for i, d := range contract.Dimensions {
		txt := GapText(as.Gaps[d])
		s := cellStyle{size: 9, fc: "000000", bg: "FFF5F5", valign: "top", wrap: true, border: 1}
		if txt == ReadyText {
			s.fc, s.bg = green, "E2EFDA"
		}
		if err := set(offGaps+i, txt, s); err != nil {
			return err
		}
	}
	q := cellStyle{bold: true, size: 9, fc: maroon, bg: "FFF0F0", valign: "top", wrap: true, border: 1}
	if err := set(offQuestions, Bullets(as.Questions, "❓ "), q); err != nil {
		return err
	}
	imp := cellStyle{size: 9, fc: green, bg: "E2EFDA", valign: "top", wrap: true, border: 1}
	if err := set(offImprove, orNA(Bullets(splitBar(as.Improvements), "✓ ")), imp); err != nil {
		return err
	}
	cmp := cellStyle{size: 9, fc: maroon, bg: "FFF5F5", valign: "top", wrap: true, border: 1}
	return set(offCompare, orNA(strings.TrimSpace(as.Comparison)), cmp)
}

// Tenths 将 0..100 分值显示为 0..10 标度（最多一位小数）。
func Tenths(v float64) string {
	return strconv.FormatFloat(math.Round(v)/10, 'f', -1, 64)
}

// Bullets 每项一行并加前缀；空列表返回空串。
func Bullets(items []string, prefix string) string {
	var lines []string
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			lines = append(lines, prefix+it)
		}
	}
	return strings.Join(lines, "\n")
}

// GapText 渲染单个维度的缺口；无缺口或仅 "Completo" 时返回 ReadyText。
func GapText(items []string) string {
	var open []string
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" || strings.EqualFold(it, contract.CompleteMarker) {
			continue
		}
		open = append(open, it)
	}
	if len(open) == 0 {
		return ReadyText
	}
	return Bullets(open, "• ")
}

// FailureReason 生成失败行的说明文本。
func FailureReason(err error) string {
	if err == nil {
		return "Error: sin detalle"
	}
	return "Error: " + truncRunes(err.Error(), 300)
}

func splitBar(s string) []string {
	var out []string
	for _, p := range strings.Split(s, "|") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
