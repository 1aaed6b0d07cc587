package workbook

import (
	"fmt"
	"math"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/Act1nv3r/HUA/pkg/contract"
)

// 综述页标签；测试与下游按文本定位。
const (
	LabelMean     = "Score Promedio Global"
	LabelMax      = "Score Máximo"
	LabelMin      = "Score Mínimo"
	LabelScored   = "HUs analizadas"
	LabelFailed   = "HUs con error"
	LabelSkipped  = "HUs no analizadas (límite por ejecución)"
	LabelGrandRow = "▶  PROMEDIO GENERAL"
	NoDataText    = "Sin datos válidos para mostrar."
)

var tierRange = map[contract.Tier]string{
	contract.TierExcellent:  "(90-100)",
	contract.TierComplete:   "(75-89)",
	contract.TierAcceptable: "(55-74)",
	contract.TierIncomplete: "(30-54)",
	contract.TierCritical:   "(0-29)",
}

var legend = []struct {
	tier contract.Tier
	desc string
}{
	{contract.TierExcellent, "Lista para prerefinamiento."},
	{contract.TierComplete, "Lista con pequeñas clarificaciones opcionales."},
	{contract.TierAcceptable, "Conviene definir algunos elementos antes del prerefinamiento."},
	{contract.TierIncomplete, "El PO puede fortalecer la definición en varias dimensiones."},
	{contract.TierCritical, "Oportunidad de definir más antes de involucrar a técnicos."},
}

// summaryWriter 以游标逐行写综述页。
type summaryWriter struct {
	f   *excelize.File
	st  *styles
	cur int
	err error
}

const sheetLastCol = "M"

func (w *summaryWriter) put(ref string, v any, s cellStyle) {
	if w.err != nil {
		return
	}
	if err := w.f.SetCellValue(contract.SummarySheet, ref, v); err != nil {
		w.err = err
		return
	}
	w.err = w.f.SetCellStyle(contract.SummarySheet, ref, ref, w.st.id(s))
}

func (w *summaryWriter) merge(from, to string) {
	if w.err != nil {
		return
	}
	w.err = w.f.MergeCell(contract.SummarySheet, from, to)
}

func (w *summaryWriter) height(h float64) {
	if w.err != nil {
		return
	}
	w.err = w.f.SetRowHeight(contract.SummarySheet, w.cur, h)
}

// band 写一整行合并的区块标题。
func (w *summaryWriter) band(text, bg string) {
	w.height(25)
	w.merge(fmt.Sprintf("A%d", w.cur), fmt.Sprintf("%s%d", sheetLastCol, w.cur))
	w.put(fmt.Sprintf("A%d", w.cur), text, h1(bg))
	w.cur++
}

// pair 写 "标签 | 值" 行（A:D 与 E:G 合并）。
func (w *summaryWriter) pair(label string, value any, fc string) {
	w.height(18)
	w.merge(fmt.Sprintf("A%d", w.cur), fmt.Sprintf("D%d", w.cur))
	w.put(fmt.Sprintf("A%d", w.cur), label, data(true, fc, "F7F9FF", "", 9))
	w.merge(fmt.Sprintf("E%d", w.cur), fmt.Sprintf("G%d", w.cur))
	w.put(fmt.Sprintf("E%d", w.cur), value, data(true, fc, "F7F9FF", "center", 9))
	w.cur++
}

func (a *Assembler) writeSummary(f *excelize.File, st *styles, rep contract.Report) error {
	sh := contract.SummarySheet
	widths := map[string]float64{"A": 5, "B": 24, "C": 14, "D": 13, "E": 13, "F": 13, "G": 13, "H": 13, "I": 13, "J": 2, "K": 14, "L": 3, "M": 55}
	for c, wd := range widths {
		if err := f.SetColWidth(sh, c, c, wd); err != nil {
			return err
		}
	}
	w := &summaryWriter{f: f, st: st, cur: 1}

	w.height(40)
	w.merge("A1", sheetLastCol+"1")
	w.put("A1", a.title, h1(navy))
	w.cur = 2
	names := make([]string, 0, len(rep.Initiatives))
	for _, ir := range rep.Initiatives {
		names = append(names, ir.Initiative.Name)
	}
	w.merge("A2", sheetLastCol+"2")
	w.put("A2", fmt.Sprintf("Generado: %s  |  HUs analizadas: %d  |  Iniciativas: %s",
		rep.GeneratedAt.Format("02/01/2006 15:04"), rep.Global.Count, strings.Join(names, ", ")),
		cellStyle{italic: true, size: 9, fc: "595959", halign: "center", valign: "center"})
	w.cur = 4

	a.sectionMetrics(w, rep)
	if rep.Global.Count == 0 {
		w.put(fmt.Sprintf("A%d", w.cur), NoDataText, data(true, "9C0006", "", "", 10))
		w.cur += 2
	} else {
		a.sectionTable(w, rep)
		a.sectionGaps(w, rep)
		a.sectionExecutive(w, rep)
	}
	a.sectionLegend(w, rep)
	if w.err != nil {
		return w.err
	}
	return f.SetPanes(sh, &excelize.Panes{Freeze: true, XSplit: 2, YSplit: 4, TopLeftCell: "C5", ActivePane: "bottomRight"})
}

// A. 全局指标。
func (a *Assembler) sectionMetrics(w *summaryWriter, rep contract.Report) {
	g := rep.Global
	w.band("▌ A.  MÉTRICAS GLOBALES", navy)
	if g.Count > 0 {
		w.pair(LabelMean, fmt.Sprintf("%.1f / 100", g.Mean), blue)
		w.pair(LabelMax, fmt.Sprintf("%d / 100", g.Max), green)
		w.pair(LabelMin, fmt.Sprintf("%d / 100", g.Min), brick)
		for _, t := range contract.Tiers {
			p := tierPalette[t]
			w.pair(fmt.Sprintf("%s  %s", t.Label(), tierRange[t]), fmt.Sprintf("%d HUs", g.Tiers[t]), p.fc)
		}
	}
	w.pair(LabelScored, g.Count, navy)
	w.pair(LabelFailed, g.Failed, errorPalette.fc)
	w.pair(LabelSkipped, g.Skipped, errorPalette.fc)
	for _, n := range rep.Notes {
		w.height(18)
		w.merge(fmt.Sprintf("A%d", w.cur), fmt.Sprintf("%s%d", sheetLastCol, w.cur))
		w.put(fmt.Sprintf("A%d", w.cur), "⚠ "+n, data(true, "9C0006", "FFF5F5", "", 9))
		w.cur++
	}
	w.cur++
}

func dimMeans(s contract.Stats) map[contract.Dimension]float64 {
	m := make(map[contract.Dimension]float64, len(s.Dimensions))
	for _, dm := range s.Dimensions {
		m[dm.Dimension] = dm.Mean
	}
	return m
}

func meanTier(mean float64) contract.Tier { return contract.TierFor(int(math.Round(mean))) }

// B. 按 Initiative × 维度的均分表。
func (a *Assembler) sectionTable(w *summaryWriter, rep contract.Report) {
	w.band("▌ B.  SCORES POR INICIATIVA Y DIMENSIÓN", navy)
	w.height(50)
	hdr := []struct{ col, text, bg string }{
		{"A", "#", slate},
		{"B", "INICIATIVA\n(Producto)", slate},
		{"C", "SCORE TOTAL\n(0-100)", navy},
	}
	for i, d := range contract.Dimensions {
		hdr = append(hdr, struct{ col, text, bg string }{
			colName(4 + i), fmt.Sprintf("%s\n(0-10)\n%.0f%%", d.Short(), rep.Weights[d]*100), blue,
		})
	}
	hdr = append(hdr,
		struct{ col, text, bg string }{"K", "NIVEL GENERAL", slate},
		struct{ col, text, bg string }{"M", "HUs CON MAYOR OPORTUNIDAD DE MEJORA", maroon},
	)
	for _, h := range hdr {
		w.put(fmt.Sprintf("%s%d", h.col, w.cur), h.text, h2(h.bg))
	}
	w.cur++

	idx := 0
	for _, ir := range rep.Initiatives {
		if ir.Stats.Count == 0 {
			continue
		}
		idx++
		zebra := "FFFFFF"
		if w.cur%2 == 1 {
			zebra = "F5F8FF"
		}
		w.height(22)
		w.put(fmt.Sprintf("A%d", w.cur), idx, data(false, "", zebra, "center", 9))
		w.put(fmt.Sprintf("B%d", w.cur), fmt.Sprintf("%s  (%d HUs)", ir.Initiative.Name, ir.Stats.Count), data(true, "", zebra, "", 9))
		w.statsRow(ir.Stats)
		w.put(fmt.Sprintf("M%d", w.cur), Attention(ir.Results), attentionStyle(Attention(ir.Results)))
		w.cur++
	}
	w.height(28)
	w.merge(fmt.Sprintf("A%d", w.cur), fmt.Sprintf("B%d", w.cur))
	w.put(fmt.Sprintf("A%d", w.cur), LabelGrandRow, data(true, "FFFFFF", navy, "center", 10))
	w.statsRow(rep.Global)
	w.cur += 2
}

// statsRow 写 C..I 的均分与 K 的等级，J/L 为分隔色块。
func (w *summaryWriter) statsRow(s contract.Stats) {
	p := scorePalette(s.Mean)
	w.put(fmt.Sprintf("C%d", w.cur), math.Round(s.Mean*10)/10, data(true, p.fc, p.bg, "center", 12))
	means := dimMeans(s)
	for i, d := range contract.Dimensions {
		v := means[d]
		dp := scorePalette(v)
		w.put(fmt.Sprintf("%s%d", colName(4+i), w.cur), fmt.Sprintf("%.1f/10", v/10), data(true, dp.fc, dp.bg, "center", 9))
	}
	w.put(fmt.Sprintf("J%d", w.cur), "", cellStyle{bg: navy})
	t := meanTier(s.Mean)
	tp := tierPalette[t]
	w.put(fmt.Sprintf("K%d", w.cur), t.Label(), data(true, tp.fc, tp.bg, "center", 9))
	w.put(fmt.Sprintf("L%d", w.cur), "", cellStyle{bg: navy})
}

// Attention 列出 Por definir（<30）与 En progreso（30..54）的 HU ID。
func Attention(results []contract.ScoreResult) string {
	var crit, prog []string
	for _, r := range results {
		if r.Failed() {
			continue
		}
		switch r.Tier {
		case contract.TierCritical:
			crit = append(crit, r.Record.ID)
		case contract.TierIncomplete:
			prog = append(prog, r.Record.ID)
		}
	}
	var lines []string
	if len(crit) > 0 {
		lines = append(lines, contract.TierCritical.Label()+": "+strings.Join(crit, ", "))
	}
	if len(prog) > 0 {
		lines = append(lines, contract.TierIncomplete.Label()+": "+strings.Join(prog, ", "))
	}
	if len(lines) == 0 {
		return "✅ Ninguna"
	}
	return strings.Join(lines, "\n")
}

func attentionStyle(txt string) cellStyle {
	if strings.HasPrefix(txt, "✅") {
		return cellStyle{size: 9, fc: green, bg: "E2EFDA", valign: "top", wrap: true, border: 1}
	}
	return cellStyle{size: 9, fc: maroon, bg: "FFF5F5", valign: "top", wrap: true, border: 1}
}

// C. 每个 Initiative 最弱的两个维度与高频缺口。
func (a *Assembler) sectionGaps(w *summaryWriter, rep contract.Report) {
	w.band("▌ C.  ELEMENTOS POR DEFINIR POR INICIATIVA", brick)
	w.height(40)
	for _, h := range []struct{ col, text, bg string }{
		{"A", "#", slate},
		{"B", "INICIATIVA", slate},
		{"C", "DIM. A\nFORTALECER", brick},
		{"D", "SCORE", brick},
		{"E", "2ª DIM.\nA FORTALECER", "C0392B"},
		{"F", "SCORE", "C0392B"},
	} {
		w.put(fmt.Sprintf("%s%d", h.col, w.cur), h.text, h2(h.bg))
	}
	w.merge(fmt.Sprintf("G%d", w.cur), fmt.Sprintf("M%d", w.cur))
	w.put(fmt.Sprintf("G%d", w.cur), "ELEMENTOS POR DEFINIR MÁS FRECUENTES  (número = HUs que lo requieren)", h2(brick))
	w.cur++

	idx := 0
	for _, ir := range rep.Initiatives {
		if ir.Stats.Count == 0 {
			continue
		}
		idx++
		zebra := "FFFFFF"
		if w.cur%2 == 1 {
			zebra = "F5F8FF"
		}
		w.height(110)
		w.put(fmt.Sprintf("A%d", w.cur), idx, data(false, "", zebra, "center", 9))
		w.put(fmt.Sprintf("B%d", w.cur), fmt.Sprintf("%s\n(%d HUs)", ir.Initiative.Name, ir.Stats.Count), data(true, "", zebra, "", 9))
		cols := [][2]string{{"C", "D"}, {"E", "F"}}
		for i, dm := range ir.Stats.Weakest(2) {
			p := scorePalette(dm.Mean)
			w.put(fmt.Sprintf("%s%d", cols[i][0], w.cur), dm.Dimension.Label(), data(true, p.fc, p.bg, "", 9))
			w.put(fmt.Sprintf("%s%d", cols[i][1], w.cur), fmt.Sprintf("%.1f/10", dm.Mean/10), data(true, p.fc, p.bg, "center", 9))
		}
		txt := GapThemes(ir.Stats.Gaps)
		w.merge(fmt.Sprintf("G%d", w.cur), fmt.Sprintf("M%d", w.cur))
		w.put(fmt.Sprintf("G%d", w.cur), txt, attentionStyle(txt))
		w.cur++
	}
	w.cur += 2
}

// GapThemes 渲染 "[n]  缺口" 列表。
func GapThemes(gs []contract.GapTheme) string {
	if len(gs) == 0 {
		return "✅ Todas las HUs tienen definición suficiente en estas dimensiones"
	}
	lines := make([]string, 0, len(gs))
	for _, g := range gs {
		lines = append(lines, fmt.Sprintf("[%d]  %s", g.Count, g.Text))
	}
	return strings.Join(lines, "\n")
}

// D. 执行摘要段落（无段落时整节省略）。
func (a *Assembler) sectionExecutive(w *summaryWriter, rep contract.Report) {
	has := false
	for _, ir := range rep.Initiatives {
		if strings.TrimSpace(ir.Executive) != "" {
			has = true
			break
		}
	}
	if !has {
		return
	}
	w.band("▌ D.  ANÁLISIS EJECUTIVO POR INICIATIVA", green)
	for _, ir := range rep.Initiatives {
		if strings.TrimSpace(ir.Executive) == "" {
			continue
		}
		w.height(90)
		w.merge(fmt.Sprintf("A%d", w.cur), fmt.Sprintf("B%d", w.cur))
		w.put(fmt.Sprintf("A%d", w.cur), ir.Initiative.Name, data(true, navy, "EBF5FF", "", 10))
		w.merge(fmt.Sprintf("C%d", w.cur), fmt.Sprintf("M%d", w.cur))
		w.put(fmt.Sprintf("C%d", w.cur), strings.TrimSpace(ir.Executive), cellStyle{size: 10, fc: "000000", valign: "top", wrap: true, border: 1})
		w.cur++
	}
	w.cur++
}

// E. 图例、权重与全局最弱维度排名。
func (a *Assembler) sectionLegend(w *summaryWriter, rep contract.Report) {
	w.band("▌ E.  LEYENDA DE SCORING", slate)
	for _, l := range legend {
		p := tierPalette[l.tier]
		w.height(18)
		w.merge(fmt.Sprintf("A%d", w.cur), fmt.Sprintf("D%d", w.cur))
		w.put(fmt.Sprintf("A%d", w.cur), fmt.Sprintf("%s  %s", l.tier.Label(), tierRange[l.tier]), data(true, p.fc, p.bg, "", 9))
		w.merge(fmt.Sprintf("E%d", w.cur), fmt.Sprintf("%s%d", sheetLastCol, w.cur))
		w.put(fmt.Sprintf("E%d", w.cur), l.desc, data(false, p.fc, p.bg, "", 9))
		w.cur++
	}
	w.cur++
	parts := make([]string, 0, len(contract.Dimensions))
	for _, d := range contract.Dimensions {
		parts = append(parts, fmt.Sprintf("%s: %.0f%%", d.Label(), rep.Weights[d]*100))
	}
	w.height(22)
	w.merge(fmt.Sprintf("A%d", w.cur), fmt.Sprintf("%s%d", sheetLastCol, w.cur))
	w.put(fmt.Sprintf("A%d", w.cur), "Pesos del score total ponderado:  "+strings.Join(parts, "  |  "), data(true, navy, "EBF5FF", "", 9))
	w.cur += 2

	if len(rep.Global.Dimensions) == 0 {
		return
	}
	w.band("▌ RANKING DE DIMENSIONES A FORTALECER (GLOBAL)", brick)
	for i, dm := range rep.Global.Dimensions {
		p := scorePalette(dm.Mean)
		w.put(fmt.Sprintf("A%d", w.cur), i+1, data(false, "", "", "center", 9))
		w.merge(fmt.Sprintf("B%d", w.cur), fmt.Sprintf("D%d", w.cur))
		w.put(fmt.Sprintf("B%d", w.cur), dm.Dimension.Label(), data(true, p.fc, p.bg, "", 9))
		w.put(fmt.Sprintf("E%d", w.cur), fmt.Sprintf("%.1f/10", dm.Mean/10), data(true, p.fc, p.bg, "center", 9))
		w.cur++
	}
}
