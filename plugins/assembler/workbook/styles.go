package workbook

import (
	"github.com/xuri/excelize/v2"

	"github.com/Act1nv3r/HUA/pkg/contract"
)

// 配色（背景, 字色）。
type palette struct{ bg, fc string }

const (
	navy     = "1F3864"
	blue     = "2E75B6"
	slate    = "44546A"
	green    = "375623"
	brick    = "843C0C"
	maroon   = "7B2C2C"
	gridGray = "D0D0D0"
)

var tierPalette = map[contract.Tier]palette{
	contract.TierExcellent:  {"E2EFDA", "375623"},
	contract.TierComplete:   {"DDEEFF", "1F3864"},
	contract.TierAcceptable: {"FFEB9C", "9C6500"},
	contract.TierIncomplete: {"FCEBD5", "843C0C"},
	contract.TierCritical:   {"FFC7CE", "9C0006"},
}

var errorPalette = palette{"F2F2F2", "595959"}

// scorePalette: 分值（0..100）的配色；与等级阈值一致，但 75..89 用更深的绿。
func scorePalette(v float64) palette {
	switch {
	case v >= 90:
		return palette{"E2EFDA", "375623"}
	case v >= 75:
		return palette{"C6EFCE", "375623"}
	case v >= 55:
		return palette{"FFEB9C", "9C6500"}
	case v >= 30:
		return palette{"FCEBD5", "843C0C"}
	default:
		return palette{"FFC7CE", "9C0006"}
	}
}

// cellStyle 是样式缓存键。
type cellStyle struct {
	bold    bool
	italic  bool
	size    float64
	fc, bg  string
	halign  string
	valign  string
	wrap    bool
	border  int // 0 无，1 细灰，2 中粗深蓝
}

// styles 按键缓存 excelize 样式 ID；首个错误被保留。
type styles struct {
	f     *excelize.File
	font  string
	cache map[cellStyle]int
	err   error
}

func newStyles(f *excelize.File, font string) *styles {
	return &styles{f: f, font: font, cache: map[cellStyle]int{}}
}

func (s *styles) id(k cellStyle) int {
	if id, ok := s.cache[k]; ok {
		return id
	}
	if k.size == 0 {
		k.size = 9
	}
	st := &excelize.Style{
		Font:      &excelize.Font{Bold: k.bold, Italic: k.italic, Size: k.size, Family: s.font, Color: k.fc},
		Alignment: &excelize.Alignment{Horizontal: k.halign, Vertical: k.valign, WrapText: k.wrap},
	}
	if k.bg != "" {
		st.Fill = excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{k.bg}}
	}
	switch k.border {
	case 1:
		st.Border = box(gridGray, 1)
	case 2:
		st.Border = box(navy, 2)
	}
	id, err := s.f.NewStyle(st)
	if err != nil && s.err == nil {
		s.err = err
	}
	s.cache[k] = id
	return id
}

func box(color string, style int) []excelize.Border {
	out := make([]excelize.Border, 0, 4)
	for _, side := range []string{"left", "right", "top", "bottom"} {
		out = append(out, excelize.Border{Type: side, Color: color, Style: style})
	}
	return out
}

// h1: 区块标题。
func h1(bg string) cellStyle {
	return cellStyle{bold: true, size: 12, fc: "FFFFFF", bg: bg, halign: "center", valign: "center", wrap: true, border: 2}
}

// h2: 列标题。
func h2(bg string) cellStyle {
	return cellStyle{bold: true, size: 10, fc: "FFFFFF", bg: bg, halign: "center", valign: "center", wrap: true, border: 1}
}

// data: 普通数据格。
func data(bold bool, fc, bg, halign string, size float64) cellStyle {
	if fc == "" {
		fc = "000000"
	}
	if halign == "" {
		halign = "left"
	}
	return cellStyle{bold: bold, size: size, fc: fc, bg: bg, halign: halign, valign: "center", wrap: true, border: 1}
}
