package ingest

import (
	"strings"
	"unicode"

	"github.com/Act1nv3r/HUA/pkg/contract"
)

const (
	// ScanWindow: 表头扫描窗口（前 15 行）。
	ScanWindow = 15
	// FallbackHeaderRow/FallbackDataRow: 未识别时的固定布局（第 8 行表头、第 9 行数据，1 基）。
	FallbackHeaderRow = 7
	FallbackDataRow   = 8
)

// 表头关键字（小写）。
var (
	idKeywords       = []string{"id", "no. hu", "no hu", "hu-id", "hu id", "código", "codigo", "identificador"}
	titleKeywords    = []string{"título", "titulo", "title", "nombre"}
	descKeywords     = []string{"descripción", "descripcion", "description", "definición", "definicion", "historia"}
	criteriaKeywords = []string{"criterios", "aceptación", "aceptacion", "acceptance"}
	rulesKeywords    = []string{"regla", "business rule"}
)

var fallbackColumns = map[contract.Role]int{
	contract.RoleID:          0,
	contract.RoleTitle:       1,
	contract.RoleDescription: 2,
}

// Detect 在前 ScanWindow 行内寻找同时命中 id/title/description 的首行。
// 未命中返回 ErrSchemaNotFound。
func Detect(rows contract.Grid) (contract.SchemaMap, error) {
	n := len(rows)
	if n > ScanWindow {
		n = ScanWindow
	}
	for r := 0; r < n; r++ {
		cols, ok := matchHeader(rows[r])
		if !ok {
			continue
		}
		return contract.SchemaMap{
			HeaderRow: r,
			DataRow:   r + 1,
			Columns:   cols,
			Headers:   headerTexts(rows[r]),
			Detected:  true,
		}, nil
	}
	return contract.SchemaMap{}, contract.ErrSchemaNotFound
}

// Resolve 返回 Detect 结果；未识别时回退到固定布局。
func Resolve(rows contract.Grid) contract.SchemaMap {
	if m, err := Detect(rows); err == nil {
		return m
	}
	var hdr []string
	if FallbackHeaderRow < len(rows) {
		hdr = rows[FallbackHeaderRow]
	}
	cols := make(map[contract.Role]int, len(fallbackColumns)+2)
	for k, v := range fallbackColumns {
		cols[k] = v
	}
	norm := normalizeRow(hdr)
	used := map[int]bool{0: true, 1: true, 2: true}
	assignOptional(norm, used, cols)
	return contract.SchemaMap{
		HeaderRow: FallbackHeaderRow,
		DataRow:   FallbackDataRow,
		Columns:   cols,
		Headers:   headerTexts(hdr),
		Detected:  false,
	}
}

func matchHeader(row []string) (map[contract.Role]int, bool) {
	norm := normalizeRow(row)
	used := map[int]bool{}
	cols := map[contract.Role]int{}

	id := findCol(norm, used, idKeywords, matchPrefix)
	if id < 0 {
		return nil, false
	}
	used[id] = true
	title := findCol(norm, used, titleKeywords, strings.Contains)
	if title < 0 {
		return nil, false
	}
	used[title] = true
	desc := findCol(norm, used, descKeywords, strings.Contains)
	if desc < 0 {
		return nil, false
	}
	used[desc] = true
	cols[contract.RoleID] = id
	cols[contract.RoleTitle] = title
	cols[contract.RoleDescription] = desc
	assignOptional(norm, used, cols)
	return cols, true
}

func assignOptional(norm []string, used map[int]bool, cols map[contract.Role]int) {
	if c := findCol(norm, used, criteriaKeywords, strings.Contains); c >= 0 {
		cols[contract.RoleCriteria] = c
		used[c] = true
	}
	if c := findCol(norm, used, rulesKeywords, strings.Contains); c >= 0 {
		cols[contract.RoleRules] = c
		used[c] = true
	}
}

func findCol(norm []string, used map[int]bool, kws []string, match func(cell, kw string) bool) int {
	for i, cell := range norm {
		if cell == "" || used[i] {
			continue
		}
		for _, kw := range kws {
			if match(cell, kw) {
				return i
			}
		}
	}
	return -1
}

// matchPrefix: 完全相等，或以关键字开头且其后不是字母/数字（"id" 不命中 "idioma"）。
func matchPrefix(cell, kw string) bool {
	if cell == kw {
		return true
	}
	if !strings.HasPrefix(cell, kw) {
		return false
	}
	next := []rune(cell[len(kw):])[0]
	return !unicode.IsLetter(next) && !unicode.IsDigit(next)
}

func normalizeRow(row []string) []string {
	out := make([]string, len(row))
	for i, c := range row {
		out[i] = strings.Join(strings.Fields(strings.ToLower(c)), " ")
	}
	return out
}

func headerTexts(row []string) []string {
	out := make([]string, len(row))
	for i, c := range row {
		out[i] = strings.Join(strings.Fields(c), " ")
	}
	return out
}
