// Package docx 将 Word 文档（.docx）中的 HU 转换为与工作簿相同的单元格网格，
// 以便复用表头识别与摄取流程。
package docx

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/Act1nv3r/HUA/pkg/contract"
)

// documentPart: 正文所在的包内路径。
const documentPart = "word/document.xml"

// MaxDocumentBytes: 解压后正文 XML 的上限（防压缩炸弹）。
const MaxDocumentBytes int64 = 64 << 20

// StandardHeaders: 输出网格的固定列，其后追加文档中出现的其它列。
var StandardHeaders = []string{"ID", "Título", "Descripción", "Criterios de aceptación", "Notas"}

// headerAliases: 规范化后的 Word 表头 → 标准列。
var headerAliases = map[string]string{
	"id":                      "ID",
	"id hu":                   "ID",
	"hu id":                   "ID",
	"hu-id":                   "ID",
	"no. hu":                  "ID",
	"no hu":                   "ID",
	"código":                  "ID",
	"codigo":                  "ID",
	"titulo":                  "Título",
	"título":                  "Título",
	"etapa/módulo":            "Título",
	"etapa":                   "Título",
	"descripción corta":       "Título",
	"descripción":             "Descripción",
	"descripcion":             "Descripción",
	"descripción/objetivo":    "Descripción",
	"historia de usuario":     "Descripción",
	"definición funcional":    "Descripción",
	"definicion funcional":    "Descripción",
	"criterios de aceptación": "Criterios de aceptación",
	"criterios":               "Criterios de aceptación",
	"aceptación":              "Criterios de aceptación",
	"notas":                   "Notas",
	"observaciones":           "Notas",
	"comentarios":             "Notas",
	"reglas de negocio":       "Notas",
	"requerimientos ux/ui":    "Notas",
}

var (
	huStart = regexp.MustCompile(`(?i)^(?:HU[- ]?)?(\d+)|^Historia\s+(?:de\s+usuario\s+)?(\d+)|^(\d+)\.\s`)
	section = regexp.MustCompile(`(?i)^(titulo|título|descripción|descripcion|criterios|notas|observaciones|definición|definicion)\s*:?\s*(.*)$`)
	spaces  = regexp.MustCompile(`\s+`)
)

// body: 顶层段落与顶层表格（嵌套表格的文本并入外层单元格）。
type body struct {
	paragraphs []string
	tables     [][][]string
}

// IsDocx 判断 b 是否为含正文部件的 Word 包。
func IsDocx(b []byte) bool {
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return false
	}
	for _, f := range zr.File {
		if f.Name == documentPart {
			return true
		}
	}
	return false
}

// Parse 读取 .docx 并返回网格：首行为表头，其后每行一条 HU。
// 有表格时取表格行（首行为表头，ID 为空的行丢弃）；否则按段落切分 HU。
// 未找到任何 HU 返回 ErrInvalidInput。
func Parse(r io.ReaderAt, size int64) (contract.Grid, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("docx: open: %w", contract.ErrInvalidInput)
	}
	var part *zip.File
	for _, f := range zr.File {
		if f.Name == documentPart {
			part = f
			break
		}
	}
	if part == nil {
		return nil, fmt.Errorf("docx: missing %s: %w", documentPart, contract.ErrInvalidInput)
	}
	rc, err := part.Open()
	if err != nil {
		return nil, fmt.Errorf("docx: open %s: %w", documentPart, err)
	}
	defer rc.Close()
	b, err := parseBody(io.LimitReader(rc, MaxDocumentBytes))
	if err != nil {
		return nil, err
	}

	headers, rows := fromTables(b.tables)
	if len(rows) == 0 {
		headers, rows = fromParagraphs(b.paragraphs)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("docx: no HUs found: %w", contract.ErrInvalidInput)
	}
	return toGrid(headers, rows), nil
}

func parseBody(r io.Reader) (body, error) {
	var (
		out   body
		depth int
		table [][]string
		row   []string
		cell  []string
		para  strings.Builder
		inT   bool
	)
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return body{}, fmt.Errorf("docx: parse: %w", contract.ErrInvalidInput)
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "tbl":
				depth++
				if depth == 1 {
					table = nil
				}
			case "tr":
				if depth == 1 {
					row = nil
				}
			case "tc":
				if depth == 1 {
					cell = nil
				}
			case "p":
				para.Reset()
			case "t":
				inT = true
			case "tab":
				para.WriteByte('\t')
			case "br", "cr":
				para.WriteByte('\n')
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "t":
				inT = false
			case "p":
				text := strings.TrimSpace(para.String())
				if depth > 0 {
					cell = append(cell, text)
				} else if text != "" {
					out.paragraphs = append(out.paragraphs, text)
				}
			case "tc":
				if depth == 1 {
					row = append(row, strings.TrimSpace(strings.Join(cell, "\n")))
				}
			case "tr":
				if depth == 1 {
					table = append(table, row)
				}
			case "tbl":
				if depth == 1 {
					out.tables = append(out.tables, table)
				}
				if depth > 0 {
					depth--
				}
			}
		case xml.CharData:
			if inT {
				para.Write(el)
			}
		}
	}
}

func normalizeHeader(h string) string {
	return spaces.ReplaceAllString(strings.ToLower(strings.TrimSpace(h)), " ")
}

// fromTables: 每张表首行为表头；显式 ID 列优先，否则取第一列为 ID。
func fromTables(tables [][][]string) ([]string, []map[string]string) {
	var (
		headers []string
		rows    []map[string]string
	)
	for _, tbl := range tables {
		if len(tbl) == 0 {
			continue
		}
		raw := tbl[0]
		if strings.TrimSpace(strings.Join(raw, "")) == "" {
			continue
		}
		hs := make([]string, len(raw))
		idCol := 0
		explicit := false
		for i, h := range raw {
			if m, ok := headerAliases[normalizeHeader(h)]; ok {
				hs[i] = m
				if m == "ID" && !explicit {
					idCol, explicit = i, true
				}
				continue
			}
			if h = strings.TrimSpace(h); h != "" {
				hs[i] = h
			} else {
				hs[i] = fmt.Sprintf("Col_%d", i)
			}
		}
		for _, cells := range tbl[1:] {
			rec := map[string]string{}
			for i, h := range hs {
				if i < len(cells) && rec[h] == "" {
					rec[h] = cells[i]
				}
			}
			if idCol < len(cells) && strings.TrimSpace(rec["ID"]) == "" {
				rec["ID"] = strings.TrimSpace(cells[idCol])
			}
			if rec["ID"] == "" {
				continue
			}
			rows = append(rows, rec)
			if headers == nil {
				headers = hs
			}
		}
	}
	return headers, rows
}

// fromParagraphs: "HU-3"、"Historia 3"、"3. ..." 开始一条新 HU；
// "Título:"/"Descripción:"/"Criterios:"/"Notas:" 填入对应列，其余文字并入描述。
func fromParagraphs(paras []string) ([]string, []map[string]string) {
	var (
		rows   []map[string]string
		cur    map[string]string
		id     string
		buffer []string
	)
	flush := func() {
		if id == "" && len(buffer) == 0 {
			return
		}
		if id == "" {
			id = fmt.Sprintf("HU-%d", len(rows)+1)
		}
		desc := cur["Descripción"]
		if extra := strings.TrimSpace(strings.Join(buffer, "\n")); extra != "" {
			if desc != "" {
				desc += "\n\n" + extra
			} else {
				desc = extra
			}
		}
		title := cur["Título"]
		if title == "" {
			title = id
		}
		rows = append(rows, map[string]string{
			"ID":                      id,
			"Título":                  title,
			"Descripción":             desc,
			"Criterios de aceptación": cur["Criterios de aceptación"],
			"Notas":                   cur["Notas"],
		})
		cur, id, buffer = nil, "", nil
	}

	for _, text := range paras {
		if m := huStart.FindStringSubmatchIndex(text); m != nil {
			flush()
			for g := 1; g <= 3; g++ {
				if m[2*g] >= 0 {
					id = "HU-" + text[m[2*g]:m[2*g+1]]
					break
				}
			}
			if rest := strings.TrimSpace(text[m[1]:]); rest != "" {
				buffer = []string{rest}
			}
			continue
		}
		if id == "" {
			id = "HU-1"
		}
		if m := section.FindStringSubmatch(text); m != nil {
			if val := strings.TrimSpace(m[2]); val != "" {
				if cur == nil {
					cur = map[string]string{}
				}
				key := sectionColumn(m[1])
				if cur[key] != "" {
					cur[key] += "\n" + val
				} else {
					cur[key] = val
				}
			}
			continue
		}
		buffer = append(buffer, text)
	}
	flush()
	return StandardHeaders, rows
}

func sectionColumn(key string) string {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "titulo", "título":
		return "Título"
	case "criterios":
		return "Criterios de aceptación"
	case "notas", "observaciones":
		return "Notas"
	default:
		return "Descripción"
	}
}

// toGrid: 标准列在前，文档中的其它列按首次出现顺序追加。
func toGrid(headers []string, rows []map[string]string) contract.Grid {
	cols := append([]string(nil), StandardHeaders...)
	seen := map[string]bool{}
	for _, h := range cols {
		seen[h] = true
	}
	for _, h := range headers {
		if h != "" && !seen[h] {
			cols = append(cols, h)
			seen[h] = true
		}
	}
	grid := make(contract.Grid, 0, len(rows)+1)
	grid = append(grid, cols)
	for _, rec := range rows {
		line := make([]string, len(cols))
		for i, h := range cols {
			line[i] = rec[h]
		}
		grid = append(grid, line)
	}
	return grid
}
