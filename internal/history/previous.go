package history

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/xuri/excelize/v2"

	"github.com/Act1nv3r/HUA/internal/ingest"
	"github.com/Act1nv3r/HUA/pkg/contract"
	"github.com/Act1nv3r/HUA/plugins/assembler/workbook"
)

const (
	// MatchThreshold: 标题+描述组合相似度下限。
	MatchThreshold = 0.70
	titleWeight    = 0.6
	descWeight     = 0.4
	descCompareLen = 300
)

// Entry: 一条上一版分析及其匹配键。
type Entry struct {
	Initiative string
	NormID     string
	NormTitle  string
	NormDesc   string
	Prev       contract.Previous
}

// NewEntry 由上一版数据构造匹配条目。
func NewEntry(initiative, description string, p contract.Previous) Entry {
	return Entry{
		Initiative: initiative,
		NormID:     NormalizeID(p.ID),
		NormTitle:  normalizeText(p.Title, 0),
		NormDesc:   normalizeText(description, descCompareLen),
		Prev:       p,
	}
}

var (
	huNum     = regexp.MustCompile(`(?i)HU[-_]?\s*(\d+)`)
	leadNum   = regexp.MustCompile(`^(\d+)`)
	numericID = regexp.MustCompile(`^\d+(\.\d+)?$`)
)

// NormalizeID: HU-001、HU 1、001、1、1.0 → hu_1；其他取小写原文。
func NormalizeID(id string) string {
	s := strings.TrimSpace(id)
	if s == "" {
		return ""
	}
	if numericID.MatchString(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return "hu_" + strconv.Itoa(int(f))
		}
	}
	if m := huNum.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		return "hu_" + strconv.Itoa(n)
	}
	if m := leadNum.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		return "hu_" + strconv.Itoa(n)
	}
	return strings.ToLower(s)
}

// normalizeText: 小写、折叠空白，max>0 时按字符截断。
func normalizeText(s string, max int) string {
	s = strings.Join(strings.Fields(strings.ToLower(s)), " ")
	if max > 0 {
		if rs := []rune(s); len(rs) > max {
			s = string(rs[:max])
		}
	}
	return s
}

// Similarity 返回两段文本的逐字符相似度（0..1），任一为空时为 0。
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	return difflib.NewMatcher(chars(a), chars(b)).Ratio()
}

func chars(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

type idKey struct {
	initiative string
	id         string
}

// Index: 上一版分析索引，实现 pipeline.PreviousLookup。只读，可并发查询。
type Index struct {
	byID    map[idKey]*contract.Previous
	bySheet map[string][]Entry
	n       int
}

// NewIndex 构建索引；同一 Initiative 内重复 ID 以后出现者为准。
func NewIndex(entries []Entry) *Index {
	x := &Index{byID: make(map[idKey]*contract.Previous, len(entries)), bySheet: map[string][]Entry{}}
	for i := range entries {
		e := entries[i]
		if e.NormID != "" {
			p := e.Prev
			x.byID[idKey{e.Initiative, e.NormID}] = &p
		}
		x.bySheet[e.Initiative] = append(x.bySheet[e.Initiative], e)
		x.n++
	}
	return x
}

// Len 返回条目数。
func (x *Index) Len() int {
	if x == nil {
		return 0
	}
	return x.n
}

// Lookup 依次按 ID、精确标题、组合相似度（≥0.70，取最高）匹配同一 Initiative 内的上一版分析。
func (x *Index) Lookup(rec contract.Record) *contract.Previous {
	if x == nil || x.n == 0 {
		return nil
	}
	if p, ok := x.byID[idKey{rec.Initiative, NormalizeID(rec.ID)}]; ok {
		cp := *p
		return &cp
	}
	cands := x.bySheet[rec.Initiative]
	title := normalizeText(rec.Title, 0)
	if title != "" {
		for _, c := range cands {
			if c.NormTitle == title {
				p := c.Prev
				return &p
			}
		}
	}
	desc := normalizeText(rec.Description, descCompareLen)
	if title == "" && desc == "" {
		return nil
	}
	var best *contract.Previous
	bestScore := 0.0
	for _, c := range cands {
		score := titleWeight*Similarity(title, c.NormTitle) + descWeight*Similarity(desc, c.NormDesc)
		if score > bestScore && score >= MatchThreshold {
			bestScore = score
			p := c.Prev
			best = &p
		}
	}
	return best
}

// LoadWorkbook 读取本工具先前生成的报表，按表还原上一版分析。
// 综述页与缺少 SCORE TOTAL 列的表跳过；失败行不参与匹配。
func LoadWorkbook(path string) ([]Entry, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("history: open previous %s: %w", path, contract.ErrInvalidInput)
	}
	defer f.Close()

	var out []Entry
	for _, sheet := range f.GetSheetList() {
		if sheet == contract.SummarySheet {
			continue
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("history: read %s: %w", sheet, err)
		}
		grid := contract.Grid(rows)
		m, err := ingest.Detect(grid)
		if err != nil {
			continue
		}
		start := workbook.AnalysisStart(grid[m.HeaderRow])
		if start < 0 {
			continue
		}
		idCol, _ := m.Col(contract.RoleID)
		titleCol, _ := m.Col(contract.RoleTitle)
		descCol, _ := m.Col(contract.RoleDescription)
		for r := m.DataRow; r < len(grid); r++ {
			id := strings.TrimSpace(grid.Cell(r, idCol))
			if contract.IsSentinelID(id) {
				continue
			}
			p, ok := workbook.ParsePrevious(grid[r], start)
			if !ok {
				continue
			}
			p.ID = id
			p.Title = strings.TrimSpace(grid.Cell(r, titleCol))
			out = append(out, NewEntry(sheet, grid.Cell(r, descCol), p))
		}
	}
	return out, nil
}
