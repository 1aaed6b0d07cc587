package contract

import "strings"

// FileID: 输入工件标识（规范化路径，跨平台一致）。
type FileID string

// Grid: 原始工作表单元格（行优先，0 基；行长度可不一致）。
type Grid [][]string

// Cell 越界时返回空串。
func (g Grid) Cell(row, col int) string {
	if row < 0 || row >= len(g) || col < 0 || col >= len(g[row]) {
		return ""
	}
	return g[row][col]
}

// Width 返回最宽行的列数。
func (g Grid) Width() int {
	w := 0
	for _, r := range g {
		if len(r) > w {
			w = len(r)
		}
	}
	return w
}

// Sheet: Reader 产出的单张工作表（原样单元格，不做业务解析）。
type Sheet struct {
	Source FileID
	Name   string
	Rows   Grid
}

// Role: 列的逻辑角色。
type Role string

const (
	RoleID          Role = "id"
	RoleTitle       Role = "title"
	RoleDescription Role = "description"
	RoleCriteria    Role = "criteria"
	RoleRules       Role = "rules"
)

// RequiredRoles: 表头识别必须全部命中的角色。
var RequiredRoles = []Role{RoleID, RoleTitle, RoleDescription}

// SchemaMap: 角色→物理列 + 数据起始行。每个 Initiative 只解析一次。
type SchemaMap struct {
	HeaderRow int // 0 基
	DataRow   int // 0 基
	Columns   map[Role]int
	// Headers: 表头行原样文本（按列）。
	Headers []string
	// Detected 为 false 表示采用了回退布局。
	Detected bool
}

// Col 返回角色对应列。
func (m SchemaMap) Col(r Role) (int, bool) {
	c, ok := m.Columns[r]
	return c, ok
}

// Field: 表头名与单元格值（按列顺序）。
type Field struct {
	Name  string
	Value string
}

// RecordKey: Record 在运行内的唯一身份（工作表 + 行）。
type RecordKey struct {
	Initiative string
	Row        int
}

// Record: 一条 HU。
type Record struct {
	Initiative  string
	Source      FileID
	Row         int // 0 基，对应 Initiative.Rows
	ID          string
	Title       string
	Description string
	Criteria    string
	Rules       string
	Fields      []Field
}

// Key 返回 Record 身份。
func (r Record) Key() RecordKey { return RecordKey{Initiative: r.Initiative, Row: r.Row} }

// Initiative: 一张输入工作表及其解析出的布局。
type Initiative struct {
	Name   string
	Source FileID
	Rows   Grid
	Schema SchemaMap
}

// IsSentinelID 判断 ID 是否为占位行（空白、Ejemplo、Example）。
func IsSentinelID(id string) bool {
	s := strings.TrimSpace(id)
	if s == "" {
		return true
	}
	return strings.EqualFold(s, "ejemplo") || strings.EqualFold(s, "example")
}
