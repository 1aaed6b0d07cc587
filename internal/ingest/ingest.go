package ingest

import (
	"fmt"
	"iter"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/Act1nv3r/HUA/pkg/contract"
)

// NewInitiative 为一张工作表解析一次布局。
func NewInitiative(sh contract.Sheet) contract.Initiative {
	return contract.Initiative{
		Name:   sh.Name,
		Source: sh.Source,
		Rows:   sh.Rows,
		Schema: Resolve(sh.Rows),
	}
}

// Check 判断一行是否具备评分资格；不具备时返回 ErrRecordIneligible。
func Check(row []string, m contract.SchemaMap) error {
	col, ok := m.Col(contract.RoleID)
	if !ok || col >= len(row) || contract.IsSentinelID(row[col]) {
		return contract.ErrRecordIneligible
	}
	return nil
}

// Records 返回有序、惰性、可重复遍历的合格记录序列。不修改源数据。
func Records(in contract.Initiative) iter.Seq[contract.Record] {
	return func(yield func(contract.Record) bool) {
		for r := in.Schema.DataRow; r < len(in.Rows); r++ {
			row := in.Rows[r]
			if Check(row, in.Schema) != nil {
				continue
			}
			if !yield(build(in, r, row)) {
				return
			}
		}
	}
}

// Eligible 收集所有合格记录。
func Eligible(in contract.Initiative) []contract.Record {
	var out []contract.Record
	for rec := range Records(in) {
		out = append(out, rec)
	}
	return out
}

func build(in contract.Initiative, r int, row []string) contract.Record {
	cell := func(role contract.Role) string {
		c, ok := in.Schema.Col(role)
		if !ok || c >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[c])
	}
	rec := contract.Record{
		Initiative:  in.Name,
		Source:      in.Source,
		Row:         r,
		ID:          cell(contract.RoleID),
		Title:       cell(contract.RoleTitle),
		Description: cell(contract.RoleDescription),
		Criteria:    cell(contract.RoleCriteria),
		Rules:       cell(contract.RoleRules),
	}
	for i, h := range in.Schema.Headers {
		if h == "" {
			continue
		}
		v := ""
		if i < len(row) {
			v = strings.TrimSpace(row[i])
		}
		rec.Fields = append(rec.Fields, contract.Field{Name: h, Value: v})
	}
	return rec
}

// MaxNameLen: 工作表名上限（xlsx 限 31 字符）。
const MaxNameLen = 31

// Names 为多个来源的工作表分配唯一的计划名（不区分大小写）。
// 重名时加来源文件名前缀 "<文件>_<表>"，仍重名再加 "_N"。零值可用；非并发安全。
type Names struct {
	used map[string]bool
}

// Assign 返回 sh 的计划名并登记。
func (n *Names) Assign(sh contract.Sheet) string {
	if n.used == nil {
		n.used = map[string]bool{}
	}
	name := truncRunes(strings.TrimSpace(sh.Name), MaxNameLen)
	if n.used[strings.ToLower(name)] {
		stem := strings.TrimSuffix(path.Base(string(sh.Source)), path.Ext(string(sh.Source)))
		if stem != "" && stem != "." && stem != "/" {
			name = truncRunes(stem+"_"+name, MaxNameLen)
		}
	}
	if n.used[strings.ToLower(name)] {
		base := name
		for i := 1; ; i++ {
			sfx := fmt.Sprintf("_%d", i)
			name = truncRunes(base, MaxNameLen-utf8.RuneCountInString(sfx)) + sfx
			if !n.used[strings.ToLower(name)] {
				break
			}
		}
	}
	n.used[strings.ToLower(name)] = true
	return name
}

func truncRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
