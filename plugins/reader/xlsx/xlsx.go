package xlsx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/Act1nv3r/HUA/pkg/contract"
	"github.com/Act1nv3r/HUA/plugins/reader/docx"
)

// DefaultMaxFileBytes: 单个工作簿大小上限（25 MiB）。
const DefaultMaxFileBytes int64 = 25 << 20

// Options 为 xlsx Reader 的可选配置。
type Options struct {
	// MaxFileBytes: 超过该大小的工作簿在解析前拒绝。默认 25 MiB。
	MaxFileBytes int64 `json:"max_file_bytes"`
	// Sheet: 非空时只产出同名工作表（单 Initiative 过滤）。
	Sheet string `json:"sheet"`
	// ExcludeDirNames: 扫描目录时跳过这些目录名（小写基名匹配）。
	ExcludeDirNames []string `json:"exclude_dir_names"`
}

// Workbook 实现基于文件系统与 STDIN 的工作簿 Reader。
// 每张工作表按原样单元格产出，汇总表（上一版输出的首表）跳过。
type Workbook struct {
	maxBytes   int64
	sheet      string
	excludeDir map[string]struct{}
}

// New 创建 Reader。
func New(opts *Options) *Workbook {
	r := &Workbook{maxBytes: DefaultMaxFileBytes, excludeDir: map[string]struct{}{}}
	if opts == nil {
		return r
	}
	if opts.MaxFileBytes > 0 {
		r.maxBytes = opts.MaxFileBytes
	}
	r.sheet = strings.TrimSpace(opts.Sheet)
	for _, name := range opts.ExcludeDirNames {
		if name != "" {
			r.excludeDir[strings.ToLower(name)] = struct{}{}
		}
	}
	return r
}

// Iterate 遍历 roots（文件或目录），按稳定顺序对每张工作表调用 yield。
// roots 仅为 "-" 时从 STDIN 读取一个工作簿。
func (r *Workbook) Iterate(ctx context.Context, roots []string, yield func(sh contract.Sheet) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(roots) == 0 {
		return fmt.Errorf("xlsx: no input: %w", contract.ErrInvalidInput)
	}
	if len(roots) == 1 && roots[0] == "-" {
		return r.fromReader(ctx, contract.FileID("stdin"), os.Stdin, yield)
	}
	for _, s := range roots {
		if s == "-" {
			return errors.New("stdin '-' cannot be mixed with other roots")
		}
	}
	for _, root := range roots {
		if err := r.iterateOne(ctx, root, yield); err != nil {
			return err
		}
	}
	return nil
}

func (r *Workbook) iterateOne(ctx context.Context, root string, yield func(contract.Sheet) error) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return r.walkDir(ctx, root, yield)
	}
	return r.readFile(ctx, root, info, yield)
}

// walkDir: 字典序，先子目录后文件；只收 .xlsx 与 .docx，跳过 Office 锁文件（~$）。
func (r *Workbook) walkDir(ctx context.Context, dir string, yield func(contract.Sheet) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !e.IsDir() {
			continue
		}
		if _, skip := r.excludeDir[strings.ToLower(e.Name())]; skip {
			continue
		}
		if err := r.walkDir(ctx, filepath.Join(dir, e.Name()), yield); err != nil {
			return err
		}
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, "~$") || !IsWorkbookName(name) {
			continue
		}
		p := filepath.Join(dir, name)
		info, err := os.Stat(p)
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			continue
		}
		if err := r.readFile(ctx, p, info, yield); err != nil {
			return err
		}
	}
	return nil
}

// IsWorkbookName 判断扩展名是否为可读输入：.xlsx 或 .docx（大小写不敏感）。
func IsWorkbookName(name string) bool {
	ext := filepath.Ext(name)
	return strings.EqualFold(ext, ".xlsx") || IsDocumentName(name)
}

// IsDocumentName 判断扩展名是否为 .docx。
func IsDocumentName(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".docx")
}

func (r *Workbook) readFile(ctx context.Context, p string, info os.FileInfo, yield func(contract.Sheet) error) error {
	if !IsWorkbookName(p) {
		return fmt.Errorf("xlsx: %s: only .xlsx or .docx accepted: %w", p, contract.ErrInvalidInput)
	}
	if info.Size() > r.maxBytes {
		return fmt.Errorf("xlsx: %s: %d bytes exceeds limit %d: %w", p, info.Size(), r.maxBytes, contract.ErrInvalidInput)
	}
	id := contract.NormalizeFileID(p)
	if IsDocumentName(p) {
		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("xlsx: open %s: %w", p, err)
		}
		defer f.Close()
		return r.document(ctx, id, f, info.Size(), yield)
	}
	f, err := excelize.OpenFile(p)
	if err != nil {
		return fmt.Errorf("xlsx: open %s: %w", p, err)
	}
	defer f.Close()
	return r.sheets(ctx, id, f, yield)
}

// document: 一个 .docx 作为一张工作表产出，表名取文件名（去扩展名）。
func (r *Workbook) document(ctx context.Context, id contract.FileID, in io.ReaderAt, size int64, yield func(contract.Sheet) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	base := path.Base(string(id))
	name := strings.TrimSuffix(base, path.Ext(base))
	if r.sheet != "" && name != r.sheet {
		return nil
	}
	grid, err := docx.Parse(in, size)
	if err != nil {
		return fmt.Errorf("xlsx: %s: %w", id, err)
	}
	return yield(contract.Sheet{Source: id, Name: name, Rows: grid})
}

func (r *Workbook) fromReader(ctx context.Context, id contract.FileID, in io.Reader, yield func(contract.Sheet) error) error {
	b, err := io.ReadAll(io.LimitReader(in, r.maxBytes+1))
	if err != nil {
		return fmt.Errorf("xlsx: read %s: %w", id, err)
	}
	if int64(len(b)) > r.maxBytes {
		return fmt.Errorf("xlsx: %s exceeds limit %d: %w", id, r.maxBytes, contract.ErrInvalidInput)
	}
	if docx.IsDocx(b) {
		return r.document(ctx, id, bytes.NewReader(b), int64(len(b)), yield)
	}
	f, err := excelize.OpenReader(bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("xlsx: open %s: %w", id, err)
	}
	defer f.Close()
	return r.sheets(ctx, id, f, yield)
}

func (r *Workbook) sheets(ctx context.Context, id contract.FileID, f *excelize.File, yield func(contract.Sheet) error) error {
	for _, name := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if name == contract.SummarySheet {
			continue
		}
		if r.sheet != "" && name != r.sheet {
			continue
		}
		rows, err := f.GetRows(name)
		if err != nil {
			return fmt.Errorf("xlsx: read %s/%s: %w", id, name, err)
		}
		if err := yield(contract.Sheet{Source: id, Name: name, Rows: contract.Grid(rows)}); err != nil {
			return err
		}
	}
	return nil
}
