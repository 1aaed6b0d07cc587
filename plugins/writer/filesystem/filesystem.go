package filesystem

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/Act1nv3r/HUA/pkg/contract"
)

// Options: 最小必要选项。
type Options struct {
	// OutputDir: 输出根目录（必需）。
	OutputDir string `json:"output_dir"`
	// Suffix: 追加在基名之后、版本号之前，例如 "_analizado"。
	Suffix string `json:"suffix,omitempty"`
	// Ext: 扩展名，默认 ".xlsx"。
	Ext string `json:"ext,omitempty"`
	// MaxVersion: 版本号上限，默认 9999。
	MaxVersion int `json:"max_version,omitempty"`
	// PermFile/PermDir: 可选权限；为 0 表示使用实现/平台默认。
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
	// BufSize: 写缓冲区大小；<=0 使用实现默认。
	BufSize int `json:"buf_size,omitempty"`
}

// FS: 版本化 Writer。目标名 <base><suffix>_vN.0<ext>，N 取最小未占用值，永不覆盖。
type FS struct {
	root    string
	suffix  string
	ext     string
	maxVer  int
	permF   os.FileMode
	permD   os.FileMode
	bufSize int
}

// New 创建文件系统 Writer 实现。
func New(opts *Options) (*FS, error) {
	if opts == nil || strings.TrimSpace(opts.OutputDir) == "" {
		return nil, fmt.Errorf("writer: %w: output_dir required", contract.ErrConfigInvalid)
	}
	w := &FS{
		root:    opts.OutputDir,
		suffix:  opts.Suffix,
		ext:     opts.Ext,
		maxVer:  opts.MaxVersion,
		permF:   opts.PermFile,
		permD:   opts.PermDir,
		bufSize: opts.BufSize,
	}
	if w.ext == "" {
		w.ext = ".xlsx"
	} else if !strings.HasPrefix(w.ext, ".") {
		w.ext = "." + w.ext
	}
	if w.maxVer <= 0 {
		w.maxVer = 9999
	}
	if w.permF == 0 {
		w.permF = 0o644
	}
	if w.permD == 0 {
		w.permD = 0o755
	}
	if w.bufSize <= 0 {
		w.bufSize = 64 * 1024
	}
	if strings.ContainsAny(w.suffix, `/\`) {
		return nil, fmt.Errorf("writer: %w: suffix %q", contract.ErrPathInvalid, w.suffix)
	}
	return w, nil
}

var _ contract.Writer = (*FS)(nil)

// Stem 返回版本号之前的文件名部分：清洗后的基名 + suffix。
// base 可为任意路径或文件名，目录与扩展名会被剥离。
func (w *FS) Stem(base string) string {
	name := filepath.Base(strings.ReplaceAll(base, `\`, "/"))
	name = strings.TrimSuffix(name, filepath.Ext(name))
	return contract.SanitizeBaseName(name) + w.suffix
}

// VersionedName 返回第 n 版文件名。
func (w *FS) VersionedName(stem string, n int) string {
	return stem + "_v" + strconv.Itoa(n) + ".0" + w.ext
}

// Write 将 r 的全部字节写入同目录临时文件，再以不覆盖方式放到最小未占用的版本名上。
// 任何失败路径都会清理临时文件；最终路径上不会出现半成品。
func (w *FS) Write(ctx context.Context, base string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(w.root, w.permD); err != nil {
		return "", fmt.Errorf("mkdir %s: %v: %w", w.root, err, contract.ErrWriteFailure)
	}
	tmpPath, err := w.spool(ctx, r)
	if err != nil {
		return "", err
	}
	// 成功时临时名可能已被移走（Windows）或仍作为硬链接源存在（POSIX）
	defer func() { _ = os.Remove(tmpPath) }()

	stem := w.Stem(base)
	n, err := w.nextVersion(stem)
	if err != nil {
		return "", err
	}
	for ; n <= w.maxVer; n++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		dest := filepath.Join(w.root, w.VersionedName(stem, n))
		err := placeNoClobber(tmpPath, dest)
		if err == nil {
			_ = syncDir(w.root)
			return dest, nil
		}
		if errors.Is(err, fs.ErrExist) {
			// 并发写入者抢占了该版本，顺延
			continue
		}
		return "", fmt.Errorf("place %s: %v: %w", dest, err, contract.ErrWriteFailure)
	}
	return "", fmt.Errorf("no free version for %s (max %d): %w", stem, w.maxVer, contract.ErrWriteFailure)
}

// spool 把内容写入 root 下的临时文件并落盘。
func (w *FS) spool(ctx context.Context, r io.Reader) (string, error) {
	tmp, err := os.CreateTemp(w.root, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp: %v: %w", err, contract.ErrWriteFailure)
	}
	tmpPath := tmp.Name()
	_ = os.Chmod(tmpPath, w.permF)
	fail := func(err error) (string, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", fmt.Errorf("spool: %v: %w", err, contract.ErrWriteFailure)
	}
	bw := bufio.NewWriterSize(tmp, w.bufSize)
	if _, err := io.Copy(bw, readerWithCtx(ctx, r)); err != nil {
		return fail(err)
	}
	if err := bw.Flush(); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("close temp: %v: %w", err, contract.ErrWriteFailure)
	}
	return tmpPath, nil
}

// nextVersion 扫描目录，返回最小未占用版本号。
func (w *FS) nextVersion(stem string) (int, error) {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return 0, fmt.Errorf("scan %s: %v: %w", w.root, err, contract.ErrWriteFailure)
	}
	re := regexp.MustCompile(`^` + regexp.QuoteMeta(stem) + `_v(\d+)\.0` + regexp.QuoteMeta(w.ext) + `$`)
	used := make(map[int]bool)
	for _, e := range entries {
		if m := re.FindStringSubmatch(e.Name()); m != nil {
			if v, err := strconv.Atoi(m[1]); err == nil {
				used[v] = true
			}
		}
	}
	n := 1
	for used[n] {
		n++
	}
	return n, nil
}

// readerWithCtx: 在每次 Read 前检查 ctx 是否已取消。
func readerWithCtx(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	select {
	case <-cr.ctx.Done():
		return 0, cr.ctx.Err()
	default:
	}
	return cr.r.Read(p)
}
