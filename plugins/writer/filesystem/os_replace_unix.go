//go:build !windows

package filesystem

import (
	"errors"
	"io/fs"
	"os"
	"syscall"
)

// placeNoClobber 以硬链接把 tmp 放到 dest；dest 已存在时返回 fs.ErrExist。
// 文件系统不支持硬链接时退化为 Lstat + Rename（非严格不覆盖）。
func placeNoClobber(tmpPath, dest string) error {
	err := os.Link(tmpPath, dest)
	if err == nil || errors.Is(err, fs.ErrExist) {
		return err
	}
	if errors.Is(err, syscall.EPERM) || errors.Is(err, syscall.ENOTSUP) || errors.Is(err, syscall.EXDEV) {
		if _, serr := os.Lstat(dest); serr == nil {
			return fs.ErrExist
		}
		return os.Rename(tmpPath, dest)
	}
	return err
}

// syncDir best-effort fsync parent directory to persist metadata.
func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
