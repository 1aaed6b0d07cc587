//go:build windows

package filesystem

import (
	"io/fs"
	"syscall"
	"unsafe"
)

const movefileWriteThrough = 0x8

const (
	errorFileExists    = syscall.Errno(80)
	errorAlreadyExists = syscall.Errno(183)
)

var (
	modkernel32     = syscall.NewLazyDLL("kernel32.dll")
	procMoveFileExW = modkernel32.NewProc("MoveFileExW")
)

// placeNoClobber 使用不带 REPLACE_EXISTING 的 MoveFileExW；目标存在时返回 fs.ErrExist。
func placeNoClobber(tmpPath, dest string) error {
	fromp, err := syscall.UTF16PtrFromString(tmpPath)
	if err != nil {
		return err
	}
	top, err := syscall.UTF16PtrFromString(dest)
	if err != nil {
		return err
	}
	r1, _, e1 := procMoveFileExW.Call(
		uintptr(unsafe.Pointer(fromp)),
		uintptr(unsafe.Pointer(top)),
		uintptr(movefileWriteThrough),
	)
	if r1 != 0 {
		return nil
	}
	if e1 == errorFileExists || e1 == errorAlreadyExists {
		return fs.ErrExist
	}
	if e1 != nil && e1 != syscall.Errno(0) {
		return e1
	}
	return syscall.EINVAL
}

// syncDir is a no-op on Windows; directory fsync is not generally available.
func syncDir(dir string) error { return nil }
