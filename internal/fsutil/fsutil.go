// Package fsutil allocates isolated working directories and copies the
// auxiliary files a simulator needs into them.
package fsutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// SharedMemoryDir is the memory-backed filesystem preferred for work
// directories on Linux.
const SharedMemoryDir = "/dev/shm"

// EphemeralRoot picks the root under which work directories are created:
// preferred if set, else SharedMemoryDir when it is a writable directory,
// else the system temporary directory.
func EphemeralRoot(preferred string) string {
	if preferred != "" {
		return preferred
	}
	if writableDir(SharedMemoryDir) {
		return SharedMemoryDir
	}
	return os.TempDir()
}

func writableDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	f, err := os.CreateTemp(path, ".writable-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}

// MakeWorkDir creates a fresh directory under root with a random suffix, so
// concurrent callers sharing root never collide.
func MakeWorkDir(root, prefix string) (string, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("create work root %s: %w", root, err)
	}
	dir, err := os.MkdirTemp(root, prefix+"-*")
	if err != nil {
		return "", fmt.Errorf("create work directory: %w", err)
	}
	return dir, nil
}

// CopyInto copies the file or directory tree at src into dstDir, keeping its
// base name and file modes.
func CopyInto(src, dstDir string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	dst := filepath.Join(dstDir, filepath.Base(filepath.Clean(src)))
	if !info.IsDir() {
		return copyFile(src, dst, info.Mode())
	}

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		if d.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dst string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if err := out.Chmod(mode.Perm()); err != nil {
		out.Close()
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}

// RemoveTree deletes dir. It reports whether dir existed so callers can log
// an already-removed directory without treating it as a failure.
func RemoveTree(dir string) (existed bool, err error) {
	if _, err := os.Lstat(dir); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return true, os.RemoveAll(dir)
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
