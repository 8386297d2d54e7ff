package hostfs

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
)

// FS 目标主机（或本机）上的文件操作，本地实现基于 os，远程实现基于 SFTP
type FS interface {
	Open(name string) (io.ReadCloser, error)
	// Create 截断或新建文件，perm 仅在新建时生效
	Create(name string, perm os.FileMode) (io.WriteCloser, error)
	Stat(name string) (os.FileInfo, error)
	MkdirAll(path string, perm os.FileMode) error
	Chmod(name string, mode os.FileMode) error
	// Rename 覆盖已存在的目标
	Rename(oldname, newname string) error
	Remove(name string) error
	ReadDir(dir string) ([]os.FileInfo, error)
	// Join 按目标主机的路径规则拼接
	Join(elem ...string) string
}

// Exists 判断路径是否存在
func Exists(fsys FS, name string) (bool, error) {
	_, err := fsys.Stat(name)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// SHA256 流式计算文件摘要
func SHA256(fsys FS, name string) (string, int64, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return "", 0, fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("read %s: %w", name, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// CopyFile 在两个 FS 之间复制文件，返回写入内容的摘要
func CopyFile(dst FS, dstPath string, src FS, srcPath string, perm os.FileMode) (string, int64, error) {
	in, err := src.Open(srcPath)
	if err != nil {
		return "", 0, fmt.Errorf("open source %s: %w", srcPath, err)
	}
	defer in.Close()

	out, err := dst.Create(dstPath, perm)
	if err != nil {
		return "", 0, fmt.Errorf("create %s: %w", dstPath, err)
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(out, h), in)
	if err != nil {
		out.Close()
		return "", 0, fmt.Errorf("copy %s -> %s: %w", srcPath, dstPath, err)
	}
	if err := out.Close(); err != nil {
		return "", 0, fmt.Errorf("close %s: %w", dstPath, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Dir 返回路径的父目录，远程与本地均接受 '/' 分隔
func Dir(name string) string {
	i := strings.LastIndexAny(name, "/"+string(os.PathSeparator))
	switch {
	case i < 0:
		return "."
	case i == 0:
		return name[:1]
	}
	return name[:i]
}

// RemoveAll 递归删除目录，仅依赖 FS 接口，本地和 SFTP 都可用
func RemoveAll(fsys FS, name string) error {
	info, err := fsys.Stat(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.IsDir() {
		children, err := fsys.ReadDir(name)
		if err != nil {
			return err
		}
		for _, c := range children {
			if err := RemoveAll(fsys, fsys.Join(name, c.Name())); err != nil {
				return err
			}
		}
	}
	return fsys.Remove(name)
}
