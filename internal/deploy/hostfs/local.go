package hostfs

import (
	"io"
	"os"
	"path/filepath"
)

// LocalFS 本机文件系统
type LocalFS struct{}

// NewLocalFS 创建本机文件系统
func NewLocalFS() *LocalFS { return &LocalFS{} }

func (LocalFS) Open(name string) (io.ReadCloser, error) { return os.Open(name) }

func (LocalFS) Create(name string, perm os.FileMode) (io.WriteCloser, error) {
	return os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
}

func (LocalFS) Stat(name string) (os.FileInfo, error) { return os.Stat(name) }

func (LocalFS) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }

func (LocalFS) Chmod(name string, mode os.FileMode) error { return os.Chmod(name, mode) }

func (LocalFS) Rename(oldname, newname string) error { return os.Rename(oldname, newname) }

func (LocalFS) Remove(name string) error { return os.Remove(name) }

func (LocalFS) ReadDir(dir string) ([]os.FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	infos := make([]os.FileInfo, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (LocalFS) Join(elem ...string) string { return filepath.Join(elem...) }

var _ FS = (*LocalFS)(nil)
