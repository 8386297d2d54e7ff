package hostfs

import (
	"fmt"
	"io"
	"os"
	"path"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SFTPFS 通过 SFTP 访问目标主机文件
type SFTPFS struct {
	client *sftp.Client
}

// NewSFTPFS 在已建立的 SSH 连接上打开 SFTP 会话
func NewSFTPFS(conn *ssh.Client) (*SFTPFS, error) {
	client, err := sftp.NewClient(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to start sftp subsystem: %w", err)
	}
	return &SFTPFS{client: client}, nil
}

func (s *SFTPFS) Open(name string) (io.ReadCloser, error) { return s.client.Open(name) }

func (s *SFTPFS) Create(name string, perm os.FileMode) (io.WriteCloser, error) {
	_, statErr := s.client.Stat(name)
	f, err := s.client.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC)
	if err != nil {
		return nil, err
	}
	if os.IsNotExist(statErr) {
		if err := f.Chmod(perm); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

func (s *SFTPFS) Stat(name string) (os.FileInfo, error) { return s.client.Stat(name) }

func (s *SFTPFS) MkdirAll(p string, perm os.FileMode) error {
	if err := s.client.MkdirAll(p); err != nil {
		return err
	}
	return s.client.Chmod(p, perm)
}

func (s *SFTPFS) Chmod(name string, mode os.FileMode) error { return s.client.Chmod(name, mode) }

// Rename 优先使用 posix-rename 扩展以覆盖目标
func (s *SFTPFS) Rename(oldname, newname string) error {
	if err := s.client.PosixRename(oldname, newname); err == nil {
		return nil
	}
	if err := s.client.Remove(newname); err != nil && !os.IsNotExist(err) {
		return err
	}
	return s.client.Rename(oldname, newname)
}

func (s *SFTPFS) Remove(name string) error { return s.client.Remove(name) }

func (s *SFTPFS) ReadDir(dir string) ([]os.FileInfo, error) { return s.client.ReadDir(dir) }

func (s *SFTPFS) Join(elem ...string) string { return path.Join(elem...) }

// Close 关闭 SFTP 会话，不关闭底层 SSH 连接
func (s *SFTPFS) Close() error { return s.client.Close() }

var _ FS = (*SFTPFS)(nil)
