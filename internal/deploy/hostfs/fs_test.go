package hostfs

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFileAndChecksum(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.py")
	dst := filepath.Join(dir, "nested", "dst.py")
	content := []byte("print('hello quiz')\n")
	require.NoError(t, os.WriteFile(src, content, 0o600))

	fsys := NewLocalFS()
	require.NoError(t, fsys.MkdirAll(Dir(dst), 0o755))

	sum, n, err := CopyFile(fsys, dst, fsys, src, 0o644)
	require.NoError(t, err)

	want := sha256.Sum256(content)
	assert.Equal(t, hex.EncodeToString(want[:]), sum)
	assert.Equal(t, int64(len(content)), n)

	got, size, err := SHA256(fsys, dst)
	require.NoError(t, err)
	assert.Equal(t, sum, got)
	assert.Equal(t, n, size)

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	fsys := NewLocalFS()

	ok, err := Exists(fsys, filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Exists(fsys, dir)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRenameOverwrites(t *testing.T) {
	dir := t.TempDir()
	fsys := NewLocalFS()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(a, []byte("new"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("old"), 0o644))

	require.NoError(t, fsys.Rename(a, b))
	data, err := os.ReadFile(b)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestDir(t *testing.T) {
	assert.Equal(t, "/opt/app/services", Dir("/opt/app/services/quiz_service.py"))
	assert.Equal(t, "/", Dir("/config.py"))
	assert.Equal(t, ".", Dir("config.py"))
}

func TestRemoveAll(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "backup_1")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "services"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "services", "a.py"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "config.py"), []byte("c"), 0o644))

	fsys := NewLocalFS()
	require.NoError(t, RemoveAll(fsys, root))
	ok, err := Exists(fsys, root)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, RemoveAll(fsys, filepath.Join(dir, "never-existed")))
}
