package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/qiniu/quizops/internal/deploy/hostfs"
	"github.com/qiniu/quizops/internal/deploy/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBundle(t *testing.T, rels ...string) *model.Bundle {
	t.Helper()
	appRoot := t.TempDir()
	b := &model.Bundle{AppRoot: appRoot, BackupRoot: filepath.Join(appRoot, "backups")}
	for _, rel := range rels {
		b.Files = append(b.Files, &model.BundleFile{
			RelPath:    rel,
			TargetPath: filepath.Join(appRoot, filepath.FromSlash(rel)),
		})
	}
	return b
}

func writeTarget(t *testing.T, b *model.Bundle, rel, content string, mode os.FileMode) {
	t.Helper()
	p := filepath.Join(b.AppRoot, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), mode))
	require.NoError(t, os.Chmod(p, mode))
}

func readTarget(t *testing.T, b *model.Bundle, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(b.AppRoot, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

var at = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func TestCreateAndRestore(t *testing.T) {
	ctx := context.Background()
	b := newBundle(t, "config.py", "services/quiz_service.py", "app_celery.py")
	writeTarget(t, b, "config.py", "OLD_CONFIG = 1\n", 0o600)
	writeTarget(t, b, "services/quiz_service.py", "def old(): pass\n", 0o644)

	m := NewManager(hostfs.NewLocalFS())
	snap, err := m.Create(ctx, b, at)
	require.NoError(t, err)

	assert.Equal(t, "backup_20250314_092653", snap.ID)
	assert.Equal(t, filepath.Join(b.BackupRoot, snap.ID), snap.Dir)
	require.Len(t, snap.Files, 3)
	assert.True(t, snap.File("config.py").Existed)
	assert.Equal(t, uint32(0o600), snap.File("config.py").Mode)
	assert.False(t, snap.File("app_celery.py").Existed)

	// 备份内容与原文件一致
	data, err := os.ReadFile(filepath.Join(snap.Dir, "services", "quiz_service.py"))
	require.NoError(t, err)
	assert.Equal(t, "def old(): pass\n", string(data))

	// 模拟部署：覆盖文件并新增一个文件
	writeTarget(t, b, "config.py", "NEW_CONFIG = 2\n", 0o644)
	writeTarget(t, b, "services/quiz_service.py", "def new(): pass\n", 0o644)
	writeTarget(t, b, "app_celery.py", "celery = None\n", 0o644)

	loaded, err := m.Get(ctx, b.BackupRoot, snap.ID)
	require.NoError(t, err)
	require.NoError(t, m.Restore(ctx, b, loaded))

	assert.Equal(t, "OLD_CONFIG = 1\n", readTarget(t, b, "config.py"))
	assert.Equal(t, "def old(): pass\n", readTarget(t, b, "services/quiz_service.py"))
	_, err = os.Stat(filepath.Join(b.AppRoot, "app_celery.py"))
	assert.True(t, os.IsNotExist(err))

	info, err := os.Stat(filepath.Join(b.AppRoot, "config.py"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	_, err = os.Stat(filepath.Join(b.AppRoot, "config.py"+restoreSuffix))
	assert.True(t, os.IsNotExist(err))

	// 快照在恢复后保持不变，可再次使用
	again, err := m.Get(ctx, b.BackupRoot, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, snap.Files, again.Files)
}

func TestCreateSameSecondFails(t *testing.T) {
	ctx := context.Background()
	b := newBundle(t, "config.py")
	writeTarget(t, b, "config.py", "x", 0o644)

	m := NewManager(hostfs.NewLocalFS())
	_, err := m.Create(ctx, b, at)
	require.NoError(t, err)

	_, err = m.Create(ctx, b, at)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSnapshotExists))
}

func TestRestoreDetectsTamperedSnapshot(t *testing.T) {
	ctx := context.Background()
	b := newBundle(t, "config.py", "routes.py")
	writeTarget(t, b, "config.py", "original", 0o644)
	writeTarget(t, b, "routes.py", "routes", 0o644)

	m := NewManager(hostfs.NewLocalFS())
	snap, err := m.Create(ctx, b, at)
	require.NoError(t, err)

	writeTarget(t, b, "config.py", "deployed", 0o644)
	writeTarget(t, b, "routes.py", "deployed routes", 0o644)
	require.NoError(t, os.WriteFile(filepath.Join(snap.Dir, "routes.py"), []byte("corrupted"), 0o644))

	err = m.Restore(ctx, b, snap)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrChecksumMismatch))

	// 校验失败时不会替换任何文件
	assert.Equal(t, "deployed", readTarget(t, b, "config.py"))
	assert.Equal(t, "deployed routes", readTarget(t, b, "routes.py"))
	_, err = os.Stat(filepath.Join(b.AppRoot, "config.py"+restoreSuffix))
	assert.True(t, os.IsNotExist(err))
}

func TestRestoreBundleMismatch(t *testing.T) {
	ctx := context.Background()
	b := newBundle(t, "config.py")
	writeTarget(t, b, "config.py", "x", 0o644)

	m := NewManager(hostfs.NewLocalFS())
	snap, err := m.Create(ctx, b, at)
	require.NoError(t, err)

	b.Files = append(b.Files, &model.BundleFile{RelPath: "routes.py", TargetPath: filepath.Join(b.AppRoot, "routes.py")})
	err = m.Restore(ctx, b, snap)
	assert.True(t, errors.Is(err, ErrBundleMismatch))
}

func TestListGetPrune(t *testing.T) {
	ctx := context.Background()
	b := newBundle(t, "config.py")
	writeTarget(t, b, "config.py", "x", 0o644)
	m := NewManager(hostfs.NewLocalFS())

	snaps, err := m.List(ctx, b.BackupRoot)
	require.NoError(t, err)
	assert.Empty(t, snaps)

	_, err = m.Get(ctx, b.BackupRoot, Latest)
	assert.True(t, errors.Is(err, ErrSnapshotNotFound))

	for i := 0; i < 4; i++ {
		_, err := m.Create(ctx, b, at.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}
	// 没有清单的目录不算完整快照
	require.NoError(t, os.MkdirAll(filepath.Join(b.BackupRoot, "backup_20990101_000000"), 0o755))

	snaps, err = m.List(ctx, b.BackupRoot)
	require.NoError(t, err)
	require.Len(t, snaps, 4)
	assert.Equal(t, "backup_20250314_092953", snaps[0].ID)

	latest, err := m.Get(ctx, b.BackupRoot, Latest)
	require.NoError(t, err)
	assert.Equal(t, snaps[0].ID, latest.ID)

	_, err = m.Get(ctx, b.BackupRoot, "../etc")
	assert.True(t, errors.Is(err, ErrSnapshotNotFound))
	_, err = m.Get(ctx, b.BackupRoot, "backup_19990101_000000")
	assert.True(t, errors.Is(err, ErrSnapshotNotFound))

	_, err = m.Prune(ctx, b.BackupRoot, 0)
	require.Error(t, err)

	removed, err := m.Prune(ctx, b.BackupRoot, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"backup_20250314_092753", "backup_20250314_092653"}, removed)

	snaps, err = m.List(ctx, b.BackupRoot)
	require.NoError(t, err)
	assert.Len(t, snaps, 2)
}
