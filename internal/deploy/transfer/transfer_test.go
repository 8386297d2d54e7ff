package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/qiniu/quizops/internal/deploy/executor"
	"github.com/qiniu/quizops/internal/deploy/hostfs"
	"github.com/qiniu/quizops/internal/deploy/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// newBundle 在开发目录写入新版本，在目标目录写入旧版本
func newBundle(t *testing.T, files map[string]string) *model.Bundle {
	t.Helper()
	src, dst := t.TempDir(), t.TempDir()
	b := &model.Bundle{SourceRoot: src, AppRoot: dst}
	for _, rel := range []string{"config.py", "services/rag_service.py", "models/schemas.py"} {
		content, ok := files[rel]
		if !ok {
			continue
		}
		f := &model.BundleFile{
			RelPath:    rel,
			SourcePath: filepath.Join(src, filepath.FromSlash(rel)),
			TargetPath: filepath.Join(dst, filepath.FromSlash(rel)),
			SHA256:     digest(content),
			Size:       int64(len(content)),
		}
		require.NoError(t, os.MkdirAll(filepath.Dir(f.SourcePath), 0o755))
		require.NoError(t, os.WriteFile(f.SourcePath, []byte(content), 0o644))
		require.NoError(t, os.MkdirAll(filepath.Dir(f.TargetPath), 0o755))
		require.NoError(t, os.WriteFile(f.TargetPath, []byte("old"), 0o600))
		b.Files = append(b.Files, f)
	}
	return b
}

func assertTargets(t *testing.T, b *model.Bundle, want func(f *model.BundleFile) string) {
	t.Helper()
	for _, f := range b.Files {
		data, err := os.ReadFile(f.TargetPath)
		require.NoError(t, err)
		assert.Equal(t, want(f), string(data), f.RelPath)
		_, err = os.Stat(f.TargetPath + TmpSuffix)
		assert.True(t, os.IsNotExist(err), "staged file left behind for %s", f.RelPath)
	}
}

var contents = map[string]string{
	"config.py":               "DEBUG = False\n",
	"services/rag_service.py": "def retrieve(q): return []\n",
	"models/schemas.py":       "class Quiz: pass\n",
}

func TestCopyStrategy(t *testing.T) {
	b := newBundle(t, contents)
	local := hostfs.NewLocalFS()
	s := NewCopyStrategy(StrategyLocal, local, local)

	results, err := s.Transfer(context.Background(), b)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, digest(contents["config.py"]), results[0].SHA256)
	assertTargets(t, b, func(f *model.BundleFile) string { return contents[f.RelPath] })
}

func TestCopyStrategyMismatchLeavesTargets(t *testing.T) {
	b := newBundle(t, contents)
	// 源文件在预检后被改动
	require.NoError(t, os.WriteFile(b.Files[2].SourcePath, []byte("changed"), 0o644))

	local := hostfs.NewLocalFS()
	_, err := NewCopyStrategy(StrategySFTP, local, local).Transfer(context.Background(), b)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrChecksumMismatch))
	assertTargets(t, b, func(*model.BundleFile) string { return "old" })
}

// cancelOnCreate 在暂存最后一个文件时取消 context，模拟步骤超时
type cancelOnCreate struct {
	*hostfs.LocalFS
	cancel context.CancelFunc
	last   string
}

func (c *cancelOnCreate) Create(name string, perm os.FileMode) (io.WriteCloser, error) {
	if name == c.last {
		c.cancel()
	}
	return c.LocalFS.Create(name, perm)
}

func TestCopyStrategyCancelledBeforeMove(t *testing.T) {
	b := newBundle(t, contents)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dst := &cancelOnCreate{LocalFS: hostfs.NewLocalFS(), cancel: cancel, last: b.Files[2].TargetPath + TmpSuffix}

	_, err := NewCopyStrategy(StrategySFTP, hostfs.NewLocalFS(), dst).Transfer(ctx, b)
	assert.True(t, errors.Is(err, context.Canceled))
	assertTargets(t, b, func(*model.BundleFile) string { return "old" })
}

func TestStreamStrategy(t *testing.T) {
	if _, err := exec.LookPath("sha256sum"); err != nil {
		t.Skip("sha256sum not available")
	}
	b := newBundle(t, contents)
	s := NewStreamStrategy(hostfs.NewLocalFS(), executor.NewLocalRunner())
	assert.Equal(t, StrategySCP, s.Name())

	results, err := s.Transfer(context.Background(), b)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, int64(len(contents["models/schemas.py"])), results[2].Bytes)
	assertTargets(t, b, func(f *model.BundleFile) string { return contents[f.RelPath] })
}

func TestStreamStrategyMismatch(t *testing.T) {
	if _, err := exec.LookPath("sha256sum"); err != nil {
		t.Skip("sha256sum not available")
	}
	b := newBundle(t, contents)
	b.Files[1].SHA256 = digest("something else")

	_, err := NewStreamStrategy(hostfs.NewLocalFS(), executor.NewLocalRunner()).Transfer(context.Background(), b)
	assert.True(t, errors.Is(err, ErrChecksumMismatch))
	assertTargets(t, b, func(*model.BundleFile) string { return "old" })
}

func TestManualStrategy(t *testing.T) {
	b := newBundle(t, contents)
	local := hostfs.NewLocalFS()

	t.Run("aborted", func(t *testing.T) {
		s := NewManualStrategy(local, func(context.Context, string, string) (bool, error) { return false, nil })
		_, err := s.Transfer(context.Background(), b)
		assert.True(t, errors.Is(err, ErrNotConfirmed))
	})

	t.Run("confirmed but not copied", func(t *testing.T) {
		s := NewManualStrategy(local, func(context.Context, string, string) (bool, error) { return true, nil })
		_, err := s.Transfer(context.Background(), b)
		assert.True(t, errors.Is(err, ErrChecksumMismatch))
	})

	t.Run("confirmed after copy", func(t *testing.T) {
		var prompted string
		s := NewManualStrategy(local, func(_ context.Context, _ string, desc string) (bool, error) {
			prompted = desc
			for _, f := range b.Files {
				require.NoError(t, os.WriteFile(f.TargetPath, []byte(contents[f.RelPath]), 0o644))
			}
			return true, nil
		})
		results, err := s.Transfer(context.Background(), b)
		require.NoError(t, err)
		assert.Len(t, results, 3)
		assert.Contains(t, prompted, b.Files[0].TargetPath)
	})
}

func TestApplyMode(t *testing.T) {
	b := newBundle(t, contents)
	require.NoError(t, ApplyMode(context.Background(), hostfs.NewLocalFS(), b, 0o644))
	for _, f := range b.Files {
		info, err := os.Stat(f.TargetPath)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
	}
}

func TestNew(t *testing.T) {
	local := hostfs.NewLocalFS()
	runner := executor.NewLocalRunner()
	for _, name := range []string{StrategySCP, StrategySFTP, StrategyLocal, StrategyManual} {
		s, err := New(name, local, local, runner)
		require.NoError(t, err)
		assert.Equal(t, name, s.Name())
	}
	_, err := New("rsync", local, local, runner)
	assert.True(t, errors.Is(err, ErrUnknownStrategy))
}
