package deploy

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/qiniu/quizops/internal/config"
	"github.com/qiniu/quizops/internal/deploy/observe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeployServerWithoutRedis(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DEPLOY_APP_ROOT", filepath.Join(dir, "app"))
	t.Setenv("DEPLOY_LOCK_FILE", filepath.Join(dir, "quizops.lock"))
	t.Setenv("DEPLOY_STRATEGY", "manual")
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.False(t, cfg.Redis.Enabled)

	srv, err := NewDeployServer(context.Background(), cfg)
	require.NoError(t, err)
	defer srv.Close()

	// 窗口写入与锁文件同目录的文件，另一个进程中的 watch 能读到
	store, ok := srv.windows.(*observe.FileStore)
	require.True(t, ok)
	require.NoError(t, store.Start(context.Background(), "d1", "backup_20250301_120000", time.Hour))
	shared, err := observe.NewFileStore(filepath.Join(dir, "quizops-observation.json"), "local").Active(context.Background())
	require.NoError(t, err)
	require.NotNil(t, shared)
	assert.Equal(t, "d1", shared.DeploymentID)

	gin.SetMode(gin.TestMode)
	err = srv.UseApi(gin.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manual")
}
