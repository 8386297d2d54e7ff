package observe

import (
	"context"
	"errors"
	"time"

	"github.com/qiniu/quizops/internal/deploy/model"
)

var ErrNoWindow = errors.New("no active observation window")

// Window 部署成功后的观察期
type Window struct {
	Target       string        `json:"target"`
	DeploymentID string        `json:"deployment_id"`
	SnapshotID   string        `json:"snapshot_id"`
	Duration     time.Duration `json:"duration"`
	StartTime    time.Time     `json:"start_time"`
	EndTime      time.Time     `json:"end_time"`
	IsActive     bool          `json:"is_active"`
}

// Store 观察窗口存储，每个目标同一时间只有一个窗口，新窗口覆盖旧窗口
type Store interface {
	Start(ctx context.Context, deploymentID, snapshotID string, duration time.Duration) error
	// Active 返回当前窗口，结束时间已过的窗口也会返回，由调用方 Complete
	Active(ctx context.Context) (*Window, error)
	Complete(ctx context.Context) error
	Cancel(ctx context.Context) error
}

// Target 观察期内被检查和回滚的对象，由部署服务实现
type Target interface {
	Liveness(ctx context.Context) error
	Rollback(ctx context.Context, params *model.RollbackParams) (*model.OperationResult, error)
}
