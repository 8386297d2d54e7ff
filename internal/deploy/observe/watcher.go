package observe

import (
	"context"
	"errors"
	"time"

	"github.com/qiniu/quizops/internal/deploy/model"
	"github.com/rs/zerolog/log"
)

// Operator 观察触发的回滚记录的操作人
const Operator = "observer"

// Watcher 周期性检查存活，观察期内连续失败达到阈值时回滚到窗口记录的快照
type Watcher struct {
	store       Store
	target      Target
	interval    time.Duration
	maxFailures int
	failures    int
	now         func() time.Time
}

// NewWatcher maxFailures 小于 1 时按 1 处理
func NewWatcher(store Store, target Target, interval time.Duration, maxFailures int) *Watcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Watcher{store: store, target: target, interval: interval, maxFailures: maxFailures, now: time.Now}
}

// Run 阻塞直到 ctx 结束
func (w *Watcher) Run(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := w.CheckOnce(ctx); err != nil {
				log.Error().Err(err).Msg("observation check failed")
			}
		}
	}
}

// CheckOnce 执行一次检查，发生回滚时返回回滚结果
func (w *Watcher) CheckOnce(ctx context.Context) (*model.OperationResult, error) {
	window, err := w.store.Active(ctx)
	if err != nil {
		return nil, err
	}
	if window == nil {
		w.failures = 0
		return nil, nil
	}
	if !w.now().Before(window.EndTime) {
		// 观察期内没有触发回滚，部署视为稳定
		w.failures = 0
		if err := w.store.Complete(ctx); err != nil && !errors.Is(err, ErrNoWindow) {
			return nil, err
		}
		log.Info().Str("deployment", window.DeploymentID).Msg("observation window passed, deployment stable")
		return nil, nil
	}

	err = w.target.Liveness(ctx)
	if err == nil {
		w.failures = 0
		return nil, nil
	}
	w.failures++
	log.Warn().Err(err).
		Str("deployment", window.DeploymentID).
		Int("failures", w.failures).
		Int("threshold", w.maxFailures).
		Msg("liveness failed during observation window")
	if w.failures < w.maxFailures {
		return nil, nil
	}

	w.failures = 0
	if err := w.store.Cancel(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to cancel observation window")
	}
	log.Warn().
		Str("deployment", window.DeploymentID).
		Str("snapshot", window.SnapshotID).
		Msg("rolling back after failed observation")
	return w.target.Rollback(ctx, &model.RollbackParams{
		Operator:   Operator,
		SnapshotID: window.SnapshotID,
		Trigger:    "observe",
	})
}
