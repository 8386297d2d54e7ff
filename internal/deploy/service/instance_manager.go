package service

import (
	"context"
	"fmt"

	"github.com/qiniu/quizops/internal/deploy/model"
	"github.com/rs/zerolog/log"
)

// Verify 对当前运行的服务执行全部验证请求
func (s *deployService) Verify(ctx context.Context) ([]*model.ProbeResult, error) {
	probes, err := s.verifier.Run(ctx)
	for _, p := range probes {
		if !p.OK {
			s.metrics.probeFailed(p.Name)
		}
	}
	return probes, err
}

func (s *deployService) Liveness(ctx context.Context) error {
	_, err := s.verifier.Liveness(ctx)
	return err
}

// Status 获取实例数，并附带一次存活检查
func (s *deployService) Status(ctx context.Context) (*model.ServiceStatus, error) {
	op, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer op.host.Close()

	st, err := op.sup.Inspect(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.verifier.Liveness(ctx); err != nil {
		log.Debug().Err(err).Msg("liveness check failed")
	} else {
		st.Live = true
	}
	return st, nil
}

func (s *deployService) Logs(ctx context.Context, lines int) (string, error) {
	if lines <= 0 {
		lines = 100
	}
	op, err := s.connect(ctx)
	if err != nil {
		return "", err
	}
	defer op.host.Close()
	return op.sup.Logs(ctx, lines)
}

func (s *deployService) ListSnapshots(ctx context.Context) ([]*model.Snapshot, error) {
	op, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer op.host.Close()
	return op.snaps.List(ctx, op.bundle.BackupRoot)
}

// PruneSnapshots 删除旧快照，持有部署锁以免与回滚同时进行
func (s *deployService) PruneSnapshots(ctx context.Context, keep int) ([]string, error) {
	release, err := s.locker.Acquire(ctx, "prune")
	if err != nil {
		return nil, err
	}
	defer s.release(release)

	op, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer op.host.Close()
	return op.snaps.Prune(ctx, op.bundle.BackupRoot, keep)
}

func (s *deployService) ListDeployments(ctx context.Context, limit int) ([]*model.Deployment, error) {
	list, err := s.recorder.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	return list, nil
}

func (s *deployService) GetDeployment(ctx context.Context, id string) (*model.Deployment, error) {
	return s.recorder.Get(ctx, id)
}
