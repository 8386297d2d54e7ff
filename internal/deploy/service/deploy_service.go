package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/qiniu/quizops/internal/config"
	"github.com/qiniu/quizops/internal/deploy/bundle"
	"github.com/qiniu/quizops/internal/deploy/hostfs"
	"github.com/qiniu/quizops/internal/deploy/lock"
	"github.com/qiniu/quizops/internal/deploy/model"
	"github.com/qiniu/quizops/internal/deploy/saga"
	"github.com/qiniu/quizops/internal/deploy/snapshot"
	"github.com/qiniu/quizops/internal/deploy/supervisor"
	"github.com/qiniu/quizops/internal/deploy/transfer"
	"github.com/qiniu/quizops/internal/deploy/verify"
	"github.com/rs/zerolog/log"
)

const (
	StepConnect     = "connect"
	StepPreflight   = "preflight"
	StepBackup      = "backup"
	StepTransfer    = "transfer"
	StepPermissions = "permissions"
	StepRestart     = "restart"
	StepWaitReady   = "wait_ready"
	StepVerify      = "verify"
	StepSnapshot    = "select_snapshot"
	StepRestore     = "restore"
	StepLiveness    = "liveness"
)

// DeployService 发布服务接口，负责部署、回滚以及相关查询
type DeployService interface {
	// Deploy 执行完整的部署流程，失败时按配置自动回滚
	Deploy(ctx context.Context, params *model.DeployParams) (*model.OperationResult, error)

	// Rollback 把目标恢复到指定快照并重启服务
	Rollback(ctx context.Context, params *model.RollbackParams) (*model.OperationResult, error)

	// Verify 对当前运行的服务执行四个验证请求
	Verify(ctx context.Context) ([]*model.ProbeResult, error)

	// Liveness 只检查服务根路径
	Liveness(ctx context.Context) error

	// Status 返回进程管理器报告的实例数和存活状态
	Status(ctx context.Context) (*model.ServiceStatus, error)

	// Logs 返回最近的服务日志
	Logs(ctx context.Context, lines int) (string, error)

	ListSnapshots(ctx context.Context) ([]*model.Snapshot, error)
	PruneSnapshots(ctx context.Context, keep int) ([]string, error)
	ListDeployments(ctx context.Context, limit int) ([]*model.Deployment, error)
	GetDeployment(ctx context.Context, id string) (*model.Deployment, error)
}

// WindowStarter 部署成功后开启观察窗口
type WindowStarter interface {
	Start(ctx context.Context, deploymentID, snapshotID string, duration time.Duration) error
}

// Options 构造部署服务所需的依赖，未设置的使用默认实现
type Options struct {
	Config   *config.Config
	Hosts    HostFactory
	Source   hostfs.FS
	Locker   lock.Locker
	Recorder Recorder
	Metrics  *Metrics
	Gate     *verify.MetricsGate
	Windows  WindowStarter
	Confirm  transfer.ConfirmFunc
	Now      func() time.Time
}

type deployService struct {
	cfg      *config.Config
	hosts    HostFactory
	source   hostfs.FS
	locker   lock.Locker
	recorder Recorder
	metrics  *Metrics
	gate     *verify.MetricsGate
	windows  WindowStarter
	confirm  transfer.ConfirmFunc
	verifier *verify.Verifier
	now      func() time.Time
	mode     os.FileMode

	readyTimeout  time.Duration
	readyInterval time.Duration
	stepTimeout   time.Duration
	observeWindow time.Duration
}

// NewDeployService 创建DeployService实例
func NewDeployService(opts Options) (DeployService, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := opts.Config
	mode, err := cfg.Deploy.Mode()
	if err != nil {
		return nil, err
	}

	s := &deployService{
		cfg:           cfg,
		hosts:         opts.Hosts,
		source:        opts.Source,
		locker:        opts.Locker,
		recorder:      opts.Recorder,
		metrics:       opts.Metrics,
		gate:          opts.Gate,
		windows:       opts.Windows,
		confirm:       opts.Confirm,
		verifier:      verify.NewVerifier(&cfg.Verify),
		now:           opts.Now,
		mode:          mode,
		readyTimeout:  config.Duration(cfg.Deploy.ReadyTimeout, 60*time.Second),
		readyInterval: config.Duration(cfg.Deploy.ReadyInterval, 2*time.Second),
		stepTimeout:   config.Duration(cfg.Deploy.StepTimeout, 5*time.Minute),
		observeWindow: config.Duration(cfg.Deploy.ObserveWindow, 0),
	}
	if s.hosts == nil {
		s.hosts = NewHostFactory(&cfg.Target)
	}
	if s.source == nil {
		s.source = hostfs.NewLocalFS()
	}
	if s.locker == nil {
		s.locker = lock.NewFileLocker(cfg.Deploy.LockFile, config.Duration(cfg.Deploy.LockTTL, 30*time.Minute))
	}
	if s.recorder == nil {
		s.recorder = NewMemoryRecorder()
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// operation 一次部署/回滚过程中使用的对象
type operation struct {
	d      *model.Deployment
	host   *Host
	bundle *model.Bundle
	sup    supervisor.Supervisor
	snaps  *snapshot.Manager
	snap   *model.Snapshot
}

// connect 建立连接并解析文件集合和进程管理方式
func (s *deployService) connect(ctx context.Context) (*operation, error) {
	host, err := s.hosts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to target: %w", err)
	}
	b, err := bundle.Resolve(&s.cfg.Deploy, host.FS)
	if err != nil {
		host.Close()
		return nil, err
	}
	sup, err := supervisor.New(&s.cfg.Supervisor, host.Runner)
	if err != nil {
		host.Close()
		return nil, err
	}
	return &operation{
		host:   host,
		bundle: b,
		sup:    sup,
		snaps:  snapshot.NewManager(host.FS),
	}, nil
}

func (s *deployService) newDeployment(kind model.OperationKind, operator string) *model.Deployment {
	return &model.Deployment{
		ID:         uuid.NewString(),
		Kind:       kind,
		Status:     model.StateRunning,
		Supervisor: s.cfg.Supervisor.Kind,
		Operator:   operator,
		StartedAt:  s.now().UTC(),
	}
}

func (s *deployService) strategy(name string, op *operation) (transfer.Strategy, error) {
	if name == transfer.StrategyManual && s.confirm != nil {
		return transfer.NewManualStrategy(op.host.FS, s.confirm), nil
	}
	return transfer.New(name, s.source, op.host.FS, op.host.Runner)
}

// Deploy 实现完整部署：connect → preflight → backup → transfer → permissions → restart → wait_ready → verify
func (s *deployService) Deploy(ctx context.Context, params *model.DeployParams) (*model.OperationResult, error) {
	if params == nil {
		params = &model.DeployParams{}
	}
	strategyName := params.Strategy
	if strategyName == "" {
		strategyName = s.cfg.Deploy.Strategy
	}
	autoRollback := s.cfg.Deploy.AutoRollback
	if params.AutoRollback != nil {
		autoRollback = *params.AutoRollback
	}
	if params.DryRun {
		return s.plan(ctx, params, strategyName)
	}

	release, err := s.locker.Acquire(ctx, operatorName(params.Operator))
	if err != nil {
		return nil, err
	}
	defer s.release(release)

	d := s.newDeployment(model.KindDeploy, params.Operator)
	d.Strategy = strategyName
	if err := s.recorder.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to record deployment: %w", err)
	}
	logger := log.With().Str("deployment", d.ID).Str("strategy", strategyName).Logger()
	logger.Info().Bool("auto_rollback", autoRollback).Msg("deployment started")

	op, err := s.connect(ctx)
	if err != nil {
		return s.finish(ctx, &model.OperationResult{Deployment: d}, StepConnect, model.StateFailed, err)
	}
	defer op.host.Close()
	op.d = d
	d.Files = op.bundle.RelPaths()

	strat, err := s.strategy(strategyName, op)
	if err != nil {
		return s.finish(ctx, &model.OperationResult{Deployment: d}, StepConnect, model.StateFailed, err)
	}

	sagaCfg := s.sagaConfig()
	sagaCfg.CompensateOnFail = autoRollback
	flow := saga.New("deploy", sagaCfg)
	flow.AddStep(saga.Step{
		Name: StepPreflight,
		Execute: func(ctx context.Context) error {
			return bundle.Preflight(ctx, s.source, op.bundle)
		},
	})
	flow.AddStep(saga.Step{
		Name: StepBackup,
		Execute: func(ctx context.Context) error {
			snap, err := op.snaps.Create(ctx, op.bundle, s.now())
			if err != nil {
				return err
			}
			op.snap = snap
			d.SnapshotID = snap.ID
			if err := s.recorder.UpdateStatus(ctx, d.ID, model.StateRunning, snap.ID); err != nil {
				logger.Warn().Err(err).Msg("failed to record snapshot id")
			}
			return nil
		},
	})
	flow.AddStep(saga.Step{
		Name: StepTransfer,
		Execute: func(ctx context.Context) error {
			results, err := strat.Transfer(ctx, op.bundle)
			for _, r := range results {
				logger.Debug().Str("file", r.TargetPath).Str("sha256", r.SHA256).Int64("bytes", r.Bytes).Msg("file transferred")
			}
			return err
		},
		// 文件只有全部就位后才会被服务加载，恢复和重启都挂在这一步上
		Compensate: func(ctx context.Context) error {
			return s.rollbackTo(ctx, op)
		},
		CompensateOnFailure: true,
	})
	flow.AddStep(saga.Step{
		Name: StepPermissions,
		Execute: func(ctx context.Context) error {
			return transfer.ApplyMode(ctx, op.host.FS, op.bundle, s.mode)
		},
	})
	flow.AddStep(saga.Step{
		Name: StepRestart,
		Execute: func(ctx context.Context) error {
			return op.sup.Restart(ctx)
		},
	})
	flow.AddStep(saga.Step{
		Name:    StepWaitReady,
		Timeout: s.readyTimeout + s.stepTimeout,
		Execute: func(ctx context.Context) error {
			return s.waitReady(ctx, op.sup)
		},
	})
	flow.AddStep(saga.Step{
		Name: StepVerify,
		Execute: func(ctx context.Context) error {
			if params.SkipVerify {
				probe, err := s.verifier.Liveness(ctx)
				d.Probes = []*model.ProbeResult{probe}
				return err
			}
			probes, err := s.verifier.Run(ctx)
			d.Probes = probes
			return err
		},
	})

	res := flow.Execute(ctx)
	for _, p := range d.Probes {
		if !p.OK {
			s.metrics.probeFailed(p.Name)
		}
	}
	result := &model.OperationResult{Deployment: d, Snapshot: op.snap}
	if res.Success {
		s.startWindow(ctx, d)
		return s.finish(ctx, result, "", model.StateSucceeded, nil)
	}

	status := model.StateFailed
	if res.Compensating() {
		ok := len(res.CompensationErrors) == 0
		s.metrics.rolledBack("auto", ok)
		status = model.StateRolledBack
		if !ok {
			status = model.StateRollbackFailed
			res.Err = fmt.Errorf("%w; rollback failed: %v", res.Err, res.CompensationErrors[0].Err)
		}
	}
	return s.finish(ctx, result, res.FailedStep, status, res.Err)
}

// rollbackTo 恢复快照 → 重启 → 等待就绪 → 存活检查
func (s *deployService) rollbackTo(ctx context.Context, op *operation) error {
	if op.snap == nil {
		return fmt.Errorf("no snapshot to roll back to")
	}
	logger := log.With().Str("deployment", op.d.ID).Str("snapshot", op.snap.ID).Logger()
	logger.Warn().Msg("rolling back to snapshot")

	if err := op.snaps.Restore(ctx, op.bundle, op.snap); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	if err := op.sup.Restart(ctx); err != nil {
		return fmt.Errorf("restart after restore: %w", err)
	}
	if err := s.waitReady(ctx, op.sup); err != nil {
		return fmt.Errorf("wait ready after restore: %w", err)
	}
	if _, err := s.verifier.Liveness(ctx); err != nil {
		return fmt.Errorf("liveness after restore: %w", err)
	}
	logger.Info().Msg("rollback completed")
	return nil
}

// Rollback 实现手动回滚：select_snapshot → restore → restart → wait_ready → liveness
func (s *deployService) Rollback(ctx context.Context, params *model.RollbackParams) (*model.OperationResult, error) {
	if params == nil {
		params = &model.RollbackParams{}
	}
	release, err := s.locker.Acquire(ctx, operatorName(params.Operator))
	if err != nil {
		return nil, err
	}
	defer s.release(release)

	d := s.newDeployment(model.KindRollback, params.Operator)
	if err := s.recorder.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to record rollback: %w", err)
	}
	log.Info().Str("deployment", d.ID).Str("snapshot", params.SnapshotID).Msg("rollback started")

	op, err := s.connect(ctx)
	if err != nil {
		return s.finish(ctx, &model.OperationResult{Deployment: d}, StepConnect, model.StateFailed, err)
	}
	defer op.host.Close()
	op.d = d
	d.Files = op.bundle.RelPaths()

	flow := saga.New("rollback", s.sagaConfig())
	flow.AddStep(saga.Step{
		Name: StepSnapshot,
		Execute: func(ctx context.Context) error {
			snap, err := op.snaps.Get(ctx, op.bundle.BackupRoot, params.SnapshotID)
			if err != nil {
				return err
			}
			op.snap = snap
			d.SnapshotID = snap.ID
			return nil
		},
	})
	flow.AddStep(saga.Step{
		Name: StepRestore,
		Execute: func(ctx context.Context) error {
			return op.snaps.Restore(ctx, op.bundle, op.snap)
		},
	})
	flow.AddStep(saga.Step{
		Name: StepRestart,
		Execute: func(ctx context.Context) error {
			return op.sup.Restart(ctx)
		},
	})
	flow.AddStep(saga.Step{
		Name:    StepWaitReady,
		Timeout: s.readyTimeout + s.stepTimeout,
		Execute: func(ctx context.Context) error {
			return s.waitReady(ctx, op.sup)
		},
	})
	flow.AddStep(saga.Step{
		Name: StepLiveness,
		Execute: func(ctx context.Context) error {
			probe, err := s.verifier.Liveness(ctx)
			d.Probes = []*model.ProbeResult{probe}
			return err
		},
	})

	res := flow.Execute(ctx)
	trigger := params.Trigger
	if trigger == "" {
		trigger = "manual"
	}
	s.metrics.rolledBack(trigger, res.Success)
	result := &model.OperationResult{Deployment: d, Snapshot: op.snap}
	if res.Success {
		return s.finish(ctx, result, "", model.StateSucceeded, nil)
	}
	return s.finish(ctx, result, res.FailedStep, model.StateFailed, res.Err)
}

// plan 只做连接、预检，并列出将要备份的文件，不修改目标主机
func (s *deployService) plan(ctx context.Context, params *model.DeployParams, strategyName string) (*model.OperationResult, error) {
	d := s.newDeployment(model.KindDeploy, params.Operator)
	d.Status = model.StatePending
	d.Strategy = strategyName

	op, err := s.connect(ctx)
	if err != nil {
		d.FailedStep = StepConnect
		return &model.OperationResult{Deployment: d}, err
	}
	defer op.host.Close()
	d.Files = op.bundle.RelPaths()

	if _, err := s.strategy(strategyName, op); err != nil {
		return &model.OperationResult{Deployment: d}, err
	}
	if err := bundle.Preflight(ctx, s.source, op.bundle); err != nil {
		d.FailedStep = StepPreflight
		return &model.OperationResult{Deployment: d}, err
	}

	at := s.now()
	planned := &model.Snapshot{
		ID:        snapshot.ID(at),
		Dir:       op.host.FS.Join(op.bundle.BackupRoot, snapshot.ID(at)),
		AppRoot:   op.bundle.AppRoot,
		CreatedAt: at.UTC(),
	}
	for _, f := range op.bundle.Files {
		exists, err := hostfs.Exists(op.host.FS, f.TargetPath)
		if err != nil {
			return &model.OperationResult{Deployment: d}, fmt.Errorf("failed to stat %s: %w", f.TargetPath, err)
		}
		planned.Files = append(planned.Files, &model.SnapshotFile{RelPath: f.RelPath, Existed: exists})
	}
	log.Info().Str("snapshot", planned.ID).Strs("files", d.Files).Msg("dry run finished, target not modified")
	return &model.OperationResult{Deployment: d, Snapshot: planned}, nil
}

// waitReady 服务应答后再确认恰好一个实例在运行
func (s *deployService) waitReady(ctx context.Context, sup supervisor.Supervisor) error {
	if err := s.verifier.WaitReady(ctx, s.readyTimeout, s.readyInterval); err != nil {
		return err
	}

	deadline := time.Now().Add(s.readyTimeout)
	var last *model.ServiceStatus
	for {
		st, err := sup.Inspect(ctx)
		if err != nil {
			return fmt.Errorf("failed to inspect %s: %w", sup.Name(), err)
		}
		last = st
		if st.Instances == 1 {
			break
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w: %s reports %d running instances (%s)", verify.ErrInstanceCount, sup.Name(), last.Instances, last.Detail)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.readyInterval):
		}
	}

	if s.gate != nil {
		if err := s.gate.Check(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *deployService) sagaConfig() saga.Config {
	cfg := saga.DefaultConfig()
	cfg.StepTimeout = s.stepTimeout
	cfg.CompensationTimeout = 2*s.stepTimeout + s.readyTimeout
	cfg.OnStepStart = func(step saga.Step) {
		log.Info().Str("step", step.Name).Msg("step started")
	}
	cfg.OnStepComplete = func(step saga.Step, d time.Duration) {
		s.metrics.stepDone(step.Name, d)
	}
	return cfg
}

// finish 写入最终状态；记录使用不受取消影响的 context
func (s *deployService) finish(ctx context.Context, result *model.OperationResult, failedStep string, status model.DeployState, opErr error) (*model.OperationResult, error) {
	d := result.Deployment
	now := s.now().UTC()
	d.Status = status
	d.FinishedAt = &now
	d.Duration = now.Sub(d.StartedAt)
	d.FailedStep = failedStep
	if opErr != nil {
		d.Error = opErr.Error()
	}

	if err := s.recorder.Finish(context.WithoutCancel(ctx), d); err != nil {
		log.Error().Err(err).Str("deployment", d.ID).Msg("failed to record deployment result")
	}
	s.metrics.finished(string(d.Kind), string(status))

	ev := log.Info()
	if opErr != nil {
		ev = log.Error().Err(opErr).Str("failed_step", failedStep)
	}
	ev.Str("deployment", d.ID).Str("kind", string(d.Kind)).Str("status", string(status)).
		Dur("duration", d.Duration).Msg("operation finished")
	return result, opErr
}

func (s *deployService) startWindow(ctx context.Context, d *model.Deployment) {
	if s.windows == nil || s.observeWindow <= 0 {
		return
	}
	if err := s.windows.Start(ctx, d.ID, d.SnapshotID, s.observeWindow); err != nil {
		log.Warn().Err(err).Str("deployment", d.ID).Msg("failed to open observation window")
	}
}

func (s *deployService) release(release lock.Release) {
	if err := release(context.Background()); err != nil {
		log.Warn().Err(err).Msg("failed to release deploy lock")
	}
}

func operatorName(op string) string {
	if op == "" {
		return "unknown"
	}
	return op
}

// IsConflict 是否为并发操作冲突
func IsConflict(err error) bool {
	return errors.Is(err, lock.ErrLockHeld)
}
