package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/qiniu/quizops/internal/config"
	"github.com/qiniu/quizops/internal/deploy/executor"
	"github.com/qiniu/quizops/internal/deploy/model"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/process"
)

// Manual 没有进程管理器时直接按命令行匹配进程并发送信号
type Manual struct {
	base
	pattern  string
	startCmd string
	workDir  string
	logFile  string
	poll     time.Duration
}

func NewManual(b base, cfg *config.SupervisorConfig) (*Manual, error) {
	pattern := cfg.ProcessPattern
	if pattern == "" {
		pattern = cfg.Name
	}
	if pattern == "" {
		return nil, fmt.Errorf("%w: manual supervisor needs processPattern", ErrNotConfigured)
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return nil, fmt.Errorf("invalid process pattern %q: %w", pattern, err)
	}
	return &Manual{
		base:     b,
		pattern:  pattern,
		startCmd: cfg.StartCommand,
		workDir:  cfg.WorkDir,
		logFile:  cfg.LogFile,
		poll:     200 * time.Millisecond,
	}, nil
}

func (m *Manual) Name() string { return KindManual }

// pids 本机使用 gopsutil 枚举进程，远程使用 pgrep -f
func (m *Manual) pids(ctx context.Context) ([]int32, error) {
	if m.runner.Local() {
		return m.localPids(ctx)
	}
	ret, err := m.runner.Run(ctx, "pgrep", "-f", m.pattern)
	var exitErr *executor.ExitError
	if errors.As(err, &exitErr) && exitErr.Code == 1 {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pgrep failed: %w", err)
	}
	var pids []int32
	for _, line := range nonEmptyLines(ret.Output) {
		pid, err := strconv.ParseInt(line, 10, 32)
		if err != nil {
			continue
		}
		pids = append(pids, int32(pid))
	}
	return pids, nil
}

func (m *Manual) localPids(ctx context.Context) ([]int32, error) {
	re := regexp.MustCompile(m.pattern)
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}
	self := int32(os.Getpid())
	var pids []int32
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil || cmdline == "" {
			continue
		}
		if re.MatchString(cmdline) {
			pids = append(pids, p.Pid)
		}
	}
	return pids, nil
}

func (m *Manual) Inspect(ctx context.Context) (*model.ServiceStatus, error) {
	pids, err := m.pids(ctx)
	if err != nil {
		return nil, err
	}
	return &model.ServiceStatus{Supervisor: KindManual, Instances: len(pids), Detail: "pids=" + joinPids(pids)}, nil
}

func (m *Manual) signal(ctx context.Context, sig string, pids []int32) error {
	if len(pids) == 0 {
		return nil
	}
	if m.runner.Local() {
		for _, pid := range pids {
			p, err := process.NewProcessWithContext(ctx, pid)
			if err != nil {
				continue
			}
			if sig == "KILL" {
				err = p.KillWithContext(ctx)
			} else {
				err = p.TerminateWithContext(ctx)
			}
			if err != nil {
				log.Warn().Err(err).Int32("pid", pid).Str("signal", sig).Msg("failed to signal process")
			}
		}
		return nil
	}
	args := []string{"-" + sig}
	for _, pid := range pids {
		args = append(args, strconv.Itoa(int(pid)))
	}
	_, err := m.run(ctx, "kill", args...)
	var exitErr *executor.ExitError
	if errors.As(err, &exitErr) {
		// 进程可能已经自行退出
		return nil
	}
	return err
}

// Stop 先发送 SIGTERM，超时后对残留进程发送 SIGKILL
func (m *Manual) Stop(ctx context.Context) error {
	pids, err := m.pids(ctx)
	if err != nil {
		return err
	}
	if len(pids) == 0 {
		return nil
	}
	log.Info().Str("pids", joinPids(pids)).Msg("stopping service processes")
	if err := m.signal(ctx, "TERM", pids); err != nil {
		return err
	}

	deadline := time.Now().Add(m.stopTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.poll):
		}
		if pids, err = m.pids(ctx); err != nil {
			return err
		}
		if len(pids) == 0 {
			return nil
		}
	}

	log.Warn().Str("pids", joinPids(pids)).Dur("timeout", m.stopTimeout).Msg("processes still running, sending SIGKILL")
	return m.signal(ctx, "KILL", pids)
}

// Start 在后台启动服务，输出追加到日志文件
func (m *Manual) Start(ctx context.Context) error {
	if m.startCmd == "" {
		return fmt.Errorf("%w: manual supervisor needs startCommand", ErrNotConfigured)
	}
	logFile := m.logFile
	if logFile == "" {
		logFile = "/dev/null"
	}
	var script strings.Builder
	if m.workDir != "" {
		script.WriteString("cd " + executor.Quote(m.workDir) + " && ")
	}
	fmt.Fprintf(&script, "nohup %s >> %s 2>&1 < /dev/null &", m.startCmd, executor.Quote(logFile))
	_, err := m.runner.Shell(ctx, script.String())
	return err
}

func (m *Manual) Restart(ctx context.Context) error {
	if err := m.Stop(ctx); err != nil {
		return fmt.Errorf("stop failed: %w", err)
	}
	return m.Start(ctx)
}

func (m *Manual) Logs(ctx context.Context, lines int) (string, error) {
	if m.logFile == "" {
		return "", fmt.Errorf("%w: manual supervisor has no logFile", ErrNotConfigured)
	}
	ret, err := m.runner.Run(ctx, "tail", "-n", strconv.Itoa(lines), m.logFile)
	if err != nil {
		return "", err
	}
	return ret.Output, nil
}

func joinPids(pids []int32) string {
	parts := make([]string, 0, len(pids))
	for _, pid := range pids {
		parts = append(parts, strconv.Itoa(int(pid)))
	}
	return strings.Join(parts, ",")
}
