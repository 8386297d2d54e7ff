package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/qiniu/quizops/internal/config"
	"github.com/qiniu/quizops/internal/deploy/executor"
	"github.com/qiniu/quizops/internal/deploy/model"
)

const (
	KindDocker      = "docker"
	KindSupervisord = "supervisord"
	KindSystemd     = "systemd"
	KindPM2         = "pm2"
	KindManual      = "manual"
)

var (
	ErrUnknownSupervisor = errors.New("unknown supervisor")
	ErrNotConfigured     = errors.New("supervisor not configured")
)

// Supervisor 管理目标主机上的服务进程
type Supervisor interface {
	Name() string
	// Inspect 返回当前运行中的实例数
	Inspect(ctx context.Context) (*model.ServiceStatus, error)
	Stop(ctx context.Context) error
	Start(ctx context.Context) error
	Restart(ctx context.Context) error
	Logs(ctx context.Context, lines int) (string, error)
}

// New 按配置选择进程管理方式
func New(cfg *config.SupervisorConfig, runner executor.Runner) (Supervisor, error) {
	if cfg.Name == "" && cfg.Kind != KindManual {
		return nil, fmt.Errorf("%w: supervisor.name is empty", ErrNotConfigured)
	}
	b := base{
		runner:      runner,
		name:        cfg.Name,
		sudo:        cfg.UseSudo,
		stopTimeout: config.Duration(cfg.StopTimeout, 15*time.Second),
	}
	switch cfg.Kind {
	case KindDocker:
		return &Docker{base: b}, nil
	case KindSupervisord:
		return &Supervisord{base: b}, nil
	case KindSystemd:
		return &Systemd{base: b}, nil
	case KindPM2:
		return &PM2{base: b}, nil
	case KindManual:
		return NewManual(b, cfg)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSupervisor, cfg.Kind)
}

type base struct {
	runner      executor.Runner
	name        string
	sudo        bool
	stopTimeout time.Duration
}

func (b *base) run(ctx context.Context, name string, args ...string) (*executor.RunRet, error) {
	if b.sudo {
		return b.runner.Run(ctx, "sudo", append([]string{"-n", name}, args...)...)
	}
	return b.runner.Run(ctx, name, args...)
}

// output 对于以非零状态表达结果的命令（如 supervisorctl status），仍然返回其输出
func output(ret *executor.RunRet, err error) (string, error) {
	var exitErr *executor.ExitError
	if err != nil && !(errors.As(err, &exitErr) && ret != nil) {
		return "", err
	}
	if ret == nil {
		return "", nil
	}
	return ret.Output, nil
}

func combined(ret *executor.RunRet) string {
	if ret == nil {
		return ""
	}
	if ret.Stderr == "" {
		return ret.Output
	}
	return ret.Output + ret.Stderr
}

func nonEmptyLines(s string) []string {
	var lines []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// lastLines 截取最后 n 行
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func seconds(d time.Duration) string {
	return strconv.Itoa(int(d.Round(time.Second) / time.Second))
}
