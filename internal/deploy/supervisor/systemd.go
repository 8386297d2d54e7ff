package supervisor

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/qiniu/quizops/internal/deploy/model"
)

// Systemd 通过 systemctl 管理单元，日志来自 journalctl
type Systemd struct {
	base
}

func (s *Systemd) Name() string { return KindSystemd }

func (s *Systemd) Inspect(ctx context.Context) (*model.ServiceStatus, error) {
	out, err := output(s.run(ctx, "systemctl", "show", s.name, "--property=ActiveState,SubState,MainPID"))
	if err != nil {
		return nil, fmt.Errorf("systemctl show failed: %w", err)
	}
	props := map[string]string{}
	for _, line := range nonEmptyLines(out) {
		if k, v, ok := strings.Cut(line, "="); ok {
			props[k] = v
		}
	}
	instances := 0
	if props["ActiveState"] == "active" {
		if pid, _ := strconv.Atoi(props["MainPID"]); pid > 0 {
			instances = 1
		}
	}
	detail := fmt.Sprintf("%s (%s) pid=%s", props["ActiveState"], props["SubState"], props["MainPID"])
	return &model.ServiceStatus{Supervisor: KindSystemd, Instances: instances, Detail: detail}, nil
}

func (s *Systemd) Stop(ctx context.Context) error {
	_, err := s.run(ctx, "systemctl", "stop", s.name)
	return err
}

func (s *Systemd) Start(ctx context.Context) error {
	_, err := s.run(ctx, "systemctl", "start", s.name)
	return err
}

func (s *Systemd) Restart(ctx context.Context) error {
	_, err := s.run(ctx, "systemctl", "restart", s.name)
	return err
}

func (s *Systemd) Logs(ctx context.Context, lines int) (string, error) {
	ret, err := s.run(ctx, "journalctl", "-u", s.name, "-n", strconv.Itoa(lines), "--no-pager")
	if err != nil {
		return "", err
	}
	return ret.Output, nil
}
