package supervisor

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/qiniu/quizops/internal/deploy/model"
)

// Supervisord 通过 supervisorctl 管理，name 可以是进程名或 group:*
type Supervisord struct {
	base
}

func (s *Supervisord) Name() string { return KindSupervisord }

func (s *Supervisord) Inspect(ctx context.Context) (*model.ServiceStatus, error) {
	out, err := output(s.run(ctx, "supervisorctl", "status", s.name))
	if err != nil {
		return nil, fmt.Errorf("supervisorctl status failed: %w", err)
	}
	running := 0
	for _, line := range nonEmptyLines(out) {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == "RUNNING" {
			running++
		}
	}
	return &model.ServiceStatus{Supervisor: KindSupervisord, Instances: running, Detail: out}, nil
}

func (s *Supervisord) Stop(ctx context.Context) error {
	_, err := s.run(ctx, "supervisorctl", "stop", s.name)
	return err
}

func (s *Supervisord) Start(ctx context.Context) error {
	_, err := s.run(ctx, "supervisorctl", "start", s.name)
	return err
}

func (s *Supervisord) Restart(ctx context.Context) error {
	_, err := s.run(ctx, "supervisorctl", "restart", s.name)
	return err
}

// Logs supervisorctl tail 按字节截取，这里按每行约 200 字节估算后再裁剪
func (s *Supervisord) Logs(ctx context.Context, lines int) (string, error) {
	ret, err := s.run(ctx, "supervisorctl", "tail", "-"+strconv.Itoa(lines*200), s.name)
	if err != nil {
		return "", err
	}
	return lastLines(ret.Output, lines), nil
}
