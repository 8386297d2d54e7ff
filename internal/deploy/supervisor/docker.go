package supervisor

import (
	"context"
	"fmt"
	"strconv"

	"github.com/qiniu/quizops/internal/deploy/model"
)

// Docker 容器运行时
type Docker struct {
	base
}

func (d *Docker) Name() string { return KindDocker }

func (d *Docker) Inspect(ctx context.Context) (*model.ServiceStatus, error) {
	ret, err := d.run(ctx, "docker", "ps",
		"--filter", "name=^/"+d.name+"$",
		"--filter", "status=running",
		"--format", "{{.ID}} {{.Status}}")
	if err != nil {
		return nil, fmt.Errorf("docker ps failed: %w", err)
	}
	lines := nonEmptyLines(ret.Output)
	return &model.ServiceStatus{Supervisor: KindDocker, Instances: len(lines), Detail: ret.Output}, nil
}

func (d *Docker) Stop(ctx context.Context) error {
	_, err := d.run(ctx, "docker", "stop", "-t", seconds(d.stopTimeout), d.name)
	return err
}

func (d *Docker) Start(ctx context.Context) error {
	_, err := d.run(ctx, "docker", "start", d.name)
	return err
}

func (d *Docker) Restart(ctx context.Context) error {
	_, err := d.run(ctx, "docker", "restart", "-t", seconds(d.stopTimeout), d.name)
	return err
}

func (d *Docker) Logs(ctx context.Context, lines int) (string, error) {
	ret, err := d.run(ctx, "docker", "logs", "--tail", strconv.Itoa(lines), d.name)
	if err != nil {
		return "", err
	}
	return combined(ret), nil
}
