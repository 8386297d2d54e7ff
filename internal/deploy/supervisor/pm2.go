package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/qiniu/quizops/internal/deploy/model"
)

// PM2 进程管理器
type PM2 struct {
	base
}

type pm2Process struct {
	Name   string `json:"name"`
	PID    int    `json:"pid"`
	PM2Env struct {
		Status string `json:"status"`
	} `json:"pm2_env"`
}

func (p *PM2) Name() string { return KindPM2 }

func (p *PM2) Inspect(ctx context.Context) (*model.ServiceStatus, error) {
	ret, err := p.run(ctx, "pm2", "jlist")
	if err != nil {
		return nil, fmt.Errorf("pm2 jlist failed: %w", err)
	}
	// pm2 可能在 JSON 前输出提示信息
	out := ret.Output
	if i := strings.Index(out, "["); i > 0 {
		out = out[i:]
	}
	var procs []pm2Process
	if err := json.Unmarshal([]byte(out), &procs); err != nil {
		return nil, fmt.Errorf("failed to parse pm2 jlist: %w", err)
	}

	online := 0
	var states []string
	for _, proc := range procs {
		if proc.Name != p.name {
			continue
		}
		states = append(states, fmt.Sprintf("pid=%d %s", proc.PID, proc.PM2Env.Status))
		if proc.PM2Env.Status == "online" {
			online++
		}
	}
	return &model.ServiceStatus{Supervisor: KindPM2, Instances: online, Detail: strings.Join(states, ", ")}, nil
}

func (p *PM2) Stop(ctx context.Context) error {
	_, err := p.run(ctx, "pm2", "stop", p.name)
	return err
}

func (p *PM2) Start(ctx context.Context) error {
	_, err := p.run(ctx, "pm2", "start", p.name)
	return err
}

func (p *PM2) Restart(ctx context.Context) error {
	_, err := p.run(ctx, "pm2", "restart", p.name)
	return err
}

func (p *PM2) Logs(ctx context.Context, lines int) (string, error) {
	ret, err := p.run(ctx, "pm2", "logs", p.name, "--lines", strconv.Itoa(lines), "--nostream", "--raw")
	if err != nil {
		return "", err
	}
	return combined(ret), nil
}
