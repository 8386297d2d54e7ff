package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/qiniu/quizops/internal/config"
	"github.com/qiniu/quizops/internal/deploy/executor"
	"github.com/qiniu/quizops/internal/deploy/hostfs"
	"github.com/rs/zerolog/log"
)

// Host 一次操作期间使用的目标主机连接，文件操作和命令执行共用同一个 SSH 连接
type Host struct {
	Name    string
	FS      hostfs.FS
	Runner  executor.Runner
	closers []func() error
}

// Close 关闭连接
func (h *Host) Close() error {
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HostFactory 建立目标主机连接（部署流程的 connect 步骤）
type HostFactory func(ctx context.Context) (*Host, error)

// LocalHost 目标就是本机
func LocalHost() *Host {
	return &Host{Name: "local", FS: hostfs.NewLocalFS(), Runner: executor.NewLocalRunner()}
}

// NewHostFactory target.host 为空或 local 时使用本机，否则通过 SSH + SFTP 连接
func NewHostFactory(cfg *config.TargetConfig) HostFactory {
	return func(ctx context.Context) (*Host, error) {
		if cfg.IsLocal() {
			return LocalHost(), nil
		}
		client, err := executor.Dial(ctx, cfg)
		if err != nil {
			return nil, err
		}
		fs, err := hostfs.NewSFTPFS(client)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to start sftp session on %s: %w", cfg.Host, err)
		}
		log.Info().Str("host", cfg.Host).Int("port", cfg.Port).Str("user", cfg.User).Msg("connected to target host")
		return &Host{
			Name:    cfg.Host,
			FS:      fs,
			Runner:  executor.NewSSHRunner(client),
			closers: []func() error{client.Close, fs.Close},
		}, nil
	}
}
