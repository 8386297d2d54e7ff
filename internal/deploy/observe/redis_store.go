package observe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisStore 观察窗口保存在 Redis，serve 和 watch 进程可以共享
type RedisStore struct {
	redis  *redis.Client
	target string
}

func NewRedisStore(rdb *redis.Client, target string) *RedisStore {
	return &RedisStore{redis: rdb, target: target}
}

func (s *RedisStore) key() string {
	return "quizops:observation:" + s.target
}

func (s *RedisStore) Start(ctx context.Context, deploymentID, snapshotID string, duration time.Duration) error {
	if s.redis == nil {
		return fmt.Errorf("redis client is nil")
	}
	now := time.Now()
	window := &Window{
		Target:       s.target,
		DeploymentID: deploymentID,
		SnapshotID:   snapshotID,
		Duration:     duration,
		StartTime:    now,
		EndTime:      now.Add(duration),
		IsActive:     true,
	}
	data, err := json.Marshal(window)
	if err != nil {
		return fmt.Errorf("failed to marshal observation window: %w", err)
	}
	// 过期后多保留一会儿，方便排查
	if err := s.redis.Set(ctx, s.key(), data, duration+5*time.Minute).Err(); err != nil {
		return fmt.Errorf("failed to store observation window: %w", err)
	}

	log.Info().
		Str("target", s.target).
		Str("deployment", deploymentID).
		Str("snapshot", snapshotID).
		Dur("duration", duration).
		Time("end_time", window.EndTime).
		Msg("started observation window")
	return nil
}

func (s *RedisStore) Active(ctx context.Context) (*Window, error) {
	if s.redis == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	data, err := s.redis.Get(ctx, s.key()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get observation window: %w", err)
	}

	var window Window
	if err := json.Unmarshal([]byte(data), &window); err != nil {
		return nil, fmt.Errorf("failed to unmarshal observation window: %w", err)
	}
	return &window, nil
}

func (s *RedisStore) Complete(ctx context.Context) error {
	window, err := s.Active(ctx)
	if err != nil {
		return err
	}
	if window == nil {
		return ErrNoWindow
	}
	if err := s.redis.Del(ctx, s.key()).Err(); err != nil {
		return fmt.Errorf("failed to remove observation window: %w", err)
	}
	log.Info().Str("target", s.target).Str("deployment", window.DeploymentID).Msg("completed observation window")
	return nil
}

func (s *RedisStore) Cancel(ctx context.Context) error {
	window, err := s.Active(ctx)
	if err != nil {
		return err
	}
	if window == nil {
		return nil
	}
	if err := s.redis.Del(ctx, s.key()).Err(); err != nil {
		return fmt.Errorf("failed to cancel observation window: %w", err)
	}
	log.Warn().Str("target", s.target).Str("deployment", window.DeploymentID).Msg("cancelled observation window")
	return nil
}
