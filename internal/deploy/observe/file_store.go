package observe

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// FileStore 观察窗口保存在本机文件中，未启用 redis 时 deploy 与 watch 进程通过它共享窗口
type FileStore struct {
	mu     sync.Mutex
	path   string
	target string
	now    func() time.Time
}

func NewFileStore(path, target string) *FileStore {
	return &FileStore{path: path, target: target, now: time.Now}
}

func (s *FileStore) Start(_ context.Context, deploymentID, snapshotID string, duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
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
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(s.path), err)
	}
	// 先写临时文件再改名，watch 进程不会读到半个文件
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write observation window: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to store observation window: %w", err)
	}

	log.Info().
		Str("target", s.target).
		Str("deployment", deploymentID).
		Str("snapshot", snapshotID).
		Str("file", s.path).
		Dur("duration", duration).
		Time("end_time", window.EndTime).
		Msg("started observation window")
	return nil
}

func (s *FileStore) Active(_ context.Context) (*Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *FileStore) read() (*Window, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read observation window: %w", err)
	}
	var window Window
	if err := json.Unmarshal(data, &window); err != nil {
		return nil, fmt.Errorf("corrupt observation window %s: %w", s.path, err)
	}
	return &window, nil
}

func (s *FileStore) Complete(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	window, err := s.read()
	if err != nil {
		return err
	}
	if window == nil {
		return ErrNoWindow
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove observation window: %w", err)
	}
	log.Info().Str("target", s.target).Str("deployment", window.DeploymentID).Msg("completed observation window")
	return nil
}

func (s *FileStore) Cancel(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// 文件损坏时同样删除
	window, _ := s.read()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to cancel observation window: %w", err)
	}
	if window != nil {
		log.Warn().Str("target", s.target).Str("deployment", window.DeploymentID).Msg("cancelled observation window")
	}
	return nil
}
