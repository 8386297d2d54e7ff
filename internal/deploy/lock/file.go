package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type lockInfo struct {
	Owner      string    `json:"owner"`
	PID        int       `json:"pid"`
	Token      string    `json:"token"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// FileLocker 本机锁文件，O_EXCL 创建，超过 TTL 视为残留锁
type FileLocker struct {
	path string
	ttl  time.Duration
	now  func() time.Time
}

func NewFileLocker(path string, ttl time.Duration) *FileLocker {
	return &FileLocker{path: path, ttl: ttl, now: time.Now}
}

func (l *FileLocker) Acquire(ctx context.Context, owner string) (Release, error) {
	info := lockInfo{Owner: owner, PID: os.Getpid(), Token: uuid.NewString(), AcquiredAt: l.now().UTC()}
	err := l.create(info)
	if errors.Is(err, os.ErrExist) {
		held, rerr := l.read()
		if rerr == nil && l.now().Sub(held.AcquiredAt) < l.ttl {
			return nil, &HeldError{Holder: fmt.Sprintf("%s (pid %d)", held.Owner, held.PID)}
		}
		log.Warn().Str("path", l.path).Msg("removing stale deploy lock")
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale lock %s: %w", l.path, err)
		}
		err = l.create(info)
		if errors.Is(err, os.ErrExist) {
			return nil, &HeldError{}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create lock %s: %w", l.path, err)
	}

	return func(context.Context) error {
		held, err := l.read()
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if held.Token != info.Token {
			log.Warn().Str("path", l.path).Str("holder", held.Owner).Msg("deploy lock taken over, not releasing")
			return nil
		}
		return os.Remove(l.path)
	}, nil
}

func (l *FileLocker) create(info lockInfo) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(info); err != nil {
		f.Close()
		os.Remove(l.path)
		return err
	}
	return f.Close()
}

func (l *FileLocker) read() (*lockInfo, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, err
	}
	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("corrupt lock file %s: %w", l.path, err)
	}
	return &info, nil
}
