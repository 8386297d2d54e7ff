package lock

import (
	"context"
	"errors"
	"fmt"
)

// ErrLockHeld 已有部署或回滚在进行
var ErrLockHeld = errors.New("deploy lock is held")

// Release 释放锁，只会释放自己持有的锁
type Release func(ctx context.Context) error

// Locker 保证同一目标同时只有一个部署/回滚
type Locker interface {
	Acquire(ctx context.Context, owner string) (Release, error)
}

// HeldError 锁被占用时返回当前持有者
type HeldError struct {
	Holder string
}

func (e *HeldError) Error() string {
	if e.Holder == "" {
		return ErrLockHeld.Error()
	}
	return fmt.Sprintf("%s by %s", ErrLockHeld, e.Holder)
}

func (e *HeldError) Unwrap() error { return ErrLockHeld }
