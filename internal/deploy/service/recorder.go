package service

import (
	"context"
	"sort"
	"sync"

	"github.com/qiniu/quizops/internal/deploy/model"
)

// Recorder 部署记录存储，PostgreSQL 或内存实现
type Recorder interface {
	Create(ctx context.Context, d *model.Deployment) error
	UpdateStatus(ctx context.Context, id string, status model.DeployState, snapshotID string) error
	Finish(ctx context.Context, d *model.Deployment) error
	Get(ctx context.Context, id string) (*model.Deployment, error)
	List(ctx context.Context, limit int) ([]*model.Deployment, error)
}

// MemoryRecorder 未配置数据库时使用，进程退出后记录丢失
type MemoryRecorder struct {
	mu    sync.RWMutex
	items map[string]*model.Deployment
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{items: make(map[string]*model.Deployment)}
}

func (r *MemoryRecorder) Create(_ context.Context, d *model.Deployment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[d.ID] = clone(d)
	return nil
}

func (r *MemoryRecorder) UpdateStatus(_ context.Context, id string, status model.DeployState, snapshotID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.items[id]
	if !ok {
		return model.ErrDeploymentNotFound
	}
	d.Status = status
	if snapshotID != "" {
		d.SnapshotID = snapshotID
	}
	return nil
}

func (r *MemoryRecorder) Finish(_ context.Context, d *model.Deployment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[d.ID]; !ok {
		return model.ErrDeploymentNotFound
	}
	r.items[d.ID] = clone(d)
	return nil
}

func (r *MemoryRecorder) Get(_ context.Context, id string) (*model.Deployment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.items[id]
	if !ok {
		return nil, model.ErrDeploymentNotFound
	}
	return clone(d), nil
}

func (r *MemoryRecorder) List(_ context.Context, limit int) ([]*model.Deployment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]*model.Deployment, 0, len(r.items))
	for _, d := range r.items {
		list = append(list, clone(d))
	}
	sort.Slice(list, func(i, j int) bool { return list[i].StartedAt.After(list[j].StartedAt) })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func clone(d *model.Deployment) *model.Deployment {
	c := *d
	c.Files = append([]string(nil), d.Files...)
	c.Probes = append([]*model.ProbeResult(nil), d.Probes...)
	if d.FinishedAt != nil {
		t := *d.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}
