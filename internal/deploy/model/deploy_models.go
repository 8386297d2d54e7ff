package model

import "time"

// DeployState 部署状态
type DeployState string

const (
	StatePending        DeployState = "pending"
	StateRunning        DeployState = "running"
	StateSucceeded      DeployState = "succeeded"
	StateFailed         DeployState = "failed"
	StateRolledBack     DeployState = "rolled_back"
	StateRollbackFailed DeployState = "rollback_failed"
)

// Terminal 是否为终态
func (s DeployState) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateRolledBack, StateRollbackFailed:
		return true
	}
	return false
}

// OperationKind 操作类型
type OperationKind string

const (
	KindDeploy   OperationKind = "deploy"
	KindRollback OperationKind = "rollback"
)

// Deployment 一次部署或回滚的记录
type Deployment struct {
	ID         string         `json:"id"`
	Kind       OperationKind  `json:"kind"`
	Status     DeployState    `json:"status"`
	SnapshotID string         `json:"snapshot_id,omitempty"`
	Strategy   string         `json:"strategy,omitempty"`
	Supervisor string         `json:"supervisor"`
	Operator   string         `json:"operator,omitempty"`
	Files      []string       `json:"files,omitempty"`
	FailedStep string         `json:"failed_step,omitempty"`
	Error      string         `json:"error,omitempty"`
	Probes     []*ProbeResult `json:"probes,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Duration   time.Duration  `json:"duration,omitempty"`
}

// DeployParams 部署参数
type DeployParams struct {
	Operator     string `json:"operator"`
	Strategy     string `json:"strategy"`      // 为空时使用配置中的传输方式
	DryRun       bool   `json:"dry_run"`       // 只做预检和备份计划
	SkipVerify   bool   `json:"skip_verify"`   // 跳过功能验证，仅做存活检查
	AutoRollback *bool  `json:"auto_rollback"` // 为空时使用配置
}

// RollbackParams 回滚参数
type RollbackParams struct {
	Operator   string `json:"operator"`
	SnapshotID string `json:"snapshot_id"` // "latest" 或具体快照ID
	Trigger    string `json:"-"`           // manual | observe，为空时为 manual
}

// OperationResult 部署/回滚的返回结果
type OperationResult struct {
	Deployment *Deployment `json:"deployment"`
	Snapshot   *Snapshot   `json:"snapshot,omitempty"`
}

// ServiceStatus 服务运行状态
type ServiceStatus struct {
	Supervisor string `json:"supervisor"`
	Instances  int    `json:"instances"`
	Detail     string `json:"detail,omitempty"`
	Live       bool   `json:"live"`
}
