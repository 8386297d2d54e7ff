package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/qiniu/quizops/internal/deploy/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS deployments (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	status      TEXT NOT NULL,
	snapshot_id TEXT NOT NULL DEFAULT '',
	strategy    TEXT NOT NULL DEFAULT '',
	supervisor  TEXT NOT NULL DEFAULT '',
	operator    TEXT NOT NULL DEFAULT '',
	files       TEXT[] NOT NULL DEFAULT '{}',
	failed_step TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	probes      JSONB NOT NULL DEFAULT '[]',
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	duration    INTERVAL
);
CREATE INDEX IF NOT EXISTS deployments_started_at_idx ON deployments (started_at DESC);
`

const selectColumns = `id, kind, status, snapshot_id, strategy, supervisor, operator, files,
	failed_step, error, probes, started_at, finished_at, duration`

// DeploymentRepo 部署记录数据访问层
type DeploymentRepo struct {
	pool *pgxpool.Pool
}

// NewDeploymentRepo 创建部署记录仓库
func NewDeploymentRepo(db *Database) *DeploymentRepo {
	return &DeploymentRepo{pool: db.Pool()}
}

// EnsureSchema 建表，可重复执行
func (r *DeploymentRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create deployments schema: %w", err)
	}
	return nil
}

// Create 插入一条新的部署记录
func (r *DeploymentRepo) Create(ctx context.Context, d *model.Deployment) error {
	probes, err := marshalProbes(d.Probes)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO deployments (id, kind, status, snapshot_id, strategy, supervisor, operator, files, probes, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10)
	`
	_, err = r.pool.Exec(ctx, query, d.ID, string(d.Kind), string(d.Status), d.SnapshotID,
		d.Strategy, d.Supervisor, d.Operator, nonNil(d.Files), probes, d.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to insert deployment %s: %w", d.ID, err)
	}
	return nil
}

// UpdateStatus 更新状态，snapshotID 为空时保持原值
func (r *DeploymentRepo) UpdateStatus(ctx context.Context, id string, status model.DeployState, snapshotID string) error {
	query := `
		UPDATE deployments
		SET status = $2, snapshot_id = COALESCE(NULLIF($3, ''), snapshot_id)
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query, id, string(status), snapshotID)
	if err != nil {
		return fmt.Errorf("failed to update deployment %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", model.ErrDeploymentNotFound, id)
	}
	return nil
}

// Finish 写入最终结果
func (r *DeploymentRepo) Finish(ctx context.Context, d *model.Deployment) error {
	probes, err := marshalProbes(d.Probes)
	if err != nil {
		return err
	}
	var duration pgtype.Interval
	if d.FinishedAt != nil {
		if d.Duration == 0 {
			d.Duration = d.FinishedAt.Sub(d.StartedAt)
		}
		duration = durationToPgInterval(d.Duration)
	}
	query := `
		UPDATE deployments
		SET status = $2, snapshot_id = $3, files = $4, failed_step = $5, error = $6,
		    probes = $7::jsonb, finished_at = $8, duration = $9
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query, d.ID, string(d.Status), d.SnapshotID, nonNil(d.Files),
		d.FailedStep, d.Error, probes, d.FinishedAt, duration)
	if err != nil {
		return fmt.Errorf("failed to finish deployment %s: %w", d.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", model.ErrDeploymentNotFound, d.ID)
	}
	return nil
}

// Get 根据ID获取部署记录
func (r *DeploymentRepo) Get(ctx context.Context, id string) (*model.Deployment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM deployments WHERE id = $1`, id)
	d, err := scanDeployment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", model.ErrDeploymentNotFound, id)
		}
		return nil, fmt.Errorf("failed to query deployment %s: %w", id, err)
	}
	return d, nil
}

// List 按开始时间倒序列出最近的部署记录
func (r *DeploymentRepo) List(ctx context.Context, limit int) ([]*model.Deployment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `SELECT `+selectColumns+` FROM deployments ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query deployments: %w", err)
	}
	defer rows.Close()

	var list []*model.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment: %w", err)
		}
		list = append(list, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deployments: %w", err)
	}
	return list, nil
}

func scanDeployment(row pgx.Row) (*model.Deployment, error) {
	var (
		d          model.Deployment
		kind       string
		status     string
		probes     []byte
		finishedAt *time.Time
		duration   pgtype.Interval
	)
	err := row.Scan(&d.ID, &kind, &status, &d.SnapshotID, &d.Strategy, &d.Supervisor, &d.Operator,
		&d.Files, &d.FailedStep, &d.Error, &probes, &d.StartedAt, &finishedAt, &duration)
	if err != nil {
		return nil, err
	}
	d.Kind = model.OperationKind(kind)
	d.Status = model.DeployState(status)
	d.FinishedAt = finishedAt
	d.Duration = pgIntervalToDuration(duration)
	if len(probes) > 0 {
		if err := json.Unmarshal(probes, &d.Probes); err != nil {
			return nil, fmt.Errorf("failed to decode probes of %s: %w", d.ID, err)
		}
	}
	return &d, nil
}

func marshalProbes(probes []*model.ProbeResult) (string, error) {
	if probes == nil {
		return "[]", nil
	}
	data, err := json.Marshal(probes)
	if err != nil {
		return "", fmt.Errorf("failed to marshal probes: %w", err)
	}
	return string(data), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
