package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/qiniu/quizops/internal/config"
	"github.com/rs/zerolog/log"
)

// Database 部署记录所用的 PostgreSQL 连接池
type Database struct {
	pool *pgxpool.Pool
}

// NewDatabase 创建连接池并检查连通性
func NewDatabase(ctx context.Context, cfg *config.DatabaseConfig) (*Database, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	poolCfg.MaxConns = 4
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Str("host", cfg.Host).Int("port", cfg.Port).Str("db", cfg.DBName).Msg("connected to deployment database")
	return &Database{pool: pool}, nil
}

// Pool 获取连接池（供repo使用）
func (d *Database) Pool() *pgxpool.Pool {
	return d.pool
}

// Close 关闭连接池
func (d *Database) Close() {
	if d.pool != nil {
		d.pool.Close()
	}
}

// Ping 测试数据库连接
func (d *Database) Ping(ctx context.Context) error {
	return d.pool.Ping(ctx)
}
