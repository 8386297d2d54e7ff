package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/qiniu/quizops/internal/config"
	"github.com/qiniu/quizops/internal/deploy/api"
	"github.com/qiniu/quizops/internal/deploy/database"
	"github.com/qiniu/quizops/internal/deploy/lock"
	"github.com/qiniu/quizops/internal/deploy/observe"
	"github.com/qiniu/quizops/internal/deploy/service"
	"github.com/qiniu/quizops/internal/deploy/transfer"
	"github.com/qiniu/quizops/internal/deploy/verify"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// DeployServer 按配置组装部署服务及其依赖
type DeployServer struct {
	config  *config.Config
	db      *database.Database
	redis   *redis.Client
	windows observe.Store
	service service.DeployService
	api     *api.Api
}

// NewDeployServer redis / database 未启用时使用文件锁、窗口文件和内存记录
func NewDeployServer(ctx context.Context, cfg *config.Config) (*DeployServer, error) {
	s := &DeployServer{config: cfg}
	target := targetName(&cfg.Target)
	opts := service.Options{
		Config:  cfg,
		Confirm: transfer.PromptConfirm,
	}

	if cfg.Redis.Enabled {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := s.redis.Ping(ctx).Err(); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to connect redis %s: %w", cfg.Redis.Addr, err)
		}
		lockKey := "quizops:lock:" + target + ":" + cfg.Deploy.AppRoot
		opts.Locker = lock.NewRedisLocker(s.redis, lockKey, config.Duration(cfg.Deploy.LockTTL, 30*time.Minute))
		s.windows = observe.NewRedisStore(s.redis, target)
		log.Info().Str("addr", cfg.Redis.Addr).Str("lock", lockKey).Msg("using redis for lock and observation windows")
	} else {
		s.windows = observe.NewFileStore(cfg.Deploy.WindowFile, target)
	}
	opts.Windows = s.windows

	if cfg.Database.Enabled {
		db, err := database.NewDatabase(ctx, &cfg.Database)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.db = db
		repo := database.NewDeploymentRepo(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			s.Close()
			return nil, err
		}
		opts.Recorder = repo
	}

	gate, err := verify.NewMetricsGate(&cfg.Prometheus)
	if err != nil {
		s.Close()
		return nil, err
	}
	opts.Gate = gate

	s.service, err = service.NewDeployService(opts)
	if err != nil {
		s.Close()
		return nil, err
	}
	log.Info().Str("target", target).Str("supervisor", cfg.Supervisor.Kind).Str("strategy", cfg.Deploy.Strategy).Msg("deploy server initialized")
	return s, nil
}

func (s *DeployServer) Service() service.DeployService {
	return s.service
}

// Watcher 观察窗口内的存活检查
func (s *DeployServer) Watcher() *observe.Watcher {
	interval := config.Duration(s.config.Deploy.ObserveInterval, 30*time.Second)
	return observe.NewWatcher(s.windows, s.service, interval, 2)
}

// UseApi 设置 API 路由，默认传输方式为 manual 时无法通过 API 部署
func (s *DeployServer) UseApi(router *gin.Engine) error {
	if s.config.Deploy.Strategy == transfer.StrategyManual {
		return fmt.Errorf("deploy.strategy %q needs an operator terminal and cannot be served over the API", transfer.StrategyManual)
	}
	var err error
	s.api, err = api.NewApi(s.service, nil, router)
	if err != nil {
		return fmt.Errorf("failed to initialize API: %w", err)
	}
	return nil
}

func (s *DeployServer) Close() error {
	var errs []error
	if s.db != nil {
		s.db.Close()
	}
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	return errors.Join(errs...)
}

func targetName(t *config.TargetConfig) string {
	if t.IsLocal() {
		return "local"
	}
	return t.Host
}
