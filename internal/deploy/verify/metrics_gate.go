package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	promModel "github.com/prometheus/common/model"
	"github.com/qiniu/quizops/internal/config"
	"github.com/rs/zerolog/log"
)

var ErrInstanceCount = errors.New("unexpected instance count")

// MetricsGate 通过 Prometheus 确认恰好一个实例在线
type MetricsGate struct {
	api     v1.API
	query   string
	timeout time.Duration
}

// NewMetricsGate 未配置 prometheus.url 时返回 nil
func NewMetricsGate(cfg *config.PrometheusConfig) (*MetricsGate, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	client, err := api.NewClient(api.Config{Address: cfg.URL})
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus client: %w", err)
	}
	return &MetricsGate{
		api:     v1.NewAPI(client),
		query:   cfg.InstanceQuery,
		timeout: config.Duration(cfg.QueryTimeout, 10*time.Second),
	}, nil
}

// Instances 执行实例数查询
func (g *MetricsGate) Instances(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	result, warnings, err := g.api.Query(ctx, g.query, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to query prometheus: %w", err)
	}
	if len(warnings) > 0 {
		log.Warn().Strs("warnings", warnings).Str("query", g.query).Msg("prometheus returned warnings")
	}

	switch v := result.(type) {
	case promModel.Vector:
		if len(v) == 0 {
			return 0, nil
		}
		return int(v[0].Value), nil
	case *promModel.Scalar:
		return int(v.Value), nil
	default:
		return 0, fmt.Errorf("unexpected result type: %T", result)
	}
}

// Check 要求查询结果恰好为 1
func (g *MetricsGate) Check(ctx context.Context) error {
	n, err := g.Instances(ctx)
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("%w: prometheus reports %d instances", ErrInstanceCount, n)
	}
	return nil
}
