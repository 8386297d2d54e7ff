package telemetry

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/qiniu/quizops/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
)

// Shutdown 刷新并关闭追踪导出
type Shutdown func(ctx context.Context) error

// Init 按配置初始化全局 TracerProvider，未开启时返回空操作
func Init(cfg *config.TelemetryConfig, version string) (Shutdown, error) {
	return InitWithWriter(cfg, version, os.Stderr)
}

// InitWithWriter span 以 JSON 写入 w
func InitWithWriter(cfg *config.TelemetryConfig, version string, w io.Writer) (Shutdown, error) {
	if cfg == nil || !cfg.Tracing {
		return func(context.Context) error { return nil }, nil
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", version),
	)
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, err
	}
	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter,
			trace.WithBatchTimeout(5*time.Second),
		),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
