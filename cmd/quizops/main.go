package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/qiniu/quizops/internal/config"
	"github.com/qiniu/quizops/internal/deploy"
	"github.com/qiniu/quizops/internal/telemetry"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var version = "dev"

var (
	cfgFile  string
	logLevel string
	cfg      *config.Config
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("quizops failed")
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "quizops",
		Short:         "Deploy, verify and roll back the quiz API bundle",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}
			config.SetupLogging(&cfg.Logging)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", os.Getenv("QUIZOPS_CONFIG"), "JSON config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")

	root.AddCommand(
		newDeployCmd(),
		newRollbackCmd(),
		newSnapshotsCmd(),
		newVerifyCmd(),
		newStatusCmd(),
		newLogsCmd(),
		newServeCmd(),
		newWatchCmd(),
	)
	return root
}

// withServer 组装部署服务，命令结束后释放连接并刷新追踪数据
func withServer(ctx context.Context, fn func(*deploy.DeployServer) error) error {
	shutdown, err := telemetry.Init(&cfg.Telemetry, version)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Warn().Err(err).Msg("failed to flush traces")
		}
	}()

	srv, err := deploy.NewDeployServer(ctx, cfg)
	if err != nil {
		return err
	}
	defer srv.Close()
	return fn(srv)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func defaultOperator() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}
