package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/qiniu/quizops/internal/deploy"
	"github.com/qiniu/quizops/internal/middleware"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the deployment control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServer(cmd.Context(), func(srv *deploy.DeployServer) error {
				router := gin.New()
				router.Use(gin.Logger())
				router.Use(gin.Recovery())
				router.Use(middleware.Authentication(cfg.Server.AuthToken, "/healthz", "/metrics"))
				if err := srv.UseApi(router); err != nil {
					return err
				}

				httpSrv := &http.Server{Addr: cfg.Server.BindAddr, Handler: router}
				g, ctx := errgroup.WithContext(cmd.Context())
				g.Go(func() error {
					log.Info().Msgf("Starting quizops control API on %s", cfg.Server.BindAddr)
					if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					return httpSrv.Shutdown(shutdownCtx)
				})
				if watch {
					g.Go(func() error {
						srv.Watcher().Run(ctx)
						return nil
					})
				}
				err := g.Wait()
				log.Info().Msg("quizops control API exit...")
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "also run the post-deploy observation watcher")
	return cmd
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Check liveness during observation windows and roll back on failure",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServer(cmd.Context(), func(srv *deploy.DeployServer) error {
				log.Info().Str("interval", cfg.Deploy.ObserveInterval).Msg("observation watcher started")
				srv.Watcher().Run(cmd.Context())
				return nil
			})
		},
	}
}
