package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/fox-gonic/fox"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/qiniu/quizops/internal/config"
	"github.com/qiniu/quizops/internal/quizapi/api"
	"github.com/qiniu/quizops/internal/quizapi/database"
	"github.com/qiniu/quizops/internal/quizapi/model"
	"github.com/qiniu/quizops/internal/quizapi/service"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func main() {
	configFile := flag.String("config", os.Getenv("QUIZOPS_CONFIG"), "JSON config file")
	flag.Parse()

	log.Info().Msg("Starting quiz api server")
	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	config.SetupLogging(&cfg.Logging)

	ctx := context.Background()

	var quizStore database.QuizStore = database.NewMemoryQuizStore()
	if cfg.QuizAPI.DatabaseDSN != "" {
		db, err := database.NewDatabase(ctx, cfg.QuizAPI.DatabaseDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect quiz database")
		}
		defer db.Close()
		pg := database.NewPostgresQuizStore(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to prepare quiz schema")
		}
		quizStore = pg
	} else {
		log.Warn().Msg("quizapi.databaseDSN not set, quizzes are kept in memory")
	}

	sessionTTL := config.Duration(cfg.QuizAPI.SessionTTL, 24*time.Hour)
	var sessions database.SessionStore = database.NewMemorySessionStore(sessionTTL)
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("failed to connect redis")
		}
		sessions = database.NewRedisSessionStore(rdb, sessionTTL)
	}

	materials := service.DefaultMaterials()
	if cfg.QuizAPI.MaterialFile != "" {
		var list []*model.Material
		list, err = service.LoadMaterials(cfg.QuizAPI.MaterialFile)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load course material")
		}
		materials = list
	}
	retriever := service.NewRetriever(materials)

	router := fox.New()
	if _, err := api.NewApi(
		service.NewQuizService(quizStore, retriever),
		service.NewChatService(sessions, retriever),
		router,
	); err != nil {
		log.Fatal().Err(err).Msg("failed to setup API routes")
	}
	metrics := promhttp.Handler()
	router.GET("/metrics", func(c *fox.Context) {
		metrics.ServeHTTP(c.Writer, c.Request)
	})

	log.Info().Int("materials", len(materials)).Msgf("Starting quiz api on %s", cfg.QuizAPI.BindAddr)
	if err := router.Run(cfg.QuizAPI.BindAddr); err != nil {
		log.Fatal().Err(err).Msg("start quiz api server failed.")
	}
}
