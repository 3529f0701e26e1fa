package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"plaza-service/internal/camera"
	"plaza-service/internal/config"
	"plaza-service/internal/db"
	httpapi "plaza-service/internal/http"
	"plaza-service/internal/repository"
	"plaza-service/internal/service"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Log)

	gdb, err := db.Connect(cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init snowflake node")
	}

	policy, err := service.PolicyFromName(cfg.Fare.Policy)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid fare policy")
	}
	log.Info().Str("policy", policy.Name()).Msg("fare policy selected")

	detRepo := repository.NewDetectionRepository(gdb)
	passRepo := repository.NewPassageRepository(gdb)
	gateRepo := repository.NewGateRepository(gdb)

	passages := service.NewPassageService(passRepo, policy, node, log)
	detections := service.NewDetectionService(detRepo, passRepo, gateRepo, passages, log)
	source := camera.NewClient(cfg.Camera.BaseURL, cfg.Camera.Token, cfg.Camera.Timeout)
	fetch := service.NewFetchService(source, detRepo, detections, cfg.Ingest.QuickWindow, log)
	gates := service.NewGateService(gateRepo, log)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpapi.RequestLogger(log))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Camera-Token"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	handler := httpapi.NewHandler(fetch, detections, passages, gates, cfg, log)
	handler.Register(router, httpapi.JWTAuth(cfg.Auth.JWTSecret))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go pollDetections(ctx, fetch, cfg.Ingest.PollInterval, log)
	go cleanupLoop(ctx, detections, cfg.Ingest, log)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown failed")
	}
}

// pollDetections runs quick-capture ingestion on a timer. Source outages are
// soft results, so the loop just waits for the next tick.
func pollDetections(ctx context.Context, fetch *service.FetchService, interval time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := fetch.QuickCapture(ctx)
			if err != nil {
				log.Error().Err(err).Msg("detection poll failed")
				continue
			}
			if result.SourceUnavailable {
				log.Warn().Msg("detection source unavailable")
			}
		}
	}
}

func cleanupLoop(ctx context.Context, detections *service.DetectionService, cfg config.IngestConfig, log zerolog.Logger) {
	if cfg.RetentionDays <= 0 {
		return
	}
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := detections.CleanupOldEvents(ctx, cfg.RetentionDays); err != nil {
				log.Error().Err(err).Msg("detection cleanup failed")
			}
		}
	}
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}
