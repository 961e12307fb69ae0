// Command server runs the teledermatology consultation backend.
//
// Startup order: load .env and config, configure logging, initialize
// OpenTelemetry, open and migrate the database, wire the realtime hub and
// services, then serve HTTP with graceful shutdown. A retention sweep for
// anonymized cases runs in the background when RETENTION_DAYS is set.
//
// @title        Teledermatology Consultation API
// @version      1.0
// @description  Case workflow, chat arbitration, doctor assignment, and realtime delivery for AI-assisted dermatology consultations.
// @BasePath     /api/v1
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	_ "github.com/dermassist/telederm-backend/docs"
	"github.com/dermassist/telederm-backend/internal/ai"
	"github.com/dermassist/telederm-backend/internal/config"
	httpapi "github.com/dermassist/telederm-backend/internal/http"
	"github.com/dermassist/telederm-backend/internal/observability"
	"github.com/dermassist/telederm-backend/internal/realtime"
	"github.com/dermassist/telederm-backend/internal/repo"
	"github.com/dermassist/telederm-backend/internal/services"
	"github.com/dermassist/telederm-backend/internal/session"
	"github.com/dermassist/telederm-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	gin.SetMode(cfg.GinMode)

	ctx := context.Background()
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		if err := shutdownOTel(context.Background()); err != nil {
			log.Warn().Err(err).Msg("otel shutdown failed")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("db_path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database failed")
	}

	var gen ai.Generator
	if cfg.AI.Endpoint != "" {
		gen = ai.NewClient(cfg.AI.Endpoint, cfg.AI.APIKey, cfg.AI.Timeout)
	} else {
		log.Warn().Msg("AI_ENDPOINT not set, using the static fallback generator")
		gen = &ai.Static{}
	}

	hub := realtime.NewHub()
	sessions := session.NewStore(cfg.SessionTTL)

	engine := gin.New()
	httpapi.RegisterRoutes(engine, httpapi.Deps{
		DB:       db,
		AI:       gen,
		Hub:      hub,
		Sessions: sessions,
		Verifier: &services.UserVerifier{DB: db},
	}, cfg)

	// Periodic retention sweep for anonymized cases.
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	if cfg.RetentionDays > 0 {
		lifecycle := services.NewLifecycleService(db, cfg.RetentionDays)
		go func() {
			t := time.NewTicker(12 * time.Hour)
			defer t.Stop()
			for {
				select {
				case <-t.C:
					if _, err := lifecycle.CleanupExpired(sweepCtx); err != nil {
						log.Warn().Err(err).Msg("retention cleanup failed")
					}
				case <-sweepCtx.Done():
					return
				}
			}
		}()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
