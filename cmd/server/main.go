// Command server runs the chat server: the TCP chat protocol listener plus
// the HTTP admin surface (health, metrics, online snapshot). Configuration
// comes from the environment, optionally loaded from a .env file.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-chat-server/internal/broadcast"
	"github.com/tbourn/go-chat-server/internal/config"
	httpapi "github.com/tbourn/go-chat-server/internal/http"
	"github.com/tbourn/go-chat-server/internal/observability"
	"github.com/tbourn/go-chat-server/internal/repo"
	"github.com/tbourn/go-chat-server/internal/security"
	"github.com/tbourn/go-chat-server/internal/seed"
	"github.com/tbourn/go-chat-server/internal/services"
	"github.com/tbourn/go-chat-server/internal/tcp"
)

// Version is injected at build time with -ldflags.
var Version = "0.1.0-dev"

func main() {
	// Missing .env is fine; the environment wins either way.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	setupLogging(cfg)

	log.Info().Str("version", Version).Str("env", cfg.Env).Msg("starting chat server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, Version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown failed")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Str("dsn", cfg.DBDSN).Msg("open database failed")
	}
	if cfg.OTEL.Enabled {
		if err := repo.EnableTracing(db); err != nil {
			log.Warn().Err(err).Msg("database tracing not enabled")
		}
	}
	if cfg.DBInitMode == config.DBInitSchema {
		if err := repo.AutoMigrate(db); err != nil {
			log.Fatal().Err(err).Msg("schema migration failed")
		}
		log.Info().Msg("schema migrated")
	}

	auth := services.NewAuthService(db, security.NewHasher())
	chat := services.NewChatService(db)

	if cfg.Env == config.EnvDev {
		seed.Dev(ctx, auth, chat, log.Logger)
	}

	registry := broadcast.NewRegistry(log.Logger)

	tcpServer := tcp.NewServer(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), tcp.Deps{
		Auth:        auth,
		Chat:        chat,
		Registry:    registry,
		Log:         log.Logger,
		ReadTimeout: cfg.ReadTimeout,
		RateRPS:     cfg.RateRPS,
		RateBurst:   cfg.RateBurst,
	})

	gin.SetMode(cfg.GinMode)
	router := gin.New()
	httpapi.RegisterRoutes(router, registry, cfg)
	adminServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Host, cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info().Str("addr", adminServer.Addr).Msg("admin server listening")
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("admin server: %w", err)
		}
	}()
	go func() {
		if err := tcpServer.ListenAndServe(ctx); err != nil {
			errCh <- fmt.Errorf("chat server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("server failed")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("admin server shutdown failed")
	}

	log.Info().Msg("chat server stopped")
}

// setupLogging configures the global zerolog logger from config: level, and
// a human-readable console writer when pretty logging is on.
func setupLogging(cfg config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
