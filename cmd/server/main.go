package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/quorumlab/quorum/internal/adapters/http"
	"github.com/quorumlab/quorum/internal/app"
	"github.com/quorumlab/quorum/internal/config"
	"github.com/quorumlab/quorum/internal/core"
	"github.com/quorumlab/quorum/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	var st store.Store
	if cfg.RedisAddr != "" {
		rs, err := store.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		st = rs
		log.Info().Str("addr", cfg.RedisAddr).Msg("using redis store")
	} else {
		st = store.NewMemoryStore()
		log.Warn().Msg("no redis configured, using in-memory store")
	}
	defer st.Close()

	rooms := core.NewRegistry(st, core.SimplePolicy{})
	orch := app.NewOrchestrator(st, rooms)

	r := router.SetupRouter(ctx, cfg, orch, rooms)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Quorum server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
