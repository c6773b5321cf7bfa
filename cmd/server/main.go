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

	"github.com/dkeye/strealome/internal/adapters/auth"
	router "github.com/dkeye/strealome/internal/adapters/http"
	chat "github.com/dkeye/strealome/internal/adapters/signal"
	"github.com/dkeye/strealome/internal/adapters/userstore"
	"github.com/dkeye/strealome/internal/app"
	"github.com/dkeye/strealome/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	users, err := userstore.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open user store")
	}
	defer users.Close()

	rooms, err := app.NewRegistry(app.Options{
		ReleaseAfter:    cfg.ReleaseAfter,
		ShareLinkLength: cfg.ShareLinkLength,
		SendTimeout:     cfg.SendTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build room registry")
	}

	svc := &router.Services{
		Lobby:    &app.Lobby{Rooms: rooms, Users: users},
		Accounts: users,
		Auth:     auth.NewManager(cfg.Secret, cfg.TokenTTL),
		Pump:     chat.NewPump(rooms, users, chat.NewChatRateLimiter(cfg.ChatRateLimit, cfg.ChatRateInterval), cfg.OutboundCapacity),
	}

	r := router.SetupRouter(ctx, cfg, svc)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("strealome server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Int("rooms", rooms.Len()).Msg("Server exited gracefully")
}
