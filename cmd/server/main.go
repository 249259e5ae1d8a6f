package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	router "github.com/dkeye/ProximityVoice/internal/adapters/http"
	"github.com/dkeye/ProximityVoice/internal/adapters/relay"
	sig "github.com/dkeye/ProximityVoice/internal/adapters/signal"
	"github.com/dkeye/ProximityVoice/internal/adapters/store"
	"github.com/dkeye/ProximityVoice/internal/app"
	"github.com/dkeye/ProximityVoice/internal/app/gateway"
	"github.com/dkeye/ProximityVoice/internal/app/orch"
	"github.com/dkeye/ProximityVoice/internal/config"
	"github.com/dkeye/ProximityVoice/internal/core"
	"github.com/dkeye/ProximityVoice/internal/logger"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fs := pflag.NewFlagSet("server", pflag.ExitOnError)
	fs.String("config", "", "path to a yaml config file")
	fs.Int("port", 8787, "listen port")
	fs.String("mode", "release", "gin mode (debug|release|test)")
	_ = fs.Parse(os.Args[1:])

	// console logging until the configured logger takes over
	logger.Setup(logger.Config{Console: true}, os.Stderr)

	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	closer := logger.Setup(cfg.Log, os.Stderr)
	defer closer.Close()

	attachments, closeStore, err := openStore(ctx, cfg.Registry)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open attachment store")
	}
	defer closeStore()

	relayClient, err := relay.New(relay.Config{
		BaseURL:  cfg.Relay.BaseURL,
		AppID:    cfg.Relay.AppID,
		AppToken: cfg.Relay.AppToken,
		Timeout:  cfg.Relay.Timeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure relay")
	}

	scopes := app.NewScopeManager(attachments, app.SimplePolicy{})
	o := orch.New(scopes)
	go scopes.RunSuspender(ctx, cfg.Registry.SuspendAfter)

	r := router.SetupRouter(ctx, router.Deps{
		Mode:    cfg.Mode,
		Orch:    o,
		Gateway: gateway.New(relayClient),
		Signal: sig.Config{
			SendBuffer:   cfg.Signal.SendBuffer,
			ReadLimit:    cfg.ReadLimit,
			PingPeriod:   cfg.PingPeriod,
			RateLimit:    cfg.Signal.RateLimit,
			RateInterval: cfg.Signal.RateInterval,
		},
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Str("store", cfg.Registry.Store).Msg("ProximityVoice server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	// hijacked sockets are not tracked by Shutdown
	o.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

// openStore picks the attachment backend. Attachments left by a previous
// process describe sockets that no longer exist, so durable stores start empty.
func openStore(ctx context.Context, cfg config.RegistryConfig) (core.AttachmentStore, func(), error) {
	if cfg.Store != "sqlite" {
		return store.NewMemory(), func() {}, nil
	}
	db, err := store.OpenSQLite(cfg.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Purge(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return db, func() {
		if err := db.Close(); err != nil {
			log.Warn().Err(err).Str("module", "store").Msg("close")
		}
	}, nil
}
