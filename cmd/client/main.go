package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/ProximityVoice/internal/adapters/rtc"
	"github.com/dkeye/ProximityVoice/internal/client"
	"github.com/dkeye/ProximityVoice/internal/config"
	"github.com/dkeye/ProximityVoice/internal/logger"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, "client stopped:", err)
		os.Exit(1)
	}
}

// run owns every deferred cleanup so the log file is closed on failure too.
func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := pflag.NewFlagSet("client", pflag.ContinueOnError)
	fs.String("config", "", "path to a yaml config file")
	fs.String("gateway.base_url", "http://localhost:8787", "server base url")
	fs.String("client.name", "", "display name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// stdout carries the shell protocol, logs go to stderr
	logger.Setup(logger.Config{}, os.Stderr)

	cfg, err := config.LoadClient(fs)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	closer := logger.Setup(cfg.Log, os.Stderr)
	defer closer.Close()
	log.Info().Str("gateway", cfg.Gateway.BaseURL).Msg("client starting")

	volumes, err := cfg.Client.VolumeTable()
	if err != nil {
		log.Error().Err(err).Msg("invalid volume table")
		return fmt.Errorf("volume table: %w", err)
	}
	api, err := client.NewGatewayClient(cfg.Gateway.BaseURL, cfg.Gateway.Timeout)
	if err != nil {
		log.Error().Err(err).Msg("invalid gateway url")
		return err
	}

	shell := client.NewShell(stdin, stdout)
	voice := client.NewVoice(client.VoiceConfig{
		RTC: rtc.Config{
			ICEServers:     cfg.Client.ICEServers,
			ConnectTimeout: cfg.Client.ConnectTimeout,
			LoggerFactory:  logger.NewPionFactory(log.Logger, logger.ParseLevel(cfg.Log.Level)),
		},
		Volumes:       volumes,
		AudibleOnly:   cfg.Client.AudibleOnly,
		SweepInterval: cfg.Client.SweepInterval,
		Name:          cfg.Client.Name,
	}, api, shell)

	if err := voice.Start(ctx); err != nil {
		log.Error().Err(err).Msg("voice session failed to start")
		return err
	}

	if err := shell.Serve(ctx, voice); err != nil {
		log.Error().Err(err).Msg("shell input")
	}
	if err := voice.Close(); err != nil {
		log.Error().Err(err).Msg("voice close")
	}
	log.Info().Msg("client exited")
	return nil
}
