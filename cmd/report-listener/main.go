package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"invrecon/internal/config"
	"invrecon/internal/listener"
	"invrecon/internal/logging"
	"invrecon/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("provider", cfg.ListenerProvider).
		Str("label", cfg.ListenerLabel).
		Int("intervalSec", cfg.ListenerIntervalSec).
		Msg("report listener starting")

	svc := listener.NewService(db, cfg, log)
	if err := svc.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("listener stopped")
	}
}
