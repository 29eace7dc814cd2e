package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"spreadwatch/internal/application/usecase/watch"
	"spreadwatch/internal/infrastructure/config"
	"spreadwatch/internal/infrastructure/logger"
	"spreadwatch/internal/infrastructure/svc"
)

func main() {
	logger.Setup()

	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := svc.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer sc.Close()

	service, err := watch.NewService(sc.BuildWatchDeps())
	if err != nil {
		log.Fatal().Err(err).Msg("service wiring failed")
	}
	if err := service.Restore(ctx); err != nil {
		log.Fatal().Err(err).Msg("position restore failed")
	}

	sc.Registry.ProbeAll(ctx)
	go sc.Reconnector.Run(ctx)
	sc.ServeMetrics()
	sc.ServeStream()

	log.Info().
		Str("config", *configPath).
		Int("pairs", len(cfg.Pairs)).
		Msg("spreadwatch started")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("polling service exited")
	}
}
