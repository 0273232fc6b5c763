package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"klinecollector/config"
	"klinecollector/internal/collector"
	"klinecollector/logger"

	"go.uber.org/zap"
)

func main() {
	// viper config
	cfg := config.Load()

	// zap logger
	log := logger.MustNew(cfg.Log)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := collector.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to build collector", zap.Error(err))
	}
	defer c.Close()

	if err := c.Run(ctx); err != nil {
		log.Error("collector failed", zap.Error(err))
		return
	}
	log.Info("collector stopped")
}
