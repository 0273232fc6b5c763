package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"klinecollector/config"
	"klinecollector/internal/backfill"
	"klinecollector/logger"
	"klinecollector/pkg/binance"
	"klinecollector/pkg/storage/postgres"
	"klinecollector/pkg/timing"

	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log := logger.MustNew(cfg.Log)
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("backfill failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conv, err := timing.LoadConverter(cfg.Timing.Timezone)
	if err != nil {
		return err
	}
	resolutions, err := timing.ParseResolutions(cfg.Backfill.Resolutions)
	if err != nil {
		return err
	}
	start, end, err := backfill.ParseRange(conv, cfg.Backfill.Start, cfg.Backfill.End, time.Now())
	if err != nil {
		return err
	}

	db, err := postgres.InitializeAndMigrate(cfg.Postgres, cfg.Environment, cfg.Backfill.CreateDatabase, resolutions)
	if err != nil {
		return err
	}
	defer db.Close()

	rest := binance.NewRESTClient(cfg.Binance.REST.BaseURL, cfg.Binance.REST.Timeout)
	loader := backfill.NewLoader(db, rest, log,
		backfill.WithPageSize(cfg.Backfill.PageSize),
		backfill.WithRateLimit(cfg.Backfill.RequestsPerSec),
		backfill.WithConcurrency(cfg.Backfill.Concurrency),
	)

	log.Info("backfill started",
		zap.Strings("tickers", cfg.Backfill.Tickers),
		zap.String("start", conv.Format(start)),
		zap.String("end", conv.Format(end)),
	)
	for _, ticker := range cfg.Backfill.Tickers {
		sums, err := loader.Load(ctx, ticker, resolutions, start, end)
		if err != nil {
			return err
		}
		for res, s := range sums {
			log.Info("backfill summary",
				zap.String("ticker", ticker),
				zap.String("resolution", res.String()),
				zap.Int("missing", s.Missing),
				zap.Int64("inserted", s.Inserted),
				zap.Int("unclosed", s.Unclosed),
			)
		}
	}
	return nil
}
