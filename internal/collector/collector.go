// Package collector wires the live pipeline: exchange stream, stream store, durable storage,
// watches and the health server.
package collector

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"klinecollector/config"
	"klinecollector/internal/backfill"
	"klinecollector/internal/httpapi"
	"klinecollector/internal/ingest"
	"klinecollector/internal/streamstore"
	"klinecollector/internal/watch"
	"klinecollector/pkg/binance"
	"klinecollector/pkg/kline"
	"klinecollector/pkg/storage/postgres"
	"klinecollector/pkg/timing"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const statsInterval = 30 * time.Second

type Collector struct {
	cfg    *config.Config
	logger *zap.Logger

	tickers     []string
	resolutions []timing.Resolution

	db      *postgres.Client // nil when nothing is persisted
	store   streamstore.Store
	rest    *binance.RESTClient
	ws      *binance.WSClient
	handler *ingest.Handler
	watcher *watch.Watcher
	http    *httpapi.Server
}

// New builds every component. Nothing is connected to the stream until Run.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Collector, error) {
	resolutions, err := timing.ParseResolutions(cfg.Ingest.Resolutions)
	if err != nil {
		return nil, fmt.Errorf("ingest resolutions: %w", err)
	}
	if len(cfg.Ingest.Tickers) == 0 || len(resolutions) == 0 {
		return nil, errors.New("ingest needs at least one ticker and one resolution")
	}

	c := &Collector{
		cfg:         cfg,
		logger:      logger,
		resolutions: resolutions,
		rest:        binance.NewRESTClient(cfg.Binance.REST.BaseURL, cfg.Binance.REST.Timeout),
	}

	if cfg.Ingest.PersistClosed || cfg.Ingest.Warmup {
		c.db, err = postgres.InitializeAndMigrate(cfg.Postgres, cfg.Environment, false, resolutions)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to DB: %w", err)
		}
	}

	c.store, err = streamstore.Open(ctx, cfg, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open stream store: %w", err)
	}

	watches, err := watch.Compile(cfg.Watches)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.watcher = watch.New(c.store, watches, logger)

	opts := []ingest.Option{ingest.WithClosedHook(c.watcher.OnClosed)}
	if cfg.Ingest.PersistClosed {
		opts = append(opts, ingest.WithPersister(c.db))
	}
	c.handler = ingest.NewHandler(c.store, logger, opts...)

	c.tickers = c.validTickers(ctx, cfg.Ingest.Tickers)
	if len(c.tickers) == 0 {
		c.Close()
		return nil, errors.New("no configured ticker is trading")
	}

	c.ws = binance.NewWSClient(cfg.Binance.WS.URL, binance.Streams(c.tickers, resolutions),
		cfg.Binance.WS.Timeout, cfg.Binance.WS.ReconnectDelay, c.handler, logger)

	checks := []httpapi.Check{{Name: "store", Dep: c.store}}
	if c.db != nil {
		checks = append(checks, httpapi.Check{Name: "db", Dep: c.db})
	}
	c.http = httpapi.NewServer(cfg.HTTP.Addr, httpapi.Deps{
		Checks:  checks,
		Stats:   c.handler.Stats,
		Watches: c.watcher.Last,
	}, logger)

	return c, nil
}

// validTickers drops tickers the exchange does not list as trading. If the exchange cannot be
// reached the configured list is used as is.
func (c *Collector) validTickers(ctx context.Context, tickers []string) []string {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Binance.REST.Timeout)
	defer cancel()

	out := make([]string, 0, len(tickers))
	for _, t := range tickers {
		out = append(out, kline.CanonicalTicker(t))
	}

	trading, err := c.rest.TradingSymbols(ctx, "")
	if err != nil {
		c.logger.Warn("failed to load trading symbols, keeping configured tickers", zap.Error(err))
		return out
	}

	kept := out[:0]
	for _, t := range out {
		if _, found := slices.BinarySearch(trading, t); !found {
			c.logger.Warn("ticker is not trading, skipped", zap.String("ticker", t))
			continue
		}
		kept = append(kept, t)
	}
	c.logger.Info("loaded symbols", zap.Int("trading", len(trading)), zap.Int("subscribed", len(kept)))
	return kept
}

// Warmup fills the durable store with the last retention window of every stream and seeds the
// closed logs from it, so watches have data before the first live close.
func (c *Collector) Warmup(ctx context.Context) error {
	if c.db == nil {
		return nil
	}
	retention, err := streamstore.RetentionFromConfig(c.cfg.Cache)
	if err != nil {
		return err
	}
	loader := backfill.NewLoader(c.db, c.rest, c.logger,
		backfill.WithPageSize(c.cfg.Backfill.PageSize),
		backfill.WithRateLimit(c.cfg.Backfill.RequestsPerSec),
		backfill.WithConcurrency(c.cfg.Backfill.Concurrency),
	)

	nowMs := time.Now().UnixMilli()
	for _, ticker := range c.tickers {
		for _, res := range c.resolutions {
			keep := int64(retention.MaxLen(res, true))
			if keep < 1 {
				continue
			}
			lastClosed := nowMs - res.Millis()
			start := backfill.GridPoint(res, lastClosed-(keep-1)*res.Millis())
			end := backfill.GridPoint(res, lastClosed)

			if _, err := loader.Load(ctx, ticker, []timing.Resolution{res}, start, end); err != nil {
				return fmt.Errorf("warmup: %w", err)
			}
			if err := c.seed(ctx, ticker, res, start, end); err != nil {
				return fmt.Errorf("warmup: %w", err)
			}
		}
	}
	return nil
}

func (c *Collector) seed(ctx context.Context, ticker string, res timing.Resolution, start, end time.Time) error {
	rows, err := c.db.SelectKlines(ctx, ticker, res, &postgres.TimeRange{
		Start: res.Align(start.UnixMilli()),
		End:   res.Align(end.UnixMilli()) + res.Millis() - 1,
	})
	if err != nil {
		return err
	}
	recs, err := kline.NormalizeBatch(rows)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}
	if err := c.store.AppendBatch(ctx, ticker, res, recs, true); err != nil {
		return err
	}
	c.logger.Debug("seeded closed log",
		zap.String("ticker", ticker),
		zap.String("resolution", res.String()),
		zap.Int("klines", len(recs)),
	)
	return nil
}

// Run connects the stream and serves until ctx is done or a component fails.
func (c *Collector) Run(ctx context.Context) error {
	if c.cfg.Ingest.Warmup {
		if err := c.Warmup(ctx); err != nil {
			c.logger.Warn("warmup incomplete", zap.Error(err))
		}
	}

	if err := c.ws.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect stream: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.ws.Listen(gctx)
		return nil
	})
	g.Go(func() error {
		return c.http.Run(gctx)
	})
	g.Go(func() error {
		c.reportStats(gctx)
		return nil
	})
	g.Go(func() error {
		c.refreshSymbols(gctx)
		return nil
	})
	return g.Wait()
}

// reportStats periodically logs the ingest counters.
func (c *Collector) reportStats(ctx context.Context) {
	t := time.NewTicker(statsInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s := c.handler.Stats()
			c.logger.Info("ingest stats",
				zap.Int64("received", s.Received),
				zap.Int64("stored", s.Stored),
				zap.Int64("persisted", s.Persisted),
				zap.Int64("dropped", s.Dropped),
				zap.Int64("ignored", s.Ignored),
				zap.Int64("errors", s.Errors),
			)
		}
	}
}

// refreshSymbols re-checks the subscribed tickers at every UTC midnight and warns about any
// that stopped trading. Subscriptions are not changed.
func (c *Collector) refreshSymbols(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(untilNextUTCMidnight(time.Now())):
		}
		kept := c.validTickers(ctx, c.tickers)
		if len(kept) != len(c.tickers) {
			c.logger.Warn("subscribed tickers stopped trading", zap.Strings("trading", kept))
		}
	}
}

func untilNextUTCMidnight(now time.Time) time.Duration {
	now = now.UTC()
	return now.Truncate(24 * time.Hour).Add(24 * time.Hour).Sub(now)
}

// Close releases every component; safe on a partially built collector.
func (c *Collector) Close() {
	if c.ws != nil {
		_ = c.ws.Close()
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			c.logger.Warn("failed to close stream store", zap.Error(err))
		}
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.logger.Warn("failed to close DB", zap.Error(err))
		}
	}
}
