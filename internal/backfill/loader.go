package backfill

import (
	"context"
	"fmt"
	"sync"
	"time"

	"klinecollector/pkg/kline"
	"klinecollector/pkg/timing"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Fetcher pages raw klines from the exchange, oldest first.
type Fetcher interface {
	Fetch(ctx context.Context, ticker string, res timing.Resolution, startMs int64, limit int) ([]kline.RestRow, error)
}

// Store is the durable side of a backfill.
type Store interface {
	OpenTimeReader
	InsertKlines(ctx context.Context, ticker string, res timing.Resolution, recs []kline.Record) (int64, error)
}

// Summary reports one resolution of a Load.
type Summary struct {
	Missing  int
	Fetched  int
	Inserted int64
	Unclosed int // fetched rows dropped because their bucket had not closed
	Requests int
}

type Loader struct {
	finder      *Finder
	fetcher     Fetcher
	db          Store
	limiter     *rate.Limiter
	pageSize    int
	concurrency int
	now         func() time.Time
	logger      *zap.Logger
}

type LoaderOption func(*Loader)

// WithPageSize caps rows per REST request (at most 1000).
func WithPageSize(n int) LoaderOption {
	return func(l *Loader) {
		if n > 0 && n <= 1000 {
			l.pageSize = n
		}
	}
}

// WithRateLimit throttles REST requests across all resolutions; <= 0 disables throttling.
func WithRateLimit(perSecond float64) LoaderOption {
	return func(l *Loader) {
		if perSecond <= 0 {
			l.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		l.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithConcurrency bounds how many resolutions load at once.
func WithConcurrency(n int) LoaderOption {
	return func(l *Loader) {
		if n > 0 {
			l.concurrency = n
		}
	}
}

// WithClock replaces time.Now when deciding whether a fetched bucket has closed.
func WithClock(now func() time.Time) LoaderOption {
	return func(l *Loader) { l.now = now }
}

func NewLoader(db Store, fetcher Fetcher, logger *zap.Logger, opts ...LoaderOption) *Loader {
	l := &Loader{
		finder:      NewFinder(db),
		fetcher:     fetcher,
		db:          db,
		limiter:     rate.NewLimiter(rate.Limit(10), 1),
		pageSize:    1000,
		concurrency: 4,
		now:         time.Now,
		logger:      logger.Named("backfill"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// run is a contiguous stretch of missing grid points.
type run struct {
	first int64 // epoch seconds
	count int
}

func groupRuns(missing []int64, step int64) []run {
	var runs []run
	for _, sec := range missing {
		if n := len(runs); n > 0 && runs[n-1].first+int64(runs[n-1].count)*step == sec {
			runs[n-1].count++
			continue
		}
		runs = append(runs, run{first: sec, count: 1})
	}
	return runs
}

// Load fills every gap of ticker in [start, end]. Resolutions load concurrently; the first
// error cancels the rest and is returned. Pages already committed stay committed.
func (l *Loader) Load(ctx context.Context, ticker string, resolutions []timing.Resolution, start, end time.Time) (map[timing.Resolution]Summary, error) {
	if err := CheckRange(start, end); err != nil {
		return nil, err
	}
	ticker = kline.CanonicalTicker(ticker)

	var mu sync.Mutex
	out := make(map[timing.Resolution]Summary, len(resolutions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for _, res := range resolutions {
		res := res
		g.Go(func() error {
			sum, err := l.loadResolution(gctx, ticker, res, start, end)
			if err != nil {
				return fmt.Errorf("backfill %s %s: %w", ticker, res, err)
			}
			mu.Lock()
			out[res] = sum
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}

func (l *Loader) loadResolution(ctx context.Context, ticker string, res timing.Resolution, start, end time.Time) (Summary, error) {
	found, err := l.finder.FindMissing(ctx, ticker, []timing.Resolution{res}, start, end)
	if err != nil {
		return Summary{}, err
	}
	missing := found[res]
	sum := Summary{Missing: len(missing)}
	if len(missing) == 0 {
		l.logger.Debug("no gaps", zap.String("ticker", ticker), zap.String("resolution", res.String()))
		return sum, nil
	}

	step := res.Seconds()
	for _, r := range groupRuns(missing, step) {
		if err := l.fillRun(ctx, ticker, res, r, &sum); err != nil {
			return sum, err
		}
	}

	l.logger.Info("backfilled",
		zap.String("ticker", ticker),
		zap.String("resolution", res.String()),
		zap.Int("missing", sum.Missing),
		zap.Int("fetched", sum.Fetched),
		zap.Int64("inserted", sum.Inserted),
		zap.Int("requests", sum.Requests),
	)
	return sum, nil
}

func (l *Loader) fillRun(ctx context.Context, ticker string, res timing.Resolution, r run, sum *Summary) error {
	stepMs := res.Millis()
	cursor := gridToOpenTime(res, r.first)
	last := cursor + int64(r.count-1)*stepMs
	nowMs := l.now().UnixMilli()

	for cursor <= last {
		limit := min(l.pageSize, int((last-cursor)/stepMs)+1)
		if err := l.limiter.Wait(ctx); err != nil {
			return err
		}
		rows, err := l.fetcher.Fetch(ctx, ticker, res, cursor, limit)
		sum.Requests++
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		recs, err := kline.NormalizeBatch(rows)
		if err != nil {
			return err
		}
		sum.Fetched += len(recs)

		page := recs[:0]
		next := cursor
		for _, rec := range recs {
			next = max(next, rec.OpenTime+stepMs)
			if rec.OpenTime < cursor || rec.OpenTime > last {
				continue
			}
			if rec.CloseTime >= nowMs {
				sum.Unclosed++
				continue
			}
			page = append(page, rec)
		}

		n, err := l.db.InsertKlines(ctx, ticker, res, page)
		if err != nil {
			return err
		}
		sum.Inserted += n

		if next <= cursor {
			return nil
		}
		cursor = next
	}
	return nil
}
