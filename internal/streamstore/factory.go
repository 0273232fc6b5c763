package streamstore

import (
	"context"
	"fmt"

	"klinecollector/config"
	"klinecollector/pkg/timing"

	"go.uber.org/zap"
)

// RetentionFromConfig applies the configured overrides on top of the default table.
func RetentionFromConfig(cfg config.CacheConfig) (Retention, error) {
	r := DefaultRetention()
	apply := func(dst map[timing.Resolution]int, src map[string]int) error {
		for name, n := range src {
			res, err := timing.ParseResolution(name)
			if err != nil {
				return err
			}
			if n <= 0 {
				return fmt.Errorf("retention for %s must be positive, got %d", res, n)
			}
			dst[res] = n
		}
		return nil
	}
	if err := apply(r.Open, cfg.OpenRetention); err != nil {
		return Retention{}, fmt.Errorf("open retention: %w", err)
	}
	if err := apply(r.Closed, cfg.ClosedRetention); err != nil {
		return Retention{}, fmt.Errorf("closed retention: %w", err)
	}
	return r, nil
}

// Open builds the configured backend.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Store, error) {
	retention, err := RetentionFromConfig(cfg.Cache)
	if err != nil {
		return nil, err
	}

	switch cfg.Cache.Backend {
	case "", "memory":
		logger.Info("using in-memory stream store")
		return NewMemoryStore(retention), nil
	case "redis":
		rdb, err := DialRedis(ctx, cfg.Redis, cfg.Environment)
		if err != nil {
			return nil, err
		}
		logger.Info("using redis stream store", zap.String("addr", cfg.Redis.Addr))
		return NewRedisStore(rdb, retention, logger), nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
}
