package config

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

// go test -v --run TestLoadFrom
func TestLoadFrom(t *testing.T) {
	cfg, err := LoadFrom(".")
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.Environment != "dev" || cfg.Log.Environment != "dev" {
		t.Fatalf("environment = %q, log environment = %q", cfg.Environment, cfg.Log.Environment)
	}
	if cfg.Binance.WS.ReconnectDelay != 5*time.Second {
		t.Fatalf("reconnect delay = %v", cfg.Binance.WS.ReconnectDelay)
	}
	if !slices.Equal(cfg.Ingest.Tickers, []string{"BTCUSDT", "ETHUSDT"}) {
		t.Fatalf("tickers = %v", cfg.Ingest.Tickers)
	}
	if got := cfg.Cache.ClosedRetention["1m"]; got != 120 {
		t.Fatalf("closed retention 1m = %d", got)
	}
	if cfg.Backfill.PageSize != 1000 {
		t.Fatalf("page size = %d", cfg.Backfill.PageSize)
	}
	if cfg.Postgres.ConnMaxLifetime != time.Hour {
		t.Fatalf("conn max lifetime = %v", cfg.Postgres.ConnMaxLifetime)
	}
}

// go test -v --run TestLoadFromEnvOverride
func TestLoadFromEnvOverride(t *testing.T) {
	t.Setenv("CACHE_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "cache:6380")

	cfg, err := LoadFrom(".")
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Cache.Backend != "redis" {
		t.Fatalf("backend = %q", cfg.Cache.Backend)
	}
	if cfg.Redis.Addr != "cache:6380" {
		t.Fatalf("redis addr = %q", cfg.Redis.Addr)
	}
}

// go test -v --run TestLoadFromDefaults
func TestLoadFromDefaults(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("environment: dev\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Cache.Backend != "memory" {
		t.Fatalf("backend = %q", cfg.Cache.Backend)
	}
	if cfg.Binance.REST.BaseURL != "https://api.binance.com" {
		t.Fatalf("rest base url = %q", cfg.Binance.REST.BaseURL)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("http addr = %q", cfg.HTTP.Addr)
	}
	if !cfg.Ingest.PersistClosed || !cfg.Ingest.Warmup {
		t.Fatalf("persist closed = %v, warmup = %v", cfg.Ingest.PersistClosed, cfg.Ingest.Warmup)
	}
}

// go test -v --run TestLoadFromMissingFile
func TestLoadFromMissingFile(t *testing.T) {
	if _, err := LoadFrom(t.TempDir()); err == nil {
		t.Fatal("expected an error without config.yaml")
	}
}

// go test -v --run TestPostgresDSN
func TestPostgresDSN(t *testing.T) {
	cfg := PostgresConfig{
		Host: "db", Port: 5432, User: "u", Password: "p",
		DBName: "klines", SSLMode: "disable", TimeZone: "UTC",
	}
	want := "host=db port=5432 user=u password=p dbname=klines sslmode=disable TimeZone=UTC"
	if got := cfg.DSN("dev"); got != want {
		t.Fatalf("DSN = %q, want %q", got, want)
	}
}

// go test -v --run TestRedisOptions
func TestRedisOptions(t *testing.T) {
	opts := RedisConfig{Addr: "localhost:6379", Password: "secret", DB: 2}.Options("dev")
	if opts.Addr != "localhost:6379" || opts.Password != "secret" || opts.DB != 2 {
		t.Fatalf("options = %+v", opts)
	}
}
