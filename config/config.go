package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Environment string `mapstructure:"environment"` // "dev" or "prod"

	Binance  BinanceConfig  `mapstructure:"binance"`
	Log      LogConfig      `mapstructure:"log"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Timing   TimingConfig   `mapstructure:"timing"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Backfill BackfillConfig `mapstructure:"backfill"`
	HTTP     HTTPConfig     `mapstructure:"http"`

	Watches []WatchConfig `mapstructure:"watches"`
}

type BinanceConfig struct {
	REST RESTConfig `mapstructure:"rest"`
	WS   WSConfig   `mapstructure:"ws"`
}

type RESTConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type WSConfig struct {
	URL            string        `mapstructure:"url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
}

// LogConfig defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // file path to store logs (optional)
	Environment string `mapstructure:"environment"` // environment: "dev" or "prod"

	// rotation of OutputFile
	MaxSizeMB  int `mapstructure:"max_size_mb"`
	MaxBackups int `mapstructure:"max_backups"`
	MaxAgeDays int `mapstructure:"max_age_days"`
}

// CacheConfig selects the stream store backend and overrides its retention.
type CacheConfig struct {
	Backend string `mapstructure:"backend"` // "memory" or "redis"

	// per-resolution maxlen overrides, e.g. {"1m": 120}
	OpenRetention   map[string]int `mapstructure:"open_retention"`
	ClosedRetention map[string]int `mapstructure:"closed_retention"`
}

type TimingConfig struct {
	Timezone string `mapstructure:"timezone"` // IANA name; empty means UTC
}

// IngestConfig lists the live subscriptions.
type IngestConfig struct {
	Tickers       []string `mapstructure:"tickers"`
	Resolutions   []string `mapstructure:"resolutions"`
	PersistClosed bool     `mapstructure:"persist_closed"`

	// backfill the last retention window of every stream and seed the closed logs at startup
	Warmup bool `mapstructure:"warmup"`
}

type BackfillConfig struct {
	Tickers     []string `mapstructure:"tickers"`
	Resolutions []string `mapstructure:"resolutions"`
	Start       string   `mapstructure:"start"` // "YYYY-MM-DD HH:MM:SS" in timing.timezone
	End         string   `mapstructure:"end"`   // empty means now

	PageSize       int     `mapstructure:"page_size"`
	RequestsPerSec float64 `mapstructure:"requests_per_sec"`
	Concurrency    int     `mapstructure:"concurrency"`
	CreateDatabase bool    `mapstructure:"create_database"`
}

// WatchConfig is one "latest value op threshold" check run on every closed kline.
type WatchConfig struct {
	Name       string         `mapstructure:"name"`
	Ticker     string         `mapstructure:"ticker"`
	Resolution string         `mapstructure:"resolution"`
	Indicator  string         `mapstructure:"indicator"` // empty compares the raw field
	Fields     []string       `mapstructure:"fields"`    // default [close]
	Params     map[string]any `mapstructure:"params"`
	Output     int            `mapstructure:"output"`
	Op         string         `mapstructure:"op"` // <, <=, >, >=, ==, !=
	Value      float64        `mapstructure:"value"`
	Window     int            `mapstructure:"window"` // closed klines to load; 0 means retention
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "dev")
	v.SetDefault("binance.rest.base_url", "https://api.binance.com")
	v.SetDefault("binance.rest.timeout", 10*time.Second)
	v.SetDefault("binance.ws.url", "wss://stream.binance.com:9443")
	v.SetDefault("binance.ws.timeout", 10*time.Second)
	v.SetDefault("binance.ws.reconnect_delay", 5*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 7)
	v.SetDefault("postgres.driver", "postgres")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("ingest.persist_closed", true)
	v.SetDefault("ingest.warmup", true)
	v.SetDefault("backfill.page_size", 1000)
	v.SetDefault("backfill.requests_per_sec", 10)
	v.SetDefault("backfill.concurrency", 4)
	v.SetDefault("http.addr", ":8080")
}

// Load loads application configuration using Viper.
// It reads from config.yaml and overrides with environment variables (after loading .env if present).
func Load() *Config {
	cfg, err := LoadFrom(defaultConfigDir())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// LoadFrom reads config.yaml from dir.
func LoadFrom(dir string) (*Config, error) {
	// .env is optional; real environment variables win over it
	_ = godotenv.Load(filepath.Join(dir, "..", ".env"))

	v := viper.New()
	v.SetConfigName("config") // config.yaml
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	setDefaults(v)

	// Support environment variables with dot notation (e.g., BINANCE_WS_URL)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Log.Environment == "" {
		cfg.Log.Environment = cfg.Environment
	}

	return &cfg, nil
}

func defaultConfigDir() string {
	if dir := os.Getenv("CONFIG_DIR"); dir != "" {
		return dir
	}
	ex, _ := os.Executable()
	if strings.Contains(ex, "go-build") {
		pwd, _ := os.Getwd()
		return filepath.Join(pwd, "../../config")
	}
	return filepath.Join(filepath.Dir(ex), "../config")
}
