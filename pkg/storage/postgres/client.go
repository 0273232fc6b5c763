package postgres

import (
	"context"
	"fmt"

	"klinecollector/config"
	"klinecollector/pkg/timing"

	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Client struct {
	DB *gorm.DB
}

func NewClient(dsn string) (*Client, error) {
	return NewClientWithDialector(postgres.Open(dsn))
}

// OpenSQLite opens a file or ":memory:" database with the same schema, for local runs and tests.
func OpenSQLite(path string) (*Client, error) {
	c, err := NewClientWithDialector(sqlite.Open(path))
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers; one connection also keeps ":memory:" a single database
	db, err := c.DB.DB()
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return c, nil
}

func NewClientWithDialector(d gorm.Dialector) (*Client, error) {
	db, err := gorm.Open(d, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", d.Name(), err)
	}
	return &Client{DB: db}, nil
}

// Open connects with the configured driver and applies the pool settings.
func Open(cfg config.PostgresConfig, env string) (*Client, error) {
	if cfg.Driver == "sqlite" {
		return OpenSQLite(cfg.SQLitePath)
	}

	client, err := NewClient(cfg.DSN(env))
	if err != nil {
		return nil, err
	}
	db, err := client.DB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve raw DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return client, nil
}

// InitializeAndMigrate connects, optionally creates the database, and migrates one kline
// table per resolution.
func InitializeAndMigrate(cfg config.PostgresConfig, env string, createDB bool, resolutions []timing.Resolution) (*Client, error) {
	if createDB && cfg.Driver != "sqlite" {
		if err := CreateDatabase(cfg, env); err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	client, err := Open(cfg, env)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	if err := client.AutoMigrateKlines(resolutions...); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return client, nil
}

// AutoMigrateKlines creates or updates klines_{res} for each resolution, all of them when none are given.
func (p *Client) AutoMigrateKlines(resolutions ...timing.Resolution) error {
	if len(resolutions) == 0 {
		resolutions = timing.Resolutions
	}
	for _, res := range resolutions {
		if err := p.DB.Table(TableName(res)).AutoMigrate(&KlineRow{}); err != nil {
			return fmt.Errorf("auto-migrate %s: %w", TableName(res), err)
		}
	}
	return nil
}

func (p *Client) IsHealthy(ctx context.Context) bool {
	return p.Ping(ctx) == nil
}

// Ping reports the connection error, if any.
func (p *Client) Ping(ctx context.Context) error {
	db, err := p.DB.DB()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

func (p *Client) Close() error {
	db, err := p.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to retrieve raw DB: %w", err)
	}
	return db.Close()
}
