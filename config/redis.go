package config

import (
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig defines the connection to the Redis stream store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// SSM parameter holding the password in prod
	PasswordParam string `mapstructure:"password_param"`

	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

func (cfg RedisConfig) Options(env string) *redis.Options {
	password := cfg.Password
	if env == "prod" && cfg.PasswordParam != "" {
		password = getParameterStoreValue(cfg.PasswordParam, true)
	}
	return &redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}
