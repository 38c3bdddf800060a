// Package config содержит логику чтения конфигурации сервиса shopwork.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса shopwork.
type Config struct {
	RunAddress           string        `env:"RUN_ADDRESS"`
	DatabaseURI          string        `env:"DATABASE_URI"`
	RewardsSystemAddress string        `env:"REWARDS_SYSTEM_ADDRESS"`
	RedisAddress         string        `env:"REDIS_ADDRESS"`
	AuthSecret           string        `env:"AUTH_SECRET"`
	ExpiryInterval       time.Duration `env:"EXPIRY_INTERVAL"`
	CORSOrigin           string        `env:"CORS_ORIGIN"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envRewardsAddress := cfg.RewardsSystemAddress
	envRedisAddress := cfg.RedisAddress
	envAuthSecret := cfg.AuthSecret
	envExpiryInterval := cfg.ExpiryInterval
	envCORSOrigin := cfg.CORSOrigin

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.RewardsSystemAddress, "r", "", "rewards system address")
	flag.StringVar(&cfg.RedisAddress, "c", "", "redis address for balance cache")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret key for auth cookies")
	flag.DurationVar(&cfg.ExpiryInterval, "e", time.Hour, "interval between points expiry runs")
	flag.StringVar(&cfg.CORSOrigin, "o", "", "allowed CORS origin for the frontend")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envRewardsAddress != "" {
		cfg.RewardsSystemAddress = envRewardsAddress
	}
	if envRedisAddress != "" {
		cfg.RedisAddress = envRedisAddress
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if envExpiryInterval != 0 {
		cfg.ExpiryInterval = envExpiryInterval
	}
	if envCORSOrigin != "" {
		cfg.CORSOrigin = envCORSOrigin
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.ExpiryInterval <= 0 {
		cfg.ExpiryInterval = time.Hour
	}

	return cfg, nil
}
