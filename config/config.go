// Package config collects every environment-driven setting into one struct built
// once in main and threaded explicitly through the coordinator and worker — no
// package-level mutable settings singleton.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/taskflow-io/taskflow/taskerr"
)

// Config holds every tunable named in the environment configuration table.
type Config struct {
	DatabaseURL string

	BrokerHostHigh string
	BrokerPortHigh int
	BrokerHostLow  string
	BrokerPortLow  int

	MaxRetries int

	LeaseTTL        time.Duration
	RenewInterval   time.Duration
	SchedulerTick   time.Duration
	ReclaimInterval time.Duration
	ProcessingTTL   time.Duration

	HeartbeatInterval time.Duration
	HeartbeatTTL      time.Duration
	TaskTimeout       time.Duration

	ReconcileInterval time.Duration

	MetricsAddr string
	LogLevel    string
}

// Load reads the process environment and applies spec-mandated defaults.
// Missing required variables produce a taskerr.FatalConfig error.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		BrokerHostHigh:    getEnv("BROKER_HOST_HIGH", "localhost"),
		BrokerHostLow:     getEnv("BROKER_HOST_LOW", "localhost"),
		MaxRetries:        getEnvInt("MAX_RETRIES", 3),
		LeaseTTL:          time.Duration(getEnvInt("LEASE_TTL_MS", 10000)) * time.Millisecond,
		RenewInterval:     time.Duration(getEnvInt("RENEW_INTERVAL_S", 3)) * time.Second,
		SchedulerTick:     time.Duration(getEnvInt("SCHEDULER_INTERVAL_S", 5)) * time.Second,
		ReclaimInterval:   time.Duration(getEnvInt("RECLAIM_INTERVAL_S", 10)) * time.Second,
		ProcessingTTL:     time.Duration(getEnvInt("PROCESSING_RECLAIM_S", 30)) * time.Second,
		HeartbeatInterval: time.Duration(getEnvInt("HEARTBEAT_INTERVAL", 3)) * time.Second,
		HeartbeatTTL:      time.Duration(getEnvInt("HEARTBEAT_TTL", 10)) * time.Second,
		TaskTimeout:       time.Duration(getEnvInt("TASK_TIMEOUT", 180)) * time.Second,
		ReconcileInterval: 30 * time.Second,
		MetricsAddr:       getEnv("METRICS_ADDR", ":9090"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
	}
	cfg.BrokerPortHigh = getEnvInt("BROKER_PORT_HIGH", 6379)
	cfg.BrokerPortLow = getEnvInt("BROKER_PORT_LOW", 6380)

	if cfg.DatabaseURL == "" {
		return nil, taskerr.FatalConfig("config.Load", fmt.Errorf("DATABASE_URL is required"))
	}
	if cfg.HeartbeatTTL <= cfg.HeartbeatInterval {
		return nil, taskerr.FatalConfig("config.Load",
			fmt.Errorf("HEARTBEAT_TTL (%s) must be greater than HEARTBEAT_INTERVAL (%s)",
				cfg.HeartbeatTTL, cfg.HeartbeatInterval))
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return fallback
	}
	return n
}
