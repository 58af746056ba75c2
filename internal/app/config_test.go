package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/smmsync/internal/service/reconcile"
)

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.GRPCAddr != ":50051" {
		t.Errorf("expected GRPCAddr :50051, got %s", cfg.GRPCAddr)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("expected HTTPAddr :8080, got %s", cfg.HTTPAddr)
	}
	if cfg.MetricsAddr != ":9090" {
		t.Errorf("expected MetricsAddr :9090, got %s", cfg.MetricsAddr)
	}
	if cfg.StorageDriver != StorageDriverMemory {
		t.Errorf("expected StorageDriver %s, got %s", StorageDriverMemory, cfg.StorageDriver)
	}
	if !cfg.PostgresAutoMigrate {
		t.Error("expected PostgresAutoMigrate to be true")
	}
	if cfg.Sync != reconcile.DefaultConfig() {
		t.Errorf("unexpected sync limits: %+v", cfg.Sync)
	}
	if cfg.SyncInterval != 0 {
		t.Error("scheduled sync must be disabled by default")
	}
	if cfg.LogRetention != 30*24*time.Hour {
		t.Errorf("unexpected log retention: %s", cfg.LogRetention)
	}
	if cfg.KafkaTopic != "smmsync.order.events" || cfg.RedisChannel != "smmsync:events" {
		t.Errorf("unexpected event destinations: %s %s", cfg.KafkaTopic, cfg.RedisChannel)
	}
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "postgres without dsn", mutate: func(c *Config) { c.StorageDriver = StorageDriverPostgres }, want: "requires a DSN"},
		{name: "unknown driver", mutate: func(c *Config) { c.StorageDriver = "sqlite" }, want: "unsupported storage driver"},
		{name: "negative budget", mutate: func(c *Config) { c.Sync.TimeBudget = -time.Second }, want: "must not be negative"},
		{name: "negative interval", mutate: func(c *Config) { c.SyncInterval = -time.Minute }, want: "interval"},
		{name: "negative retention", mutate: func(c *Config) { c.LogRetention = -time.Hour }, want: "retention"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}

	cfg := DefaultConfig()
	cfg.StorageDriver = " PostgreS "
	cfg.PostgresDSN = "postgres://localhost/smmsync"
	require.NoError(t, cfg.Validate())
}
