package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/smmsync/internal/broadcast"
	"github.com/vladislavdragonenkov/smmsync/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/smmsync/internal/service/reconcile"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

const defaultLogRetention = 30 * 24 * time.Hour

// Config описывает настройки запуска сервиса синхронизации.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	// ProviderSpecsPath — YAML-каталог описаний запросов к провайдерам; пусто = стандартное описание.
	ProviderSpecsPath string
	AdminAPIKeys      []string

	Sync         reconcile.Config
	SyncInterval time.Duration
	// LogRetention — срок хранения журнала обращений к провайдерам; 0 = бессрочно.
	LogRetention time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	RedisAddr    string
	RedisChannel string

	WSAllowedOrigins []string
	WSMaxConnections int
}

// DefaultConfig возвращает базовые адреса и лимиты.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:            ":8080",
		GRPCAddr:            ":50051",
		MetricsAddr:         ":9090",
		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		Sync:                reconcile.DefaultConfig(),
		LogRetention:        defaultLogRetention,
		KafkaTopic:          kafka.TopicOrderEvents,
		RedisChannel:        broadcast.DefaultRedisChannel,
		WSMaxConnections:    256,
	}
}

// Validate проверяет согласованность настроек до запуска.
func (c Config) Validate() error {
	var errs []error
	switch strings.ToLower(strings.TrimSpace(c.StorageDriver)) {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres storage requires a DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}
	if c.Sync.TimeBudget < 0 || c.Sync.MaxOrders < 0 || c.Sync.SyncAllCap < 0 {
		errs = append(errs, errors.New("sync limits must not be negative"))
	}
	if c.SyncInterval < 0 {
		errs = append(errs, errors.New("sync interval must not be negative"))
	}
	if c.LogRetention < 0 {
		errs = append(errs, errors.New("log retention must not be negative"))
	}
	return errors.Join(errs...)
}
