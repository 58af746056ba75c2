package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Переменные окружения, из которых читается конфигурация сервиса и CLI.
const (
	envHTTPAddr            = "SMM_HTTP_ADDR"
	envGRPCAddr            = "SMM_GRPC_ADDR"
	envMetricsAddr         = "SMM_METRICS_ADDR"
	envStorageDriver       = "SMM_STORAGE_DRIVER"
	envPostgresDSN         = "SMM_POSTGRES_DSN"
	envPostgresAutoMigrate = "SMM_POSTGRES_AUTO_MIGRATE"
	envProviderSpecs       = "SMM_PROVIDER_SPECS"
	envAdminAPIKeys        = "SMM_ADMIN_API_KEYS"
	envSyncTimeBudget      = "SMM_SYNC_TIME_BUDGET"
	envSyncMaxOrders       = "SMM_SYNC_MAX_ORDERS"
	envSyncAllCap          = "SMM_SYNC_ALL_CAP"
	envSyncInterval        = "SMM_SYNC_INTERVAL"
	envLogRetention        = "SMM_LOG_RETENTION"
	envKafkaBrokers        = "KAFKA_BROKERS"
	envKafkaTopic          = "SMM_KAFKA_TOPIC"
	envRedisAddr           = "SMM_REDIS_ADDR"
	envRedisChannel        = "SMM_REDIS_CHANNEL"
	envWSAllowedOrigins    = "SMM_WS_ALLOWED_ORIGINS"
)

// EnvLookup совместим с os.LookupEnv.
type EnvLookup func(string) (string, bool)

// ConfigFromEnv собирает конфигурацию из окружения. Некорректные значения
// не прерывают запуск: остаётся значение по умолчанию, а в warnings попадает причина.
func ConfigFromEnv(lookup EnvLookup) (Config, []string) {
	cfg := DefaultConfig()
	var warnings []string
	warn := func(key string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
	}

	setString := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	setString(envHTTPAddr, &cfg.HTTPAddr)
	setString(envGRPCAddr, &cfg.GRPCAddr)
	setString(envMetricsAddr, &cfg.MetricsAddr)
	setString(envPostgresDSN, &cfg.PostgresDSN)
	setString(envProviderSpecs, &cfg.ProviderSpecsPath)
	setString(envKafkaTopic, &cfg.KafkaTopic)
	setString(envRedisAddr, &cfg.RedisAddr)
	setString(envRedisChannel, &cfg.RedisChannel)

	if v, ok := lookup(envStorageDriver); ok && strings.TrimSpace(v) != "" {
		cfg.StorageDriver = strings.ToLower(strings.TrimSpace(v))
	}

	if v, ok := lookup(envPostgresAutoMigrate); ok && strings.TrimSpace(v) != "" {
		if parsed, err := parseBool(v); err != nil {
			warn(envPostgresAutoMigrate, err)
		} else {
			cfg.PostgresAutoMigrate = parsed
		}
	}

	positive := func(v int) bool { return v > 0 }
	positiveDuration := func(v time.Duration) bool { return v > 0 }

	if v, ok := lookup(envSyncTimeBudget); ok && strings.TrimSpace(v) != "" {
		if parsed, err := parseDuration(v, positiveDuration, "must be > 0"); err != nil {
			warn(envSyncTimeBudget, err)
		} else {
			cfg.Sync.TimeBudget = parsed
		}
	}
	if v, ok := lookup(envSyncMaxOrders); ok && strings.TrimSpace(v) != "" {
		if parsed, err := parseInt(v, positive, "must be > 0"); err != nil {
			warn(envSyncMaxOrders, err)
		} else {
			cfg.Sync.MaxOrders = parsed
		}
	}
	if v, ok := lookup(envSyncAllCap); ok && strings.TrimSpace(v) != "" {
		if parsed, err := parseInt(v, positive, "must be > 0"); err != nil {
			warn(envSyncAllCap, err)
		} else {
			cfg.Sync.SyncAllCap = parsed
		}
	}
	if v, ok := lookup(envSyncInterval); ok && strings.TrimSpace(v) != "" {
		if parsed, err := parseDuration(v, func(d time.Duration) bool { return d >= 0 }, "must be >= 0"); err != nil {
			warn(envSyncInterval, err)
		} else {
			cfg.SyncInterval = parsed
		}
	}

	if v, ok := lookup(envLogRetention); ok && strings.TrimSpace(v) != "" {
		if parsed, err := parseDuration(v, func(d time.Duration) bool { return d >= 0 }, "must be >= 0"); err != nil {
			warn(envLogRetention, err)
		} else {
			cfg.LogRetention = parsed
		}
	}

	if v, ok := lookup(envAdminAPIKeys); ok {
		cfg.AdminAPIKeys = splitList(v)
	}
	if v, ok := lookup(envKafkaBrokers); ok {
		cfg.KafkaBrokers = splitList(v)
	}
	if v, ok := lookup(envWSAllowedOrigins); ok {
		cfg.WSAllowedOrigins = splitList(v)
	}

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid int %q", raw)
	}
	if !valid(value) {
		return 0, fmt.Errorf("%d %s", value, rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	if !valid(value) {
		return 0, fmt.Errorf("%s %s", value, rule)
	}
	return value, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
