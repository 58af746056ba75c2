// Package postgres хранит заказы, провайдеров, пользователей и журнал синхронизации в PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Прогон синхронизации обходит заказы последовательно, поэтому пулу хватает
// соединений на несколько параллельных прогонов, чтение журнала и миграции.
const (
	pingTimeout     = 5 * time.Second
	maxOpenConns    = 16
	maxIdleConns    = 4
	connMaxLifetime = 30 * time.Minute
	connMaxIdleTime = 5 * time.Minute
)

var errStoreNotInitialized = errors.New("postgres store is not initialized")

// Store — пул соединений, общий для репозиториев заказов, провайдеров,
// журнала и UnitOfWork списаний.
type Store struct {
	db *sql.DB
}

// Open подключается через драйвер pgx и сразу проверяет, что база отвечает.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	store := &Store{db: db}
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return store, nil
}

// DB отдаёт пул для интеграционных тестов и служебных запросов.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping — проверка storage для /healthz и /readyz.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close освобождает пул; повторный вызов и nil-store безопасны.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
