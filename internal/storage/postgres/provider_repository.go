package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/smmsync/internal/domain"
)

// ProviderRepository — PostgreSQL-справочник провайдеров.
type ProviderRepository struct {
	db *sql.DB
}

// NewProviderRepository создаёт репозиторий провайдеров.
func NewProviderRepository(store *Store) *ProviderRepository {
	return &ProviderRepository{db: store.DB()}
}

const providerColumns = `id, name, api_url, api_key, http_method, timeout_seconds, status`

func (r *ProviderRepository) Get(ctx context.Context, id string) (domain.Provider, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	p, err := scanProvider(r.db.QueryRowContext(ctx, `SELECT `+providerColumns+` FROM providers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Provider{}, domain.ErrProviderNotFound
		}
		return domain.Provider{}, fmt.Errorf("select provider: %w", err)
	}
	return p, nil
}

func (r *ProviderRepository) List(ctx context.Context) ([]domain.Provider, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT `+providerColumns+` FROM providers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()

	providers := make([]domain.Provider, 0)
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		providers = append(providers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate providers: %w", err)
	}
	return providers, nil
}

// Upsert создаёт или обновляет провайдера.
func (r *ProviderRepository) Upsert(ctx context.Context, p domain.Provider) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	status := p.Status
	if status == "" {
		status = domain.ProviderStatusActive
	}
	method := p.HTTPMethod
	if method == "" {
		method = "POST"
	}
	timeout := p.TimeoutSeconds
	if timeout <= 0 {
		timeout = int(domain.DefaultProviderTimeout.Seconds())
	}

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO providers (id, name, api_url, api_key, http_method, timeout_seconds, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    api_url = EXCLUDED.api_url,
		    api_key = EXCLUDED.api_key,
		    http_method = EXCLUDED.http_method,
		    timeout_seconds = EXCLUDED.timeout_seconds,
		    status = EXCLUDED.status
	`, p.ID, p.Name, p.APIURL, p.APIKey, method, timeout, string(status)); err != nil {
		return fmt.Errorf("upsert provider: %w", err)
	}
	return nil
}

func scanProvider(row rowScanner) (domain.Provider, error) {
	var (
		p      domain.Provider
		status string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.APIURL, &p.APIKey, &p.HTTPMethod, &p.TimeoutSeconds, &status); err != nil {
		return domain.Provider{}, err
	}
	p.Status = domain.ProviderStatus(status)
	return p, nil
}

var _ domain.ProviderRepository = (*ProviderRepository)(nil)
