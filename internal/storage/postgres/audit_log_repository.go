package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/smmsync/internal/domain"
)

type auditLogRepository struct {
	db *sql.DB
}

// NewAuditLogRepository создаёт PostgreSQL-реализацию журнала обращений к провайдерам.
func NewAuditLogRepository(store *Store) domain.AuditLogRepository {
	return &auditLogRepository{db: store.DB()}
}

func (r *auditLogRepository) Append(ctx context.Context, entry domain.ProviderOrderLog) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO provider_order_logs (id, order_id, provider_id, action, status, response, error_message, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.OrderID, entry.ProviderID, string(entry.Action), string(entry.Status),
		entry.Response, entry.ErrorMessage, entry.CreatedAt); err != nil {
		return fmt.Errorf("append provider order log: %w", err)
	}
	return nil
}

func (r *auditLogRepository) LatestProviderID(ctx context.Context, orderID string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var providerID string
	err := r.db.QueryRowContext(ctx, `
		SELECT provider_id
		FROM provider_order_logs
		WHERE order_id = $1 AND provider_id <> ''
		ORDER BY created_at DESC
		LIMIT 1
	`, orderID).Scan(&providerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("select latest provider: %w", err)
	}
	return providerID, true, nil
}

func (r *auditLogRepository) List(ctx context.Context, filter domain.LogFilter) (domain.LogPage, error) {
	filter = filter.Normalize()

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	where, args := logFilterClause(filter)

	page := domain.LogPage{Page: filter.Page, Limit: filter.Limit, Items: []domain.ProviderOrderLog{}}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM provider_order_logs`+where, args...).Scan(&page.Total); err != nil {
		return domain.LogPage{}, fmt.Errorf("count provider order logs: %w", err)
	}
	if page.Total == 0 {
		return page, nil
	}

	args = append(args, filter.Limit, filter.Offset())
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, order_id, provider_id, action, status, response, error_message, created_at
		FROM provider_order_logs%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return domain.LogPage{}, fmt.Errorf("list provider order logs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			entry          domain.ProviderOrderLog
			action, status string
		)
		if err := rows.Scan(&entry.ID, &entry.OrderID, &entry.ProviderID, &action, &status,
			&entry.Response, &entry.ErrorMessage, &entry.CreatedAt); err != nil {
			return domain.LogPage{}, fmt.Errorf("scan provider order log: %w", err)
		}
		entry.Action = domain.SyncAction(action)
		entry.Status = domain.LogStatus(status)
		page.Items = append(page.Items, entry)
	}
	if err := rows.Err(); err != nil {
		return domain.LogPage{}, fmt.Errorf("iterate provider order logs: %w", err)
	}
	return page, nil
}

func (r *auditLogRepository) DeleteBefore(ctx context.Context, before time.Time, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM provider_order_logs
		WHERE id IN (
			SELECT id FROM provider_order_logs
			WHERE created_at < $1
			ORDER BY created_at
			LIMIT $2
		)
	`, before, limit)
	if err != nil {
		return 0, fmt.Errorf("delete provider order logs: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete provider order logs: rows affected: %w", err)
	}
	return int(affected), nil
}

// logFilterClause собирает WHERE из непустых фильтров.
func logFilterClause(filter domain.LogFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("order_id", filter.OrderID)
	add("provider_id", filter.ProviderID)
	add("action", string(filter.Action))
	add("status", string(filter.Status))

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

var _ domain.AuditLogRepository = (*auditLogRepository)(nil)
