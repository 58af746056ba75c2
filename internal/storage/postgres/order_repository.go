package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/smmsync/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

// queryer — общее подмножество *sql.DB и *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const orderColumns = `
	o.id, o.user_id, o.link, o.quantity, o.status, o.provider_status,
	o.start_count, o.remains, o.charge, o.price, o.usd_price,
	o.provider_order_id, o.last_sync_at, o.version, o.created_at, o.updated_at,
	s.id, s.name, s.provider_id, s.provider_service_id`

const orderFrom = `
	FROM orders o
	JOIN services s ON s.id = o.service_id`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) (err error) {
	if err := order.ValidateProviderOrderID(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO services (id, name, provider_id, provider_service_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    provider_id = EXCLUDED.provider_id,
		    provider_service_id = EXCLUDED.provider_service_id
	`, order.Service.ID, order.Service.Name, nullString(order.Service.ProviderID), order.Service.ProviderServiceID); err != nil {
		return fmt.Errorf("upsert service: %w", err)
	}

	createdAt := order.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	updatedAt := order.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, user_id, service_id, link, quantity, status, provider_status,
			start_count, remains, charge, price, usd_price,
			provider_order_id, last_sync_at, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`,
		order.ID, order.UserID, order.Service.ID, order.Link, order.Quantity,
		string(order.Status), order.ProviderStatus, order.StartCount, order.Remains,
		order.Charge, order.Price, order.USDPrice,
		nullString(order.ProviderOrderID), nullTime(order.LastSyncAt), order.Version,
		createdAt, updatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderExists
		}
		return fmt.Errorf("insert order: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create order: %w", err)
	}
	return nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return getOrder(ctx, r.db, id, false)
}

func (r *orderRepository) GetMany(ctx context.Context, ids []string) ([]domain.Order, error) {
	if len(ids) == 0 {
		return []domain.Order{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+orderFrom+` WHERE o.id IN (`+strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	found, err := scanOrders(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]domain.Order, len(found))
	for _, o := range found {
		byID[o.ID] = o
	}
	result := make([]domain.Order, 0, len(found))
	for _, id := range ids {
		if o, ok := byID[id]; ok {
			result = append(result, o)
			delete(byID, id)
		}
	}
	return result, nil
}

// ListSyncCandidates фильтрует по провайдеру так же, как группировка: услуга, затем последний журнал.
func (r *orderRepository) ListSyncCandidates(ctx context.Context, filter domain.CandidateFilter) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	statuses := make([]string, len(domain.SyncCandidateStatuses))
	for i, st := range domain.SyncCandidateStatuses {
		statuses[i] = string(st)
	}

	query := `SELECT ` + orderColumns + orderFrom + `
		WHERE o.status = ANY($1)
		  AND o.provider_order_id IS NOT NULL
		  AND btrim(o.provider_order_id) <> ''
		  AND ($2::text = '' OR COALESCE(
		        NULLIF(btrim(s.provider_id), ''),
		        (SELECT btrim(l.provider_id)
		           FROM provider_order_logs l
		          WHERE l.order_id = o.id AND l.provider_id <> ''
		          ORDER BY l.created_at DESC
		          LIMIT 1)
		      ) = $2::text)
		ORDER BY o.last_sync_at ASC NULLS FIRST, o.created_at ASC, o.id ASC`
	args := []any{statuses, filter.ProviderID}
	if filter.Limit > 0 {
		query += ` LIMIT $3`
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sync candidates: %w", err)
	}
	return scanOrders(rows)
}

func (r *orderRepository) ApplySync(ctx context.Context, order domain.Order, update domain.SyncUpdate) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return applySync(ctx, r.db, order, update)
}

func (r *orderRepository) TouchSync(ctx context.Context, orderID string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET last_sync_at = GREATEST(COALESCE(last_sync_at, $2::timestamptz), $2::timestamptz)
		WHERE id = $1
	`, orderID, at.UTC())
	if err != nil {
		return fmt.Errorf("touch order sync: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

// applySync обновляет заказ с проверкой версии и возвращает сохранённое состояние.
func applySync(ctx context.Context, q queryer, order domain.Order, update domain.SyncUpdate) (domain.Order, error) {
	syncedAt := update.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now()
	}
	res, err := q.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    provider_status = $2,
		    start_count = $3,
		    remains = $4,
		    charge = $5,
		    last_sync_at = GREATEST(COALESCE(last_sync_at, $6::timestamptz), $6::timestamptz),
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $7
		  AND version = $8
	`,
		string(update.Status), update.ProviderStatus, update.StartCount, update.Remains,
		update.Charge, syncedAt.UTC(), order.ID, order.Version,
	)
	if err != nil {
		return domain.Order{}, fmt.Errorf("update order: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Order{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := getOrder(ctx, q, order.ID, false); err != nil {
			return domain.Order{}, err
		}
		return domain.Order{}, domain.ErrOrderVersionConflict
	}
	return getOrder(ctx, q, order.ID, false)
}

func getOrder(ctx context.Context, q queryer, id string, forUpdate bool) (domain.Order, error) {
	query := `SELECT ` + orderColumns + orderFrom + ` WHERE o.id = $1`
	if forUpdate {
		query += ` FOR UPDATE OF o`
	}
	order, err := scanOrder(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	return order, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order             domain.Order
		status            string
		providerOrderID   sql.NullString
		lastSyncAt        sql.NullTime
		serviceProviderID sql.NullString
	)
	if err := row.Scan(
		&order.ID, &order.UserID, &order.Link, &order.Quantity, &status, &order.ProviderStatus,
		&order.StartCount, &order.Remains, &order.Charge, &order.Price, &order.USDPrice,
		&providerOrderID, &lastSyncAt, &order.Version, &order.CreatedAt, &order.UpdatedAt,
		&order.Service.ID, &order.Service.Name, &serviceProviderID, &order.Service.ProviderServiceID,
	); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	if providerOrderID.Valid {
		v := providerOrderID.String
		order.ProviderOrderID = &v
	}
	if lastSyncAt.Valid {
		v := lastSyncAt.Time.UTC()
		order.LastSyncAt = &v
	}
	if serviceProviderID.Valid {
		v := serviceProviderID.String
		order.Service.ProviderID = &v
	}
	return order, nil
}

func scanOrders(rows *sql.Rows) ([]domain.Order, error) {
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	return orders, nil
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: v.UTC(), Valid: true}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.OrderRepository = (*orderRepository)(nil)
