package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/smmsync/internal/domain"
)

// UnitOfWork выполняет операции над заказом и пользователем в одной транзакции.
type UnitOfWork struct {
	db *sql.DB
}

// NewUnitOfWork создаёт транзакционную обёртку над Store.
func NewUnitOfWork(store *Store) *UnitOfWork {
	return &UnitOfWork{db: store.DB()}
}

// WithinTx открывает транзакцию, выполняет fn и фиксирует изменения при nil-ошибке.
func (u *UnitOfWork) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.TxRepositories) error) (err error) {
	txCtx, cancel := context.WithTimeout(ctx, 2*opTimeout)
	defer cancel()

	tx, err := u.db.BeginTx(txCtx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(txCtx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) Users() domain.UserTxRepository   { return txUsers{tx: t.tx} }
func (t *pgTx) Orders() domain.OrderTxRepository { return txOrders{tx: t.tx} }

type txUsers struct{ tx *sql.Tx }

func (r txUsers) GetForUpdate(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := r.tx.QueryRowContext(ctx, `
		SELECT id, balance, total_spent, currency, dollar_rate
		FROM users
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&u.ID, &u.Balance, &u.TotalSpent, &u.Currency, &u.DollarRate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("select user for update: %w", err)
	}
	return u, nil
}

func (r txUsers) Save(ctx context.Context, u domain.User) error {
	res, err := r.tx.ExecContext(ctx, `
		UPDATE users
		SET balance = $1,
		    total_spent = $2
		WHERE id = $3
	`, u.Balance, u.TotalSpent, u.ID)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

type txOrders struct{ tx *sql.Tx }

func (r txOrders) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return getOrder(ctx, r.tx, id, true)
}

func (r txOrders) ApplySync(ctx context.Context, order domain.Order, update domain.SyncUpdate) (domain.Order, error) {
	return applySync(ctx, r.tx, order, update)
}

// UpsertUser создаёт или обновляет пользователя целиком.
func (s *Store) UpsertUser(ctx context.Context, u domain.User) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	currency := u.CurrencyCode()
	rate := u.DollarRate
	if rate.IsZero() {
		rate = decimal.NewFromInt(1)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, balance, total_spent, currency, dollar_rate)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE
		SET balance = EXCLUDED.balance,
		    total_spent = EXCLUDED.total_spent,
		    currency = EXCLUDED.currency,
		    dollar_rate = EXCLUDED.dollar_rate
	`, u.ID, u.Balance, u.TotalSpent, currency, rate); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// GetUser читает пользователя без блокировки.
func (s *Store) GetUser(ctx context.Context, id string) (domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var u domain.User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, balance, total_spent, currency, dollar_rate FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Balance, &u.TotalSpent, &u.Currency, &u.DollarRate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("select user: %w", err)
	}
	return u, nil
}

var _ domain.UnitOfWork = (*UnitOfWork)(nil)
