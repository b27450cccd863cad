package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/store-core/internal/domain/order"
	"github.com/xenking/store-core/internal/domain/product"
)

const (
	orderColumns = `id, account_id, product_id, product_name, target_id, status, execution_type,
		base_price_usd, discount_usd, price_usd, exchange_rate, price_local, coupon_code,
		payment_method_id, operator_id, notes, created_at, updated_at`

	terminalStatuses = `('COMPLETED', 'FAILED', 'CANCELED')`

	insertOrderSQL = `INSERT INTO orders
		(account_id, product_id, product_name, target_id, status, execution_type,
		 base_price_usd, discount_usd, price_usd, exchange_rate, price_local, coupon_code, payment_method_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at`

	getOrderSQL          = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	getOrderForUpdateSQL = getOrderSQL + ` FOR UPDATE`

	updateOrderStatusSQL = `UPDATE orders
		SET status = $3, operator_id = $4, notes = CASE WHEN $5 = '' THEN notes ELSE $5 END, updated_at = now()
		WHERE id = $1 AND status = $2 AND status NOT IN ` + terminalStatuses + `
		RETURNING ` + orderColumns

	getOrderStatusSQL = `SELECT status FROM orders WHERE id = $1`

	hasOpenOrderSQL = `SELECT EXISTS (
		SELECT 1 FROM orders WHERE account_id = $1 AND status NOT IN ` + terminalStatuses + `)`

	listOrdersByAccountSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE account_id = $1 ORDER BY id DESC LIMIT $2`

	listOpenOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE status NOT IN ` + terminalStatuses + ` ORDER BY id LIMIT $1`

	openOrderConstraint = "orders_one_open_per_account"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	db *DB
}

// Create inserts o. The partial unique index on open orders turns a racing
// second open order into order.ErrOpenOrderExists.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	err := r.db.q(ctx).QueryRow(ctx, insertOrderSQL,
		o.AccountID, o.ProductID, o.ProductName, o.TargetID, string(o.Status), string(o.ExecutionType),
		o.BasePriceUSD, o.DiscountUSD, o.PriceUSD, o.ExchangeRate, o.PriceLocal, o.CouponCode, o.PaymentMethodID,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if uniqueViolation(err, openOrderConstraint) {
			return order.ErrOpenOrderExists
		}
		return fmt.Errorf("inserting order: %w", err)
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id int64) (*order.Order, error) {
	return r.one(ctx, getOrderSQL, id)
}

func (r *OrderRepository) GetForUpdate(ctx context.Context, id int64) (*order.Order, error) {
	return r.one(ctx, getOrderForUpdateSQL, id)
}

func (r *OrderRepository) one(ctx context.Context, sql string, id int64) (*order.Order, error) {
	rows, err := r.db.q(ctx).Query(ctx, sql, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %d: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %d: %w", id, err)
	}
	return &o, nil
}

// UpdateStatus applies a guarded transition. Terminal rows are never updated.
func (r *OrderRepository) UpdateStatus(ctx context.Context, t order.Transition) (*order.Order, error) {
	rows, err := r.db.q(ctx).Query(ctx, updateOrderStatusSQL,
		t.OrderID, string(t.From), string(t.To), t.OperatorID, t.Notes)
	if err != nil {
		return nil, fmt.Errorf("updating order %d: %w", t.OrderID, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err == nil {
		return &o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("updating order %d: %w", t.OrderID, err)
	}

	var status string
	if err := r.db.q(ctx).QueryRow(ctx, getOrderStatusSQL, t.OrderID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("reading order %d status: %w", t.OrderID, err)
	}
	if order.Status(status).Terminal() {
		return nil, order.ErrAlreadyFinalized
	}
	return nil, order.ErrStale
}

func (r *OrderRepository) HasOpenOrder(ctx context.Context, accountID int64) (bool, error) {
	var open bool
	if err := r.db.q(ctx).QueryRow(ctx, hasOpenOrderSQL, accountID).Scan(&open); err != nil {
		return false, fmt.Errorf("checking open orders of %d: %w", accountID, err)
	}
	return open, nil
}

func (r *OrderRepository) ListByAccount(ctx context.Context, accountID int64, limit int) ([]order.Order, error) {
	rows, err := r.db.q(ctx).Query(ctx, listOrdersByAccountSQL, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing orders of %d: %w", accountID, err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

func (r *OrderRepository) ListOpen(ctx context.Context, limit int) ([]order.Order, error) {
	rows, err := r.db.q(ctx).Query(ctx, listOpenOrdersSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("listing open orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o             order.Order
		status        string
		executionType string
	)
	err := row.Scan(
		&o.ID, &o.AccountID, &o.ProductID, &o.ProductName, &o.TargetID, &status, &executionType,
		&o.BasePriceUSD, &o.DiscountUSD, &o.PriceUSD, &o.ExchangeRate, &o.PriceLocal, &o.CouponCode,
		&o.PaymentMethodID, &o.OperatorID, &o.Notes, &o.CreatedAt, &o.UpdatedAt,
	)
	o.Status = order.Status(status)
	o.ExecutionType = product.Type(executionType)
	return o, err
}
