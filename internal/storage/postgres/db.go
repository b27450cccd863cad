// Package postgres implements the store repositories on PostgreSQL with pgx.
//
// A transaction opened by DB.WithinTx travels in the context; every
// repository method runs on it when present and on the pool otherwise.
package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/store-core/db"
	"github.com/xenking/store-core/internal/domain"
)

// NewPool creates a pgxpool.Pool configured with shopspring/decimal support
// for NUMERIC columns.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	return pool, nil
}

// RunMigrations executes the embedded DDL schema against the pool.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, db.Schema); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

// DB runs repository queries on a pool or on the transaction in the context.
type DB struct {
	pool *pgxpool.Pool
}

var _ domain.Transactor = (*DB)(nil)

// New wraps pool.
func New(pool *pgxpool.Pool) *DB {
	return &DB{pool: pool}
}

func (d *DB) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return d.pool
}

// WithinTx runs fn in a READ COMMITTED transaction. Serialization comes from
// explicit row locks taken by the repositories. Nested calls join the outer
// transaction.
func (d *DB) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}
	return pgx.BeginTxFunc(ctx, d.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(domain.MarkTx(context.WithValue(ctx, txKey{}, tx)))
	})
}

// Ping checks connectivity.
func (d *DB) Ping(ctx context.Context) error {
	return d.pool.Ping(ctx)
}

// Accounts returns the account repository.
func (d *DB) Accounts() *AccountRepository { return &AccountRepository{db: d} }

// Ledger returns the ledger store.
func (d *DB) Ledger() *LedgerRepository { return &LedgerRepository{db: d} }

// Orders returns the order repository.
func (d *DB) Orders() *OrderRepository { return &OrderRepository{db: d} }

// Coupons returns the coupon repository.
func (d *DB) Coupons() *CouponRepository { return &CouponRepository{db: d} }

// Products returns the product repository.
func (d *DB) Products() *ProductRepository { return &ProductRepository{db: d} }

// Payments returns the payment method repository.
func (d *DB) Payments() *PaymentRepository { return &PaymentRepository{db: d} }

// Settings returns the settings store.
func (d *DB) Settings() *SettingsRepository { return &SettingsRepository{db: d} }

// Audit returns the audit repository.
func (d *DB) Audit() *AuditRepository { return &AuditRepository{db: d} }

// APIKeys returns the API key repository.
func (d *DB) APIKeys() *APIKeyRepository { return &APIKeyRepository{db: d} }

func uniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}
