package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/store-core/internal/domain/payment"
	"github.com/xenking/store-core/internal/domain/product"
)

const (
	productColumns = `id, name, category, description, price_usd, type, active`

	getProductSQL   = `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	listProductsSQL = `SELECT ` + productColumns + ` FROM products ORDER BY id`

	insertProductSQL = `INSERT INTO products (name, category, description, price_usd, type, active)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	updateProductSQL = `UPDATE products
		SET name = $2, category = $3, description = $4, price_usd = $5, type = $6, active = $7
		WHERE id = $1`

	methodColumns = `id, name, details, active`

	getMethodSQL   = `SELECT ` + methodColumns + ` FROM payment_methods WHERE id = $1`
	listMethodsSQL = `SELECT ` + methodColumns + ` FROM payment_methods ORDER BY id`

	insertMethodSQL = `INSERT INTO payment_methods (name, details, active) VALUES ($1, $2, $3) RETURNING id`
	updateMethodSQL = `UPDATE payment_methods SET name = $2, details = $3, active = $4 WHERE id = $1`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	db *DB
}

func (r *ProductRepository) Get(ctx context.Context, id int64) (*product.Product, error) {
	rows, err := r.db.q(ctx).Query(ctx, getProductSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %d: %w", id, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %d: %w", id, err)
	}
	return &p, nil
}

func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	rows, err := r.db.q(ctx).Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

func (r *ProductRepository) Upsert(ctx context.Context, p *product.Product) error {
	if p.ID == 0 {
		err := r.db.q(ctx).QueryRow(ctx, insertProductSQL,
			p.Name, p.Category, p.Description, p.PriceUSD, string(p.Type), p.Active).Scan(&p.ID)
		if err != nil {
			return fmt.Errorf("inserting product %q: %w", p.Name, err)
		}
		return nil
	}
	tag, err := r.db.q(ctx).Exec(ctx, updateProductSQL,
		p.ID, p.Name, p.Category, p.Description, p.PriceUSD, string(p.Type), p.Active)
	if err != nil {
		return fmt.Errorf("updating product %d: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return product.ErrNotFound
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p   product.Product
		typ string
	)
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Description, &p.PriceUSD, &typ, &p.Active)
	p.Type = product.Type(typ)
	return p, err
}

var _ payment.Repository = (*PaymentRepository)(nil)

// PaymentRepository implements payment.Repository backed by PostgreSQL.
type PaymentRepository struct {
	db *DB
}

func (r *PaymentRepository) Get(ctx context.Context, id int64) (*payment.Method, error) {
	rows, err := r.db.q(ctx).Query(ctx, getMethodSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting payment method %d: %w", id, err)
	}
	m, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[payment.Method])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrNotFound
		}
		return nil, fmt.Errorf("getting payment method %d: %w", id, err)
	}
	return &m, nil
}

func (r *PaymentRepository) List(ctx context.Context) ([]payment.Method, error) {
	rows, err := r.db.q(ctx).Query(ctx, listMethodsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing payment methods: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[payment.Method])
}

func (r *PaymentRepository) Upsert(ctx context.Context, m *payment.Method) error {
	if m.ID == 0 {
		if err := r.db.q(ctx).QueryRow(ctx, insertMethodSQL, m.Name, m.Details, m.Active).Scan(&m.ID); err != nil {
			return fmt.Errorf("inserting payment method %q: %w", m.Name, err)
		}
		return nil
	}
	tag, err := r.db.q(ctx).Exec(ctx, updateMethodSQL, m.ID, m.Name, m.Details, m.Active)
	if err != nil {
		return fmt.Errorf("updating payment method %d: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return payment.ErrNotFound
	}
	return nil
}
