package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/store-core/internal/domain/account"
	"github.com/xenking/store-core/internal/domain/ledger"
)

const (
	accountColumns = `id, username, full_name, role, blocked, balance, created_at`

	getAccountSQL  = `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	lockAccountSQL = `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`

	ensureAccountSQL = `INSERT INTO accounts (id, username, full_name, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username, full_name = EXCLUDED.full_name
		RETURNING ` + accountColumns

	setRoleSQL    = `UPDATE accounts SET role = $2 WHERE id = $1`
	setBlockedSQL = `UPDATE accounts SET blocked = $2 WHERE id = $1`

	lockBalanceSQL = `SELECT balance FROM accounts WHERE id = $1 FOR UPDATE`
	setBalanceSQL  = `UPDATE accounts SET balance = $2 WHERE id = $1`

	entryColumns = `id, account_id, amount, kind, reason, order_id, actor_id, balance_before, balance_after, created_at`

	insertEntrySQL = `INSERT INTO ledger_entries
		(account_id, amount, kind, reason, order_id, actor_id, balance_before, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`

	listEntriesSQL = `SELECT ` + entryColumns + ` FROM ledger_entries
		WHERE account_id = $1 ORDER BY id DESC LIMIT $2`

	sumEntriesSQL = `SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE account_id = $1`
)

var _ account.Repository = (*AccountRepository)(nil)

// AccountRepository implements account.Repository backed by PostgreSQL.
type AccountRepository struct {
	db *DB
}

func (r *AccountRepository) Get(ctx context.Context, id int64) (*account.Account, error) {
	return r.one(ctx, getAccountSQL, id)
}

// Lock reads the account with SELECT ... FOR UPDATE.
func (r *AccountRepository) Lock(ctx context.Context, id int64) (*account.Account, error) {
	return r.one(ctx, lockAccountSQL, id)
}

func (r *AccountRepository) one(ctx context.Context, sql string, id int64) (*account.Account, error) {
	rows, err := r.db.q(ctx).Query(ctx, sql, id)
	if err != nil {
		return nil, fmt.Errorf("getting account %d: %w", id, err)
	}
	a, err := pgx.CollectExactlyOneRow(rows, scanAccount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, account.ErrNotFound
		}
		return nil, fmt.Errorf("getting account %d: %w", id, err)
	}
	return &a, nil
}

func (r *AccountRepository) Ensure(ctx context.Context, a *account.Account) error {
	role := a.Role
	if !role.Valid() {
		role = account.RoleUser
	}
	rows, err := r.db.q(ctx).Query(ctx, ensureAccountSQL, a.ID, a.Username, a.FullName, string(role))
	if err != nil {
		return fmt.Errorf("ensuring account %d: %w", a.ID, err)
	}
	got, err := pgx.CollectExactlyOneRow(rows, scanAccount)
	if err != nil {
		return fmt.Errorf("ensuring account %d: %w", a.ID, err)
	}
	*a = got
	return nil
}

func (r *AccountRepository) SetRole(ctx context.Context, id int64, role account.Role) error {
	return r.exec(ctx, setRoleSQL, id, string(role))
}

func (r *AccountRepository) SetBlocked(ctx context.Context, id int64, blocked bool) error {
	return r.exec(ctx, setBlockedSQL, id, blocked)
}

func (r *AccountRepository) exec(ctx context.Context, sql string, id int64, arg any) error {
	tag, err := r.db.q(ctx).Exec(ctx, sql, id, arg)
	if err != nil {
		return fmt.Errorf("updating account %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return account.ErrNotFound
	}
	return nil
}

func scanAccount(row pgx.CollectableRow) (account.Account, error) {
	var (
		a    account.Account
		role string
	)
	err := row.Scan(&a.ID, &a.Username, &a.FullName, &role, &a.Blocked, &a.Balance, &a.CreatedAt)
	a.Role = account.Role(role)
	return a, err
}

var _ ledger.Store = (*LedgerRepository)(nil)

// LedgerRepository implements ledger.Store backed by PostgreSQL.
type LedgerRepository struct {
	db *DB
}

// LockBalance reads the balance with SELECT ... FOR UPDATE.
func (r *LedgerRepository) LockBalance(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.db.q(ctx).QueryRow(ctx, lockBalanceSQL, accountID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, account.ErrNotFound
		}
		return decimal.Zero, fmt.Errorf("locking balance of %d: %w", accountID, err)
	}
	return balance, nil
}

func (r *LedgerRepository) SetBalance(ctx context.Context, accountID int64, balance decimal.Decimal) error {
	tag, err := r.db.q(ctx).Exec(ctx, setBalanceSQL, accountID, balance)
	if err != nil {
		return fmt.Errorf("setting balance of %d: %w", accountID, err)
	}
	if tag.RowsAffected() == 0 {
		return account.ErrNotFound
	}
	return nil
}

func (r *LedgerRepository) Append(ctx context.Context, e *ledger.Entry) error {
	err := r.db.q(ctx).QueryRow(ctx, insertEntrySQL,
		e.AccountID, e.Amount, string(e.Kind), e.Reason, e.OrderID, e.ActorID,
		e.BalanceBefore, e.BalanceAfter, e.CreatedAt,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting ledger entry: %w", err)
	}
	return nil
}

func (r *LedgerRepository) ListByAccount(ctx context.Context, accountID int64, limit int) ([]ledger.Entry, error) {
	rows, err := r.db.q(ctx).Query(ctx, listEntriesSQL, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing entries of %d: %w", accountID, err)
	}
	return pgx.CollectRows(rows, scanEntry)
}

func (r *LedgerRepository) Sum(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	if err := r.db.q(ctx).QueryRow(ctx, sumEntriesSQL, accountID).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("summing entries of %d: %w", accountID, err)
	}
	return sum, nil
}

func scanEntry(row pgx.CollectableRow) (ledger.Entry, error) {
	var (
		e    ledger.Entry
		kind string
	)
	err := row.Scan(&e.ID, &e.AccountID, &e.Amount, &kind, &e.Reason, &e.OrderID, &e.ActorID,
		&e.BalanceBefore, &e.BalanceAfter, &e.CreatedAt)
	e.Kind = ledger.Kind(kind)
	return e, err
}
