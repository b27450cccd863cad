package memory

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xenking/store-core/internal/domain/account"
	"github.com/xenking/store-core/internal/domain/ledger"
)

// Accounts implements account.Repository.
type Accounts struct{ s *Store }

var _ account.Repository = (*Accounts)(nil)

func (r *Accounts) Get(ctx context.Context, id int64) (*account.Account, error) {
	var out account.Account
	err := r.s.view(ctx, func(st *state) error {
		a, ok := st.accounts[id]
		if !ok {
			return account.ErrNotFound
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Lock is Get: transactions already run under the store lock.
func (r *Accounts) Lock(ctx context.Context, id int64) (*account.Account, error) {
	return r.Get(ctx, id)
}

func (r *Accounts) Ensure(ctx context.Context, a *account.Account) error {
	return r.s.update(ctx, func(st *state) error {
		cur, ok := st.accounts[a.ID]
		if !ok {
			cur = account.Account{
				ID:        a.ID,
				Role:      account.RoleUser,
				Balance:   decimal.Zero,
				CreatedAt: r.s.now().UTC(),
			}
			if a.Role.Valid() {
				cur.Role = a.Role
			}
		}
		cur.Username = a.Username
		cur.FullName = a.FullName
		st.accounts[a.ID] = cur
		*a = cur
		return nil
	})
}

func (r *Accounts) SetRole(ctx context.Context, id int64, role account.Role) error {
	return r.modify(ctx, id, func(a *account.Account) { a.Role = role })
}

func (r *Accounts) SetBlocked(ctx context.Context, id int64, blocked bool) error {
	return r.modify(ctx, id, func(a *account.Account) { a.Blocked = blocked })
}

func (r *Accounts) modify(ctx context.Context, id int64, fn func(a *account.Account)) error {
	return r.s.update(ctx, func(st *state) error {
		a, ok := st.accounts[id]
		if !ok {
			return account.ErrNotFound
		}
		fn(&a)
		st.accounts[id] = a
		return nil
	})
}

// Ledger implements ledger.Store.
type Ledger struct{ s *Store }

var _ ledger.Store = (*Ledger)(nil)

func (r *Ledger) LockBalance(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.s.view(ctx, func(st *state) error {
		a, ok := st.accounts[accountID]
		if !ok {
			return account.ErrNotFound
		}
		balance = a.Balance
		return nil
	})
	return balance, err
}

func (r *Ledger) SetBalance(ctx context.Context, accountID int64, balance decimal.Decimal) error {
	return r.s.update(ctx, func(st *state) error {
		a, ok := st.accounts[accountID]
		if !ok {
			return account.ErrNotFound
		}
		a.Balance = balance
		st.accounts[accountID] = a
		return nil
	})
}

func (r *Ledger) Append(ctx context.Context, e *ledger.Entry) error {
	return r.s.update(ctx, func(st *state) error {
		e.ID = st.id()
		if e.CreatedAt.IsZero() {
			e.CreatedAt = r.s.now().UTC()
		}
		st.entries = append(st.entries, *e)
		return nil
	})
}

func (r *Ledger) ListByAccount(ctx context.Context, accountID int64, limit int) ([]ledger.Entry, error) {
	var out []ledger.Entry
	err := r.s.view(ctx, func(st *state) error {
		for i := len(st.entries) - 1; i >= 0 && len(out) < limit; i-- {
			if st.entries[i].AccountID == accountID {
				out = append(out, st.entries[i])
			}
		}
		return nil
	})
	return out, err
}

func (r *Ledger) Sum(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	sum := decimal.Zero
	err := r.s.view(ctx, func(st *state) error {
		for _, e := range st.entries {
			if e.AccountID == accountID {
				sum = sum.Add(e.Amount)
			}
		}
		return nil
	})
	return sum, err
}
