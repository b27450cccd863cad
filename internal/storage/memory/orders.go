package memory

import (
	"cmp"
	"context"
	"slices"

	"github.com/xenking/store-core/internal/domain/order"
)

// Orders implements order.Repository.
type Orders struct{ s *Store }

var _ order.Repository = (*Orders)(nil)

func hasOpen(st *state, accountID int64) bool {
	for _, o := range st.orders {
		if o.AccountID == accountID && o.Status.Open() {
			return true
		}
	}
	return false
}

func (r *Orders) Create(ctx context.Context, o *order.Order) error {
	return r.s.update(ctx, func(st *state) error {
		if o.Status.Open() && hasOpen(st, o.AccountID) {
			return order.ErrOpenOrderExists
		}
		o.ID = st.id()
		o.CreatedAt = r.s.now().UTC()
		o.UpdatedAt = o.CreatedAt
		st.orders[o.ID] = *o
		return nil
	})
}

func (r *Orders) Get(ctx context.Context, id int64) (*order.Order, error) {
	var out order.Order
	err := r.s.view(ctx, func(st *state) error {
		o, ok := st.orders[id]
		if !ok {
			return order.ErrNotFound
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Orders) GetForUpdate(ctx context.Context, id int64) (*order.Order, error) {
	return r.Get(ctx, id)
}

func (r *Orders) UpdateStatus(ctx context.Context, t order.Transition) (*order.Order, error) {
	var out order.Order
	err := r.s.update(ctx, func(st *state) error {
		o, ok := st.orders[t.OrderID]
		switch {
		case !ok:
			return order.ErrNotFound
		case o.Status.Terminal():
			return order.ErrAlreadyFinalized
		case o.Status != t.From:
			return order.ErrStale
		}
		o.Status = t.To
		o.OperatorID = t.OperatorID
		if t.Notes != "" {
			o.Notes = t.Notes
		}
		o.UpdatedAt = r.s.now().UTC()
		st.orders[o.ID] = o
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Orders) HasOpenOrder(ctx context.Context, accountID int64) (bool, error) {
	var open bool
	err := r.s.view(ctx, func(st *state) error {
		open = hasOpen(st, accountID)
		return nil
	})
	return open, err
}

func (r *Orders) ListByAccount(ctx context.Context, accountID int64, limit int) ([]order.Order, error) {
	return r.list(ctx, limit, true, func(o order.Order) bool { return o.AccountID == accountID })
}

func (r *Orders) ListOpen(ctx context.Context, limit int) ([]order.Order, error) {
	return r.list(ctx, limit, false, func(o order.Order) bool { return o.Status.Open() })
}

func (r *Orders) list(ctx context.Context, limit int, newestFirst bool, keep func(order.Order) bool) ([]order.Order, error) {
	var out []order.Order
	err := r.s.view(ctx, func(st *state) error {
		for _, o := range st.orders {
			if keep(o) {
				out = append(out, o)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b order.Order) int {
		if newestFirst {
			return cmp.Compare(b.ID, a.ID)
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
