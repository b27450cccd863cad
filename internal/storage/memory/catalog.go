package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"

	"github.com/xenking/store-core/internal/domain/payment"
	"github.com/xenking/store-core/internal/domain/product"
	"github.com/xenking/store-core/internal/domain/settings"
)

// Products implements product.Repository.
type Products struct{ s *Store }

var _ product.Repository = (*Products)(nil)

func (r *Products) Get(ctx context.Context, id int64) (*product.Product, error) {
	var out product.Product
	err := r.s.view(ctx, func(st *state) error {
		p, ok := st.products[id]
		if !ok {
			return product.ErrNotFound
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Products) List(ctx context.Context) ([]product.Product, error) {
	var out []product.Product
	err := r.s.view(ctx, func(st *state) error {
		out = slices.Collect(maps.Values(st.products))
		return nil
	})
	slices.SortFunc(out, func(a, b product.Product) int { return cmp.Compare(a.ID, b.ID) })
	return out, err
}

func (r *Products) Upsert(ctx context.Context, p *product.Product) error {
	return r.s.update(ctx, func(st *state) error {
		if p.ID == 0 {
			p.ID = st.id()
		}
		st.products[p.ID] = *p
		return nil
	})
}

// Payments implements payment.Repository.
type Payments struct{ s *Store }

var _ payment.Repository = (*Payments)(nil)

func (r *Payments) Get(ctx context.Context, id int64) (*payment.Method, error) {
	var out payment.Method
	err := r.s.view(ctx, func(st *state) error {
		m, ok := st.methods[id]
		if !ok {
			return payment.ErrNotFound
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Payments) List(ctx context.Context) ([]payment.Method, error) {
	var out []payment.Method
	err := r.s.view(ctx, func(st *state) error {
		out = slices.Collect(maps.Values(st.methods))
		return nil
	})
	slices.SortFunc(out, func(a, b payment.Method) int { return cmp.Compare(a.ID, b.ID) })
	return out, err
}

func (r *Payments) Upsert(ctx context.Context, m *payment.Method) error {
	return r.s.update(ctx, func(st *state) error {
		if m.ID == 0 {
			m.ID = st.id()
		}
		st.methods[m.ID] = *m
		return nil
	})
}

// Settings implements settings.Store.
type Settings struct{ s *Store }

var _ settings.Store = (*Settings)(nil)

func (r *Settings) Values(ctx context.Context) (map[string]string, error) {
	var out map[string]string
	err := r.s.view(ctx, func(st *state) error {
		out = maps.Clone(st.settings)
		return nil
	})
	return out, err
}

func (r *Settings) Set(ctx context.Context, key, value string) error {
	return r.s.update(ctx, func(st *state) error {
		st.settings[key] = value
		return nil
	})
}
