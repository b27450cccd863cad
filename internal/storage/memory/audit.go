package memory

import (
	"context"

	"github.com/xenking/store-core/internal/domain/audit"
	"github.com/xenking/store-core/internal/domain/auth"
)

// Audit implements audit.Repository.
type Audit struct{ s *Store }

var _ audit.Repository = (*Audit)(nil)

func (r *Audit) Append(ctx context.Context, rec *audit.Record) error {
	return r.s.update(ctx, func(st *state) error {
		rec.ID = st.id()
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = r.s.now().UTC()
		}
		st.audit = append(st.audit, *rec)
		return nil
	})
}

// List returns the newest records first.
func (r *Audit) List(ctx context.Context, limit int) ([]audit.Record, error) {
	var out []audit.Record
	err := r.s.view(ctx, func(st *state) error {
		for i := len(st.audit) - 1; i >= 0 && len(out) < limit; i-- {
			out = append(out, st.audit[i])
		}
		return nil
	})
	return out, err
}

// APIKeys implements auth.Repository.
type APIKeys struct{ s *Store }

var _ auth.Repository = (*APIKeys)(nil)

func (r *APIKeys) FindByHash(ctx context.Context, hash string) (*auth.APIKey, error) {
	var out auth.APIKey
	err := r.s.view(ctx, func(st *state) error {
		k, ok := st.apiKeys[hash]
		if !ok {
			return auth.ErrNotFound
		}
		out = k
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *APIKeys) Create(ctx context.Context, k *auth.APIKey) error {
	return r.s.update(ctx, func(st *state) error {
		k.ID = st.id()
		k.CreatedAt = r.s.now().UTC()
		st.apiKeys[k.KeyHash] = *k
		return nil
	})
}
