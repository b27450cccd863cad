// Package memory implements every repository in process. A transaction works
// on a private copy of the whole state under a single lock and swaps it in on
// commit, so it is fully serializable. Used by tests and local development.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/xenking/store-core/internal/domain"
	"github.com/xenking/store-core/internal/domain/account"
	"github.com/xenking/store-core/internal/domain/audit"
	"github.com/xenking/store-core/internal/domain/auth"
	"github.com/xenking/store-core/internal/domain/coupon"
	"github.com/xenking/store-core/internal/domain/ledger"
	"github.com/xenking/store-core/internal/domain/order"
	"github.com/xenking/store-core/internal/domain/payment"
	"github.com/xenking/store-core/internal/domain/product"
)

type state struct {
	accounts map[int64]account.Account
	entries  []ledger.Entry
	orders   map[int64]order.Order
	coupons  map[string]coupon.Coupon
	usages   []coupon.UsageRecord
	products map[int64]product.Product
	methods  map[int64]payment.Method
	settings map[string]string
	audit    []audit.Record
	apiKeys  map[string]auth.APIKey
	nextID   int64
}

func newState() *state {
	return &state{
		accounts: make(map[int64]account.Account),
		orders:   make(map[int64]order.Order),
		coupons:  make(map[string]coupon.Coupon),
		products: make(map[int64]product.Product),
		methods:  make(map[int64]payment.Method),
		settings: make(map[string]string),
		apiKeys:  make(map[string]auth.APIKey),
	}
}

// clone copies containers. Stored values are never mutated in place, so
// pointer fields inside them may be shared.
func (st *state) clone() *state {
	return &state{
		accounts: maps.Clone(st.accounts),
		entries:  slices.Clone(st.entries),
		orders:   maps.Clone(st.orders),
		coupons:  maps.Clone(st.coupons),
		usages:   slices.Clone(st.usages),
		products: maps.Clone(st.products),
		methods:  maps.Clone(st.methods),
		settings: maps.Clone(st.settings),
		audit:    slices.Clone(st.audit),
		apiKeys:  maps.Clone(st.apiKeys),
		nextID:   st.nextID,
	}
}

func (st *state) id() int64 {
	st.nextID++
	return st.nextID
}

// Store holds the state and hands out repository views over it.
type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

var _ domain.Transactor = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{st: newState(), now: time.Now}
}

type txKey struct{ s *Store }

func (s *Store) txState(ctx context.Context) (*state, bool) {
	st, ok := ctx.Value(txKey{s}).(*state)
	return st, ok
}

// WithinTx runs fn against a private copy of the state and commits it only if
// fn returns nil. Nested calls join the outer transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := s.txState(ctx); ok {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(domain.MarkTx(context.WithValue(ctx, txKey{s}, work))); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) view(ctx context.Context, fn func(st *state) error) error {
	if st, ok := s.txState(ctx); ok {
		return fn(st)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

func (s *Store) update(ctx context.Context, fn func(st *state) error) error {
	if st, ok := s.txState(ctx); ok {
		return fn(st)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(work); err != nil {
		return err
	}
	s.st = work
	return nil
}

// Accounts returns the account repository.
func (s *Store) Accounts() *Accounts { return &Accounts{s: s} }

// Ledger returns the ledger store.
func (s *Store) Ledger() *Ledger { return &Ledger{s: s} }

// Orders returns the order repository.
func (s *Store) Orders() *Orders { return &Orders{s: s} }

// Coupons returns the coupon repository.
func (s *Store) Coupons() *Coupons { return &Coupons{s: s} }

// Products returns the product repository.
func (s *Store) Products() *Products { return &Products{s: s} }

// Payments returns the payment method repository.
func (s *Store) Payments() *Payments { return &Payments{s: s} }

// Settings returns the settings store.
func (s *Store) Settings() *Settings { return &Settings{s: s} }

// Audit returns the audit repository.
func (s *Store) Audit() *Audit { return &Audit{s: s} }

// APIKeys returns the API key repository.
func (s *Store) APIKeys() *APIKeys { return &APIKeys{s: s} }
