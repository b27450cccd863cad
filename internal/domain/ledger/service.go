package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/store-core/internal/domain"
	"github.com/xenking/store-core/internal/domain/audit"
	"github.com/xenking/store-core/internal/domain/money"
	"github.com/xenking/store-core/internal/metrics"
)

// DefaultHistoryLimit bounds History when the caller passes no limit.
const DefaultHistoryLimit = 50

// Ledger applies balance deltas atomically.
type Ledger struct {
	tx      domain.Transactor
	store   Store
	audit   audit.Repository
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a Ledger. audit may be nil, in which case staff adjustments are
// not recorded in the audit log.
func New(tx domain.Transactor, store Store, auditRepo audit.Repository, m *metrics.Metrics) *Ledger {
	return &Ledger{
		tx:      tx,
		store:   store,
		audit:   auditRepo,
		metrics: m,
		now:     time.Now,
	}
}

// ApplyDelta changes the account balance by d.Amount and records an entry.
// It joins the caller's transaction when one is open in ctx, otherwise it
// runs in its own. A debit that would leave the balance negative fails with
// *InsufficientFundsError and changes nothing.
//
// Metrics are recorded only when ApplyDelta commits its own transaction; a
// caller that passes its transaction reports the entry after it commits.
func (l *Ledger) ApplyDelta(ctx context.Context, d Delta) (*Entry, error) {
	if d.Amount.IsZero() {
		return nil, ErrZeroAmount
	}
	if !d.Amount.Equal(money.Round(d.Amount)) {
		return nil, ErrPrecision
	}
	if !d.Kind.Valid() {
		return nil, ErrUnknownKind
	}

	owned := !domain.InTx(ctx)
	var entry *Entry
	err := l.tx.WithinTx(ctx, func(ctx context.Context) error {
		balance, err := l.store.LockBalance(ctx, d.AccountID)
		if err != nil {
			return errors.Wrap(err, "lock balance")
		}

		next := balance.Add(d.Amount)
		if next.IsNegative() {
			return &InsufficientFundsError{
				AccountID: d.AccountID,
				Balance:   balance,
				Requested: d.Amount.Neg(),
			}
		}
		if err := l.store.SetBalance(ctx, d.AccountID, next); err != nil {
			return errors.Wrap(err, "set balance")
		}

		e := &Entry{
			AccountID:     d.AccountID,
			Amount:        d.Amount,
			Kind:          d.Kind,
			Reason:        d.Reason,
			OrderID:       d.OrderID,
			ActorID:       d.ActorID,
			BalanceBefore: balance,
			BalanceAfter:  next,
			CreatedAt:     l.now().UTC(),
		}
		if err := l.store.Append(ctx, e); err != nil {
			return errors.Wrap(err, "append entry")
		}

		// Order-linked entries are audited by the order workflow.
		if l.audit != nil && d.ActorID != nil && d.OrderID == nil {
			rec := &audit.Record{
				ActorID:    *d.ActorID,
				Action:     audit.ActionBalanceAdjust,
				TargetType: "account",
				TargetID:   strconv.FormatInt(d.AccountID, 10),
				Details:    fmt.Sprintf("%s %s: %s", d.Kind, d.Amount.StringFixed(2), d.Reason),
				CreatedAt:  e.CreatedAt,
			}
			if err := l.audit.Append(ctx, rec); err != nil {
				return errors.Wrap(err, "append audit")
			}
		}

		entry = e
		return nil
	})
	if err != nil {
		var insufficient *InsufficientFundsError
		if owned && errors.As(err, &insufficient) {
			l.metrics.LedgerRejected(ctx, string(d.Kind))
		}
		return nil, err
	}

	if owned {
		l.metrics.LedgerApplied(ctx, string(d.Kind), d.Amount)
	}
	return entry, nil
}

// History returns the newest entries for an account, newest first.
func (l *Ledger) History(ctx context.Context, accountID int64, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	entries, err := l.store.ListByAccount(ctx, accountID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list entries")
	}
	return entries, nil
}

// Reconciliation compares a stored balance with the sum of its entries.
type Reconciliation struct {
	AccountID int64
	Balance   decimal.Decimal
	Sum       decimal.Decimal
}

// Consistent reports whether the balance equals the sum of entries.
func (r Reconciliation) Consistent() bool {
	return r.Balance.Equal(r.Sum)
}

// Reconcile reads the balance and the entry sum under the account lock.
func (l *Ledger) Reconcile(ctx context.Context, accountID int64) (*Reconciliation, error) {
	var rec *Reconciliation
	err := l.tx.WithinTx(ctx, func(ctx context.Context) error {
		balance, err := l.store.LockBalance(ctx, accountID)
		if err != nil {
			return errors.Wrap(err, "lock balance")
		}
		sum, err := l.store.Sum(ctx, accountID)
		if err != nil {
			return errors.Wrap(err, "sum entries")
		}
		rec = &Reconciliation{AccountID: accountID, Balance: balance, Sum: sum}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}
