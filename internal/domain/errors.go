// Package domain holds the error taxonomy and transaction boundary shared by
// the store's domain packages.
package domain

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrorKind classifies a domain error for callers that map failures to user
// facing responses.
type ErrorKind int

const (
	// KindStorage is any unexpected persistence or infrastructure failure.
	KindStorage ErrorKind = iota
	// KindValidation covers bad input, unknown entities and invalid coupons.
	KindValidation
	// KindInsufficientFunds is returned when a debit would overdraw a balance.
	KindInsufficientFunds
	// KindConflict covers concurrent or state-machine violations.
	KindConflict
	// KindStoreGate is returned while the store is closed to regular users.
	KindStoreGate
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindConflict:
		return "conflict"
	case KindStoreGate:
		return "store_gate"
	default:
		return "storage"
	}
}

// Kinded is implemented by errors that carry their own classification.
type Kinded interface {
	error
	ErrorKind() ErrorKind
}

// KindOf reports the kind of the first classified error in err's chain.
// Unclassified errors are storage failures.
func KindOf(err error) ErrorKind {
	var k Kinded
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	return KindStorage
}

// Error is a plain classified error, used for sentinels.
type Error struct {
	kind ErrorKind
	msg  string
}

// NewValidation returns a validation sentinel.
func NewValidation(msg string) *Error { return &Error{kind: KindValidation, msg: msg} }

// NewConflict returns a conflict sentinel.
func NewConflict(msg string) *Error { return &Error{kind: KindConflict, msg: msg} }

func (e *Error) Error() string { return e.msg }

// ErrorKind implements Kinded.
func (e *Error) ErrorKind() ErrorKind { return e.kind }

// Transactor runs fn as one atomic unit of work. Repositories called with the
// context passed to fn participate in the same transaction. Nested calls join
// the outer transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txMarkKey struct{}

// MarkTx returns ctx flagged as carrying an open transaction. Transactor
// implementations call it when they begin one.
func MarkTx(ctx context.Context) context.Context {
	return context.WithValue(ctx, txMarkKey{}, true)
}

// InTx reports whether ctx carries a transaction opened by a Transactor.
func InTx(ctx context.Context) bool {
	v, _ := ctx.Value(txMarkKey{}).(bool)
	return v
}
