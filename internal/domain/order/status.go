package order

import "fmt"

// Status is a position in the order lifecycle.
type Status string

const (
	StatusNew            Status = "NEW"
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusPaid           Status = "PAID"
	StatusPendingReview  Status = "PENDING_REVIEW"
	StatusInProgress     Status = "IN_PROGRESS"
	StatusCompleted      Status = "COMPLETED"
	StatusFailed         Status = "FAILED"
	StatusCanceled       Status = "CANCELED"
)

// TerminalStatuses lists the statuses an order never leaves.
var TerminalStatuses = []Status{StatusCompleted, StatusFailed, StatusCanceled}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusPendingPayment, StatusPaid, StatusPendingReview,
		StatusInProgress, StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Terminal reports whether s is COMPLETED, FAILED or CANCELED.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// Open reports whether an order in s blocks the account from ordering again.
func (s Status) Open() bool {
	return s.Valid() && !s.Terminal()
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
// FAILED and CANCELED are reachable from every non-terminal status.
func (s Status) CanTransitionTo(next Status) bool {
	if s.Terminal() || !s.Valid() {
		return false
	}
	switch next {
	case StatusFailed, StatusCanceled:
		return true
	case StatusPendingPayment:
		return s == StatusNew
	case StatusPaid:
		return s == StatusNew || s == StatusPendingPayment
	case StatusPendingReview:
		return s == StatusPaid
	case StatusInProgress:
		return s == StatusPaid || s == StatusPendingReview
	case StatusCompleted:
		return s == StatusInProgress
	}
	return false
}

// TransitionError reports a move the lifecycle does not allow.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order cannot move from %s to %s", e.From, e.To)
}
