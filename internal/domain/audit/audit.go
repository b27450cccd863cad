// Package audit records privileged actions taken by staff.
package audit

import (
	"context"
	"time"
)

// Action names recorded in the audit log.
const (
	ActionBalanceAdjust  = "BALANCE_ADJUST"
	ActionApprovePayment = "APPROVE_PAYMENT"
	ActionRejectPayment  = "REJECT_PAYMENT"
	ActionSendToReview   = "SEND_TO_REVIEW"
	ActionStartExecution = "START_EXECUTION"
	ActionFinalizeOrder  = "FINALIZE_ORDER"
	ActionSetting        = "UPDATE_SETTING"
	ActionSetRole        = "SET_ROLE"
	ActionBlockUser      = "BLOCK_USER"
	ActionUnblockUser    = "UNBLOCK_USER"
)

// Record is one immutable audit log line.
type Record struct {
	ID         int64
	ActorID    int64
	Action     string
	TargetType string
	TargetID   string
	Details    string
	CreatedAt  time.Time
}

// Repository appends and lists audit records.
type Repository interface {
	Append(ctx context.Context, r *Record) error
	List(ctx context.Context, limit int) ([]Record, error)
}
