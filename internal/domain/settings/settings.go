// Package settings holds the operator-controlled store configuration and the
// gate that closes the store to regular users.
package settings

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/store-core/internal/domain"
)

// Mode is the store operating mode.
type Mode string

const (
	ModeAuto        Mode = "AUTO"
	ModeManual      Mode = "MANUAL"
	ModeMaintenance Mode = "MAINTENANCE"
)

// Setting keys.
const (
	KeyStoreMode          = "store_mode"
	KeyEmergencyStop      = "emergency_stop"
	KeyDollarRate         = "dollar_rate"
	KeyMaintenanceMessage = "maintenance_message"
)

// Defaults applied for keys missing from storage.
var Defaults = map[string]string{
	KeyStoreMode:          string(ModeManual),
	KeyEmergencyStop:      "0",
	KeyDollarRate:         "12500",
	KeyMaintenanceMessage: "The store is under maintenance. Please try again later.",
}

var (
	// ErrUnknownKey is returned when updating a key that is not a setting.
	ErrUnknownKey = domain.NewValidation("unknown setting")
	// ErrInvalidValue is returned when a value does not parse for its key.
	ErrInvalidValue = domain.NewValidation("invalid setting value")
)

// GateReason says why the store is closed.
type GateReason string

const (
	GateEmergencyStop GateReason = "emergency_stop"
	GateMaintenance   GateReason = "maintenance"
)

// GateError is returned to non-staff users while the store is closed.
type GateError struct {
	Reason  GateReason
	Message string
}

func (e *GateError) Error() string {
	return fmt.Sprintf("store closed (%s): %s", e.Reason, e.Message)
}

// ErrorKind implements domain.Kinded.
func (e *GateError) ErrorKind() domain.ErrorKind { return domain.KindStoreGate }

// Snapshot is the parsed configuration in effect for one operation.
type Snapshot struct {
	Mode               Mode
	EmergencyStop      bool
	ExchangeRate       decimal.Decimal
	MaintenanceMessage string
}

// Check returns a *GateError when the store is closed to the caller. Staff
// are never gated.
func (s *Snapshot) Check(staff bool) error {
	if staff {
		return nil
	}
	if s.EmergencyStop {
		return &GateError{Reason: GateEmergencyStop, Message: s.MaintenanceMessage}
	}
	if s.Mode == ModeMaintenance {
		return &GateError{Reason: GateMaintenance, Message: s.MaintenanceMessage}
	}
	return nil
}

// Store persists raw setting values.
type Store interface {
	Values(ctx context.Context) (map[string]string, error)
	Set(ctx context.Context, key, value string) error
}

// Invalidator is implemented by caching stores. Invalidate drops cached
// values and is called once a settings change has committed.
type Invalidator interface {
	Invalidate(ctx context.Context)
}

// Provider yields the current snapshot.
type Provider interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// Parse builds a snapshot from raw values, falling back to Defaults.
func Parse(values map[string]string) (*Snapshot, error) {
	get := func(key string) string {
		if v, ok := values[key]; ok {
			return v
		}
		return Defaults[key]
	}

	var s Snapshot
	for _, key := range []string{KeyStoreMode, KeyEmergencyStop, KeyDollarRate} {
		if err := Validate(key, get(key)); err != nil {
			return nil, errors.Wrapf(err, "setting %s", key)
		}
	}
	s.Mode = Mode(strings.ToUpper(get(KeyStoreMode)))
	s.EmergencyStop = parseFlag(get(KeyEmergencyStop))
	s.ExchangeRate = decimal.RequireFromString(get(KeyDollarRate))
	s.MaintenanceMessage = get(KeyMaintenanceMessage)
	return &s, nil
}

// Validate checks that value is acceptable for key.
func Validate(key, value string) error {
	switch key {
	case KeyStoreMode:
		switch Mode(strings.ToUpper(value)) {
		case ModeAuto, ModeManual, ModeMaintenance:
			return nil
		}
	case KeyEmergencyStop:
		switch value {
		case "0", "1", "true", "false":
			return nil
		}
	case KeyDollarRate:
		rate, err := decimal.NewFromString(value)
		if err == nil && rate.IsPositive() {
			return nil
		}
	case KeyMaintenanceMessage:
		return nil
	default:
		return ErrUnknownKey
	}
	return ErrInvalidValue
}

func parseFlag(v string) bool {
	return v == "1" || v == "true"
}
