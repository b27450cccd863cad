package settings

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/store-core/internal/domain"
	"github.com/xenking/store-core/internal/domain/audit"
)

// Service reads snapshots and applies audited updates.
type Service struct {
	tx    domain.Transactor
	store Store
	audit audit.Repository
	now   func() time.Time
}

var _ Provider = (*Service)(nil)

// NewService creates a settings Service.
func NewService(tx domain.Transactor, store Store, auditRepo audit.Repository) *Service {
	return &Service{tx: tx, store: store, audit: auditRepo, now: time.Now}
}

// Snapshot reads and parses the current settings.
func (s *Service) Snapshot(ctx context.Context) (*Snapshot, error) {
	values, err := s.store.Values(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "read settings")
	}
	return Parse(values)
}

// Update validates and stores a setting, recording who changed it. A caching
// store is invalidated after the change commits.
func (s *Service) Update(ctx context.Context, actorID int64, key, value string) error {
	if err := Validate(key, value); err != nil {
		return err
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.store.Set(ctx, key, value); err != nil {
			return errors.Wrap(err, "set setting")
		}
		if s.audit == nil {
			return nil
		}
		return s.audit.Append(ctx, &audit.Record{
			ActorID:    actorID,
			Action:     audit.ActionSetting,
			TargetType: "setting",
			TargetID:   key,
			Details:    fmt.Sprintf("%s=%s", key, value),
			CreatedAt:  s.now().UTC(),
		})
	})
	if err != nil {
		return err
	}
	if inv, ok := s.store.(Invalidator); ok {
		inv.Invalidate(ctx)
	}
	return nil
}
