package account

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/store-core/internal/domain"
	"github.com/xenking/store-core/internal/domain/audit"
)

var (
	// ErrInvalidID is returned for non-positive account ids.
	ErrInvalidID = domain.NewValidation("invalid account id")
	// ErrInvalidRole is returned for unknown roles.
	ErrInvalidRole = domain.NewValidation("invalid role")
	// ErrSelfChange is returned when staff change their own role or block flag.
	ErrSelfChange = domain.NewValidation("cannot change own account")
)

// Service registers accounts on first contact and applies audited staff
// changes to roles and the blocked flag.
type Service struct {
	tx    domain.Transactor
	repo  Repository
	audit audit.Repository
	now   func() time.Time
}

// NewService creates an account Service.
func NewService(tx domain.Transactor, repo Repository, auditRepo audit.Repository) *Service {
	return &Service{tx: tx, repo: repo, audit: auditRepo, now: time.Now}
}

// Profile is what the front end knows about a user on contact.
type Profile struct {
	ID       int64
	Username string
	FullName string
}

// Register creates the account as a USER with a zero balance on first
// contact and refreshes the profile fields afterwards. Role, balance and the
// blocked flag of an existing account are left alone.
func (s *Service) Register(ctx context.Context, p Profile) (*Account, error) {
	if p.ID <= 0 {
		return nil, ErrInvalidID
	}
	a := &Account{
		ID:       p.ID,
		Username: strings.TrimPrefix(strings.TrimSpace(p.Username), "@"),
		FullName: strings.TrimSpace(p.FullName),
		Role:     RoleUser,
	}
	if err := s.repo.Ensure(ctx, a); err != nil {
		return nil, errors.Wrap(err, "ensure account")
	}
	return a, nil
}

// Get returns the account.
func (s *Service) Get(ctx context.Context, id int64) (*Account, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get account")
	}
	return a, nil
}

// SetRole changes the role of an account.
func (s *Service) SetRole(ctx context.Context, actorID, id int64, role Role) (*Account, error) {
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	return s.change(ctx, actorID, id, audit.ActionSetRole, string(role), func(ctx context.Context) error {
		return s.repo.SetRole(ctx, id, role)
	})
}

// SetBlocked blocks or unblocks an account. Blocked accounts cannot order.
func (s *Service) SetBlocked(ctx context.Context, actorID, id int64, blocked bool) (*Account, error) {
	action := audit.ActionUnblockUser
	if blocked {
		action = audit.ActionBlockUser
	}
	return s.change(ctx, actorID, id, action, strconv.FormatBool(blocked), func(ctx context.Context) error {
		return s.repo.SetBlocked(ctx, id, blocked)
	})
}

func (s *Service) change(ctx context.Context, actorID, id int64, action, details string, apply func(ctx context.Context) error) (*Account, error) {
	if id <= 0 {
		return nil, ErrInvalidID
	}
	if actorID == id {
		return nil, ErrSelfChange
	}

	var out *Account
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.repo.Lock(ctx, id); err != nil {
			return errors.Wrap(err, "lock account")
		}
		if err := apply(ctx); err != nil {
			return errors.Wrap(err, "update account")
		}
		if s.audit != nil {
			if err := s.audit.Append(ctx, &audit.Record{
				ActorID:    actorID,
				Action:     action,
				TargetType: "account",
				TargetID:   strconv.FormatInt(id, 10),
				Details:    details,
				CreatedAt:  s.now().UTC(),
			}); err != nil {
				return errors.Wrap(err, "append audit")
			}
		}
		a, err := s.repo.Get(ctx, id)
		if err != nil {
			return errors.Wrap(err, "get account")
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Account changed",
		zap.Int64("account_id", id),
		zap.Int64("actor_id", actorID),
		zap.String("action", action),
	)
	return out, nil
}
