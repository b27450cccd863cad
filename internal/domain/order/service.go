package order

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/store-core/internal/domain"
	"github.com/xenking/store-core/internal/domain/account"
	"github.com/xenking/store-core/internal/domain/audit"
	"github.com/xenking/store-core/internal/domain/coupon"
	"github.com/xenking/store-core/internal/domain/ledger"
	"github.com/xenking/store-core/internal/domain/money"
	"github.com/xenking/store-core/internal/domain/payment"
	"github.com/xenking/store-core/internal/domain/product"
	"github.com/xenking/store-core/internal/domain/settings"
	"github.com/xenking/store-core/internal/metrics"
)

// DefaultListLimit bounds list calls when the caller passes no limit.
const DefaultListLimit = 50

// Ledger is the balance writer used for purchases and refunds.
type Ledger interface {
	ApplyDelta(ctx context.Context, d ledger.Delta) (*ledger.Entry, error)
}

// Deps lists the collaborators of Service. Notifier, Metrics and
// TracerProvider are optional.
type Deps struct {
	Tx             domain.Transactor
	Accounts       account.Repository
	Orders         Repository
	Products       product.Repository
	Payments       payment.Repository
	Coupons        coupon.Engine
	Ledger         Ledger
	Settings       settings.Provider
	Audit          audit.Repository
	Notifier       Notifier
	Metrics        *metrics.Metrics
	TracerProvider trace.TracerProvider
}

// Service encapsulates the order lifecycle. Every state-changing method runs
// as one transaction; notifications are sent only after it commits.
type Service struct {
	tx       domain.Transactor
	accounts account.Repository
	orders   Repository
	products product.Repository
	payments payment.Repository
	coupons  coupon.Engine
	ledger   Ledger
	settings settings.Provider
	audit    audit.Repository
	notifier Notifier
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	now      func() time.Time
}

// NewService creates an order Service.
func NewService(d Deps) *Service {
	tp := d.TracerProvider
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Service{
		tx:       d.Tx,
		accounts: d.Accounts,
		orders:   d.Orders,
		products: d.Products,
		payments: d.Payments,
		coupons:  d.Coupons,
		ledger:   d.Ledger,
		settings: d.Settings,
		audit:    d.Audit,
		notifier: d.Notifier,
		metrics:  d.Metrics,
		tracer:   tp.Tracer("github.com/xenking/store-core/order"),
		now:      time.Now,
	}
}

// CreateRequest holds the input for CreateOrder. A nil PaymentMethodID means
// the order is paid from balance.
type CreateRequest struct {
	AccountID       int64
	ProductID       int64
	TargetID        string
	PaymentMethodID *int64
	CouponCode      string
}

// CreateOrder validates the request, prices the product, applies the coupon
// and either debits the balance (order starts PAID) or leaves the order
// awaiting an external payment (PENDING_PAYMENT). Any failure leaves no trace:
// no order, no ledger entry and no coupon use.
func (s *Service) CreateOrder(ctx context.Context, req CreateRequest) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.CreateOrder", trace.WithAttributes(
		attribute.Int64("account.id", req.AccountID),
		attribute.Int64("product.id", req.ProductID),
	))
	defer func() { endSpan(span, rerr) }()

	// Reference data is read before the transaction so nothing but the
	// database is touched while account rows are locked.
	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "settings snapshot")
	}
	p, err := s.products.Get(ctx, req.ProductID)
	if err != nil && !errors.Is(err, product.ErrNotFound) {
		return nil, errors.Wrap(err, "get product")
	}

	var (
		created Order
		debit   *ledger.Entry
	)
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		acct, err := s.accounts.Lock(ctx, req.AccountID)
		if err != nil {
			return errors.Wrap(err, "lock account")
		}
		if acct.Blocked {
			return ErrAccountBlocked
		}
		if err := snap.Check(acct.Role.IsStaff()); err != nil {
			return err
		}

		open, err := s.orders.HasOpenOrder(ctx, acct.ID)
		if err != nil {
			return errors.Wrap(err, "check open order")
		}
		if open {
			return ErrOpenOrderExists
		}

		if err := checkProduct(req.ProductID, p); err != nil {
			return err
		}
		target := strings.TrimSpace(req.TargetID)
		if target == "" {
			return ErrTargetRequired
		}

		o := Order{
			AccountID:     acct.ID,
			ProductID:     p.ID,
			ProductName:   p.Name,
			TargetID:      target,
			Status:        StatusPaid,
			ExecutionType: p.Type,
			BasePriceUSD:  p.PriceUSD,
			ExchangeRate:  snap.ExchangeRate,
		}

		if strings.TrimSpace(req.CouponCode) != "" {
			d, err := s.coupons.Validate(ctx, req.CouponCode, p.PriceUSD)
			if err != nil {
				return err
			}
			o.CouponCode = d.Code
			o.DiscountUSD = d.Amount
		}
		o.PriceUSD = money.FloorZero(o.BasePriceUSD.Sub(o.DiscountUSD))
		o.PriceLocal = money.Local(o.PriceUSD, snap.ExchangeRate)

		if req.PaymentMethodID != nil {
			m, err := s.payments.Get(ctx, *req.PaymentMethodID)
			if err != nil {
				return errors.Wrap(err, "get payment method")
			}
			if !m.Active {
				return payment.ErrInactive
			}
			o.PaymentMethodID = &m.ID
			o.Status = StatusPendingPayment
		}

		if err := s.orders.Create(ctx, &o); err != nil {
			return errors.Wrap(err, "create order")
		}

		if o.PaidFromBalance() && o.PriceUSD.IsPositive() {
			orderID := o.ID
			entry, err := s.ledger.ApplyDelta(ctx, ledger.Delta{
				AccountID: o.AccountID,
				Amount:    o.PriceUSD.Neg(),
				Kind:      ledger.KindPurchase,
				Reason:    "purchase: " + o.ProductName,
				OrderID:   &orderID,
			})
			if err != nil {
				return errors.Wrap(err, "debit balance")
			}
			debit = entry
		}

		if o.CouponCode != "" {
			if _, err := s.coupons.Redeem(ctx, coupon.RedeemRequest{
				Code:      o.CouponCode,
				AccountID: o.AccountID,
				OrderID:   o.ID,
				Discount:  o.DiscountUSD,
			}); err != nil {
				return errors.Wrap(err, "redeem coupon")
			}
		}

		created = o
		return nil
	})
	if err != nil {
		var (
			gate         *settings.GateError
			insufficient *ledger.InsufficientFundsError
		)
		switch {
		case errors.As(err, &gate):
			s.metrics.GateRejected(ctx, string(gate.Reason))
		case errors.As(err, &insufficient):
			s.metrics.LedgerRejected(ctx, string(ledger.KindPurchase))
		}
		return nil, err
	}
	if debit != nil {
		s.metrics.LedgerApplied(ctx, string(debit.Kind), debit.Amount)
	}

	path := "balance"
	if !created.PaidFromBalance() {
		path = "external"
	}
	s.metrics.OrderCreated(ctx, path)
	zctx.From(ctx).Info("Order created",
		zap.Int64("order_id", created.ID),
		zap.Int64("account_id", created.AccountID),
		zap.String("status", string(created.Status)),
		zap.String("price_usd", created.PriceUSD.StringFixed(2)),
		zap.String("payment_path", path),
	)
	s.notify(ctx, Event{Order: created, Previous: StatusNew})

	return &created, nil
}

func checkProduct(id int64, p *product.Product) error {
	switch {
	case p == nil:
		return &ProductUnavailableError{ProductID: id, Reason: "not found"}
	case p.Type == product.TypeDisabled:
		return &ProductUnavailableError{ProductID: id, Reason: "disabled"}
	case !p.Active:
		return &ProductUnavailableError{ProductID: id, Reason: "inactive"}
	}
	return nil
}

// FinalizeRequest holds the input for FinalizeOrder.
type FinalizeRequest struct {
	OrderID int64
	Status  Status
	ActorID int64
	Notes   string
}

// Result is the outcome of a status change. Refund is set when the change
// returned money to the customer's balance.
type Result struct {
	Order  *Order
	Refund *ledger.Entry
}

// FinalizeOrder moves an order to COMPLETED, FAILED or CANCELED. Orders paid
// from balance are refunded their full frozen price when they fail or are
// canceled. A finalized order can never be finalized again, so a refund is
// issued at most once.
func (s *Service) FinalizeOrder(ctx context.Context, req FinalizeRequest) (*Result, error) {
	if !req.Status.Terminal() {
		return nil, ErrInvalidFinalStatus
	}
	return s.advance(ctx, advanceRequest{
		orderID: req.OrderID,
		to:      req.Status,
		actorID: req.ActorID,
		notes:   req.Notes,
		action:  audit.ActionFinalizeOrder,
	})
}

// ApprovePayment confirms an external payment: PENDING_PAYMENT to PAID.
func (s *Service) ApprovePayment(ctx context.Context, orderID, actorID int64) (*Result, error) {
	return s.advance(ctx, advanceRequest{
		orderID:     orderID,
		requireFrom: StatusPendingPayment,
		to:          StatusPaid,
		actorID:     actorID,
		action:      audit.ActionApprovePayment,
	})
}

// RejectPayment fails an order whose external payment was not accepted.
func (s *Service) RejectPayment(ctx context.Context, orderID, actorID int64, notes string) (*Result, error) {
	return s.advance(ctx, advanceRequest{
		orderID:     orderID,
		requireFrom: StatusPendingPayment,
		to:          StatusFailed,
		actorID:     actorID,
		notes:       notes,
		action:      audit.ActionRejectPayment,
	})
}

// SendToReview parks a paid order for manual review.
func (s *Service) SendToReview(ctx context.Context, orderID, actorID int64, notes string) (*Result, error) {
	return s.advance(ctx, advanceRequest{
		orderID: orderID,
		to:      StatusPendingReview,
		actorID: actorID,
		notes:   notes,
		action:  audit.ActionSendToReview,
	})
}

// StartExecution marks an order as being fulfilled.
func (s *Service) StartExecution(ctx context.Context, orderID, actorID int64) (*Result, error) {
	return s.advance(ctx, advanceRequest{
		orderID: orderID,
		to:      StatusInProgress,
		actorID: actorID,
		action:  audit.ActionStartExecution,
	})
}

type advanceRequest struct {
	orderID     int64
	requireFrom Status
	to          Status
	actorID     int64
	notes       string
	action      string
}

func (s *Service) advance(ctx context.Context, req advanceRequest) (_ *Result, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Advance", trace.WithAttributes(
		attribute.Int64("order.id", req.orderID),
		attribute.String("order.to", string(req.to)),
	))
	defer func() { endSpan(span, rerr) }()

	var (
		res      Result
		previous Status
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.GetForUpdate(ctx, req.orderID)
		if err != nil {
			return errors.Wrap(err, "get order")
		}
		if o.Status.Terminal() {
			return ErrAlreadyFinalized
		}
		if req.requireFrom != "" && o.Status != req.requireFrom {
			return &TransitionError{From: o.Status, To: req.to}
		}
		if !o.Status.CanTransitionTo(req.to) {
			return &TransitionError{From: o.Status, To: req.to}
		}
		previous = o.Status

		actorID := req.actorID
		updated, err := s.orders.UpdateStatus(ctx, Transition{
			OrderID:    o.ID,
			From:       o.Status,
			To:         req.to,
			OperatorID: &actorID,
			Notes:      req.notes,
		})
		if err != nil {
			return errors.Wrap(err, "update status")
		}
		res.Order = updated

		if refundable(updated) {
			orderID := updated.ID
			entry, err := s.ledger.ApplyDelta(ctx, ledger.Delta{
				AccountID: updated.AccountID,
				Amount:    updated.PriceUSD,
				Kind:      ledger.KindRefund,
				Reason:    fmt.Sprintf("refund: order #%d %s", updated.ID, strings.ToLower(string(updated.Status))),
				OrderID:   &orderID,
				ActorID:   &actorID,
			})
			if err != nil {
				return errors.Wrap(err, "refund")
			}
			res.Refund = entry
		}

		if s.audit != nil {
			details := fmt.Sprintf("%s -> %s", previous, updated.Status)
			if req.notes != "" {
				details += ": " + req.notes
			}
			if err := s.audit.Append(ctx, &audit.Record{
				ActorID:    req.actorID,
				Action:     req.action,
				TargetType: "order",
				TargetID:   strconv.FormatInt(updated.ID, 10),
				Details:    details,
				CreatedAt:  s.now().UTC(),
			}); err != nil {
				return errors.Wrap(err, "append audit")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Refund != nil {
		s.metrics.LedgerApplied(ctx, string(res.Refund.Kind), res.Refund.Amount)
	}
	if res.Order.Status.Terminal() {
		s.metrics.OrderFinalized(ctx, string(res.Order.Status), res.Refund != nil)
	}
	lg := zctx.From(ctx).With(
		zap.Int64("order_id", res.Order.ID),
		zap.String("from", string(previous)),
		zap.String("to", string(res.Order.Status)),
		zap.Int64("actor_id", req.actorID),
	)
	if res.Refund != nil {
		lg = lg.With(zap.String("refund_usd", res.Refund.Amount.StringFixed(2)))
	}
	lg.Info("Order status changed")
	s.notify(ctx, Event{Order: *res.Order, Previous: previous, Refund: res.Refund})

	return &res, nil
}

func refundable(o *Order) bool {
	if o.Status != StatusFailed && o.Status != StatusCanceled {
		return false
	}
	return o.PaidFromBalance() && o.PriceUSD.IsPositive()
}

func (s *Service) notify(ctx context.Context, ev Event) {
	if s.notifier == nil {
		return
	}
	s.notifier.OrderChanged(ctx, ev)
}

// Get returns an order by ID.
func (s *Service) Get(ctx context.Context, id int64) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	return o, nil
}

// ListByAccount returns the newest orders of an account.
func (s *Service) ListByAccount(ctx context.Context, accountID int64, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	orders, err := s.orders.ListByAccount(ctx, accountID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

// ListOpen returns non-terminal orders, oldest first, for the staff queue.
func (s *Service) ListOpen(ctx context.Context, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	orders, err := s.orders.ListOpen(ctx, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list open orders")
	}
	return orders, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("error.kind", domain.KindOf(err).String()))
	}
	span.End()
}
