package order_test

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xenking/store-core/internal/domain"
	"github.com/xenking/store-core/internal/domain/account"
	"github.com/xenking/store-core/internal/domain/audit"
	"github.com/xenking/store-core/internal/domain/coupon"
	"github.com/xenking/store-core/internal/domain/ledger"
	"github.com/xenking/store-core/internal/domain/order"
	"github.com/xenking/store-core/internal/domain/payment"
	"github.com/xenking/store-core/internal/domain/product"
	"github.com/xenking/store-core/internal/domain/settings"
	"github.com/xenking/store-core/internal/metrics"
	"github.com/xenking/store-core/internal/storage/memory"
)

const (
	userID     int64 = 100
	operatorID int64 = 900
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []order.Event
}

func (n *recordingNotifier) OrderChanged(_ context.Context, ev order.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) Events() []order.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]order.Event(nil), n.events...)
}

type fixture struct {
	deps     order.Deps
	store    *memory.Store
	ledger   *ledger.Ledger
	settings *settings.Service
	svc      *order.Service
	notifier *recordingNotifier
	product  product.Product
	card     payment.Method
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newMeteredFixture(t, nil)
}

func newMeteredFixture(t *testing.T, m *metrics.Metrics) *fixture {
	t.Helper()
	ctx := context.Background()
	s := memory.New()

	require.NoError(t, s.Accounts().Ensure(ctx, &account.Account{ID: userID, Username: "buyer"}))
	require.NoError(t, s.Accounts().Ensure(ctx, &account.Account{ID: operatorID, Username: "op", Role: account.RoleOperator}))

	f := &fixture{
		store:    s,
		ledger:   ledger.New(s, s.Ledger(), s.Audit(), m),
		settings: settings.NewService(s, s.Settings(), s.Audit()),
		notifier: &recordingNotifier{},
		product: product.Product{
			Name:     "60 UC",
			Category: "PUBG",
			PriceUSD: dec("10.00"),
			Type:     product.TypeManual,
			Active:   true,
		},
		card: payment.Method{Name: "Card transfer", Details: "8600 ...", Active: true},
	}
	require.NoError(t, s.Products().Upsert(ctx, &f.product))
	require.NoError(t, s.Payments().Upsert(ctx, &f.card))
	require.NoError(t, s.Settings().Set(ctx, settings.KeyStoreMode, string(settings.ModeAuto)))

	f.deps = order.Deps{
		Tx:       s,
		Accounts: s.Accounts(),
		Orders:   s.Orders(),
		Products: s.Products(),
		Payments: s.Payments(),
		Coupons:  coupon.NewRepoEngine(s.Coupons()),
		Ledger:   f.ledger,
		Settings: f.settings,
		Audit:    s.Audit(),
		Notifier: f.notifier,
		Metrics:  m,
	}
	f.svc = order.NewService(f.deps)
	return f
}

func (f *fixture) deposit(t *testing.T, accountID int64, amount string) {
	t.Helper()
	_, err := f.ledger.ApplyDelta(context.Background(), ledger.Delta{
		AccountID: accountID,
		Amount:    dec(amount),
		Kind:      ledger.KindDeposit,
		Reason:    "top up",
	})
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, accountID int64) decimal.Decimal {
	t.Helper()
	a, err := f.store.Accounts().Get(context.Background(), accountID)
	require.NoError(t, err)
	return a.Balance
}

func (f *fixture) entries(t *testing.T, accountID int64) []ledger.Entry {
	t.Helper()
	entries, err := f.ledger.History(context.Background(), accountID, 100)
	require.NoError(t, err)
	return entries
}

func (f *fixture) buy(req order.CreateRequest) (*order.Order, error) {
	if req.AccountID == 0 {
		req.AccountID = userID
	}
	if req.ProductID == 0 {
		req.ProductID = f.product.ID
	}
	if req.TargetID == "" {
		req.TargetID = "5123456789"
	}
	return f.svc.CreateOrder(context.Background(), req)
}

func (f *fixture) assertConsistent(t *testing.T, accountID int64) {
	t.Helper()
	rec, err := f.ledger.Reconcile(context.Background(), accountID)
	require.NoError(t, err)
	assert.True(t, rec.Consistent(), "balance %s != sum %s", rec.Balance, rec.Sum)
	assert.False(t, rec.Balance.IsNegative())
}

func TestCreateOrder_PaidFromBalance(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, userID, "10.00")

	o, err := f.buy(order.CreateRequest{})
	require.NoError(t, err)

	assert.Equal(t, order.StatusPaid, o.Status)
	assert.True(t, dec("10.00").Equal(o.PriceUSD))
	assert.True(t, dec("125000").Equal(o.PriceLocal), o.PriceLocal.String())
	assert.Equal(t, product.TypeManual, o.ExecutionType)
	assert.True(t, f.balance(t, userID).IsZero())

	entries := f.entries(t, userID)
	require.Len(t, entries, 2)
	purchase := entries[0]
	assert.Equal(t, ledger.KindPurchase, purchase.Kind)
	assert.True(t, dec("-10.00").Equal(purchase.Amount))
	require.NotNil(t, purchase.OrderID)
	assert.Equal(t, o.ID, *purchase.OrderID)
	f.assertConsistent(t, userID)

	events := f.notifier.Events()
	require.Len(t, events, 1)
	assert.Equal(t, order.StatusNew, events[0].Previous)
	assert.Equal(t, o.ID, events[0].Order.ID)
}

func TestFinalizeOrder_RefundsOnce(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, userID, "10.00")
	o, err := f.buy(order.CreateRequest{})
	require.NoError(t, err)
	ctx := context.Background()

	res, err := f.svc.FinalizeOrder(ctx, order.FinalizeRequest{OrderID: o.ID, Status: order.StatusFailed, ActorID: operatorID, Notes: "id not found"})
	require.NoError(t, err)
	assert.Equal(t, order.StatusFailed, res.Order.Status)
	require.NotNil(t, res.Refund)
	assert.Equal(t, ledger.KindRefund, res.Refund.Kind)
	assert.True(t, dec("10.00").Equal(res.Refund.Amount))
	assert.True(t, dec("10.00").Equal(f.balance(t, userID)))

	_, err = f.svc.FinalizeOrder(ctx, order.FinalizeRequest{OrderID: o.ID, Status: order.StatusCanceled, ActorID: operatorID})
	require.ErrorIs(t, err, order.ErrAlreadyFinalized)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
	assert.True(t, dec("10.00").Equal(f.balance(t, userID)))

	refunds := 0
	for _, e := range f.entries(t, userID) {
		if e.Kind == ledger.KindRefund {
			refunds++
		}
	}
	assert.Equal(t, 1, refunds)
	f.assertConsistent(t, userID)

	records, err := f.store.Audit().List(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, records)
	assert.Equal(t, audit.ActionFinalizeOrder, records[0].Action)
	assert.Equal(t, operatorID, records[0].ActorID)

	events := f.notifier.Events()
	require.Len(t, events, 2)
	assert.Equal(t, order.StatusPaid, events[1].Previous)
	assert.NotNil(t, events[1].Refund)
}

func TestFinalizeOrder_ConcurrentFinalizeRefundsOnce(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, userID, "10.00")
	o, err := f.buy(order.CreateRequest{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status := order.StatusFailed
			if i%2 == 0 {
				status = order.StatusCanceled
			}
			_, errs[i] = f.svc.FinalizeOrder(context.Background(), order.FinalizeRequest{OrderID: o.ID, Status: status, ActorID: operatorID})
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, order.ErrAlreadyFinalized)
	}
	assert.Equal(t, 1, succeeded)
	assert.True(t, dec("10.00").Equal(f.balance(t, userID)))
	f.assertConsistent(t, userID)
}

func TestCreateOrder_InsufficientFunds(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, userID, "3.00")
	f.product.PriceUSD = dec("5.00")
	require.NoError(t, f.store.Products().Upsert(context.Background(), &f.product))

	_, err := f.buy(order.CreateRequest{})

	var insufficient *ledger.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, dec("2.00").Equal(insufficient.Shortfall()))
	assert.Equal(t, domain.KindInsufficientFunds, domain.KindOf(err))

	assert.True(t, dec("3.00").Equal(f.balance(t, userID)))
	orders, err := f.svc.ListByAccount(context.Background(), userID, 0)
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Len(t, f.entries(t, userID), 1)
	assert.Empty(t, f.notifier.Events())
}

func TestCreateOrder_StoreGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.settings.Update(ctx, operatorID, settings.KeyStoreMode, string(settings.ModeMaintenance)))
	f.deposit(t, userID, "20.00")
	f.deposit(t, operatorID, "20.00")

	_, err := f.buy(order.CreateRequest{})
	var gate *settings.GateError
	require.ErrorAs(t, err, &gate)
	assert.Equal(t, settings.GateMaintenance, gate.Reason)
	assert.Equal(t, domain.KindStoreGate, domain.KindOf(err))
	assert.True(t, dec("20.00").Equal(f.balance(t, userID)))

	o, err := f.buy(order.CreateRequest{AccountID: operatorID})
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, o.Status)

	require.NoError(t, f.settings.Update(ctx, operatorID, settings.KeyStoreMode, string(settings.ModeAuto)))
	require.NoError(t, f.settings.Update(ctx, operatorID, settings.KeyEmergencyStop, "1"))
	_, err = f.buy(order.CreateRequest{})
	require.ErrorAs(t, err, &gate)
	assert.Equal(t, settings.GateEmergencyStop, gate.Reason)
}

func TestCreateOrder_OpenOrderExists(t *testing.T) {
	f := newFixture(t)
	first, err := f.buy(order.CreateRequest{PaymentMethodID: &f.card.ID})
	require.NoError(t, err)
	assert.Equal(t, order.StatusPendingPayment, first.Status)

	f.deposit(t, userID, "50.00")
	_, err = f.buy(order.CreateRequest{})
	require.ErrorIs(t, err, order.ErrOpenOrderExists)
	assert.True(t, dec("50.00").Equal(f.balance(t, userID)))

	_, err = f.svc.FinalizeOrder(context.Background(), order.FinalizeRequest{OrderID: first.ID, Status: order.StatusCanceled, ActorID: operatorID})
	require.NoError(t, err)
	_, err = f.buy(order.CreateRequest{})
	require.NoError(t, err)
}

func TestCreateOrder_ConcurrentSingleOpenOrder(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, userID, "100.00")

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.buy(order.CreateRequest{})
		}()
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
			continue
		}
		require.ErrorIs(t, err, order.ErrOpenOrderExists)
	}
	assert.Equal(t, 1, created)
	assert.True(t, dec("90.00").Equal(f.balance(t, userID)))
	f.assertConsistent(t, userID)
}

func TestCreateOrder_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, userID, "100.00")

	disabled := product.Product{Name: "Old", PriceUSD: dec("1.00"), Type: product.TypeDisabled, Active: true}
	require.NoError(t, f.store.Products().Upsert(ctx, &disabled))
	inactiveCard := payment.Method{Name: "Closed", Active: false}
	require.NoError(t, f.store.Payments().Upsert(ctx, &inactiveCard))
	missing := int64(4040)

	var unavailable *order.ProductUnavailableError

	_, err := f.buy(order.CreateRequest{ProductID: 9999})
	require.ErrorAs(t, err, &unavailable)

	_, err = f.buy(order.CreateRequest{ProductID: disabled.ID})
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "disabled", unavailable.Reason)

	_, err = f.buy(order.CreateRequest{TargetID: "   "})
	require.ErrorIs(t, err, order.ErrTargetRequired)

	_, err = f.buy(order.CreateRequest{PaymentMethodID: &inactiveCard.ID})
	require.ErrorIs(t, err, payment.ErrInactive)

	_, err = f.buy(order.CreateRequest{PaymentMethodID: &missing})
	require.ErrorIs(t, err, payment.ErrNotFound)

	_, err = f.buy(order.CreateRequest{AccountID: 31337})
	require.ErrorIs(t, err, account.ErrNotFound)

	require.NoError(t, f.store.Accounts().SetBlocked(ctx, userID, true))
	_, err = f.buy(order.CreateRequest{})
	require.ErrorIs(t, err, order.ErrAccountBlocked)

	assert.True(t, dec("100.00").Equal(f.balance(t, userID)))
	assert.Empty(t, f.notifier.Events())
}

func TestCreateOrder_Coupon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Coupons().Upsert(ctx, &coupon.Coupon{
		Code:    "save10",
		Type:    coupon.DiscountPercentage,
		Value:   dec("10"),
		MaxUses: 1,
		Active:  true,
	}))
	f.deposit(t, userID, "10.00")

	o, err := f.buy(order.CreateRequest{CouponCode: " Save10 "})
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", o.CouponCode)
	assert.True(t, dec("1.00").Equal(o.DiscountUSD))
	assert.True(t, dec("9.00").Equal(o.PriceUSD))
	assert.True(t, dec("1.00").Equal(f.balance(t, userID)))

	c, err := f.store.Coupons().FindByCode(ctx, "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, 1, c.UsedCount)
	usages, err := f.store.Coupons().Usages(ctx, "SAVE10")
	require.NoError(t, err)
	require.Len(t, usages, 1)
	assert.Equal(t, o.ID, usages[0].OrderID)

	// Refund returns the discounted price, not the base price.
	res, err := f.svc.FinalizeOrder(ctx, order.FinalizeRequest{OrderID: o.ID, Status: order.StatusCanceled, ActorID: operatorID})
	require.NoError(t, err)
	assert.True(t, dec("9.00").Equal(res.Refund.Amount))
	assert.True(t, dec("10.00").Equal(f.balance(t, userID)))

	// The cap is reached; a second order is rejected without side effects.
	_, err = f.buy(order.CreateRequest{CouponCode: "SAVE10"})
	var invalid *coupon.InvalidError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, coupon.ReasonExhausted, invalid.Reason)
	assert.True(t, dec("10.00").Equal(f.balance(t, userID)))
	f.assertConsistent(t, userID)
}

func TestCreateOrder_FullyDiscounted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Coupons().Upsert(ctx, &coupon.Coupon{
		Code: "FREE", Type: coupon.DiscountFixed, Value: dec("50"), MaxUses: 5, Active: true,
	}))

	o, err := f.buy(order.CreateRequest{CouponCode: "FREE"})
	require.NoError(t, err)
	assert.True(t, o.PriceUSD.IsZero())
	assert.Empty(t, f.entries(t, userID))

	res, err := f.svc.FinalizeOrder(ctx, order.FinalizeRequest{OrderID: o.ID, Status: order.StatusFailed, ActorID: operatorID})
	require.NoError(t, err)
	assert.Nil(t, res.Refund)
	assert.True(t, f.balance(t, userID).IsZero())
}

func TestExternalPayment_Lifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.buy(order.CreateRequest{PaymentMethodID: &f.card.ID})
	require.NoError(t, err)
	assert.Equal(t, order.StatusPendingPayment, o.Status)
	assert.Empty(t, f.entries(t, userID))

	_, err = f.svc.StartExecution(ctx, o.ID, operatorID)
	var transition *order.TransitionError
	require.ErrorAs(t, err, &transition)

	res, err := f.svc.ApprovePayment(ctx, o.ID, operatorID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, res.Order.Status)
	require.NotNil(t, res.Order.OperatorID)
	assert.Equal(t, operatorID, *res.Order.OperatorID)

	_, err = f.svc.RejectPayment(ctx, o.ID, operatorID, "late")
	require.ErrorAs(t, err, &transition)

	res, err = f.svc.FinalizeOrder(ctx, order.FinalizeRequest{OrderID: o.ID, Status: order.StatusCanceled, ActorID: operatorID})
	require.NoError(t, err)
	assert.Nil(t, res.Refund, "externally paid orders are never refunded to balance")
	assert.True(t, f.balance(t, userID).IsZero())
}

func TestRejectPayment(t *testing.T) {
	f := newFixture(t)
	o, err := f.buy(order.CreateRequest{PaymentMethodID: &f.card.ID})
	require.NoError(t, err)

	res, err := f.svc.RejectPayment(context.Background(), o.ID, operatorID, "receipt is fake")
	require.NoError(t, err)
	assert.Equal(t, order.StatusFailed, res.Order.Status)
	assert.Equal(t, "receipt is fake", res.Order.Notes)
	assert.Nil(t, res.Refund)
}

func TestFulfillmentFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, userID, "10.00")
	o, err := f.buy(order.CreateRequest{})
	require.NoError(t, err)

	_, err = f.svc.FinalizeOrder(ctx, order.FinalizeRequest{OrderID: o.ID, Status: order.StatusCompleted, ActorID: operatorID})
	var transition *order.TransitionError
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, order.StatusPaid, transition.From)

	_, err = f.svc.SendToReview(ctx, o.ID, operatorID, "check nickname")
	require.NoError(t, err)
	_, err = f.svc.StartExecution(ctx, o.ID, operatorID)
	require.NoError(t, err)
	res, err := f.svc.FinalizeOrder(ctx, order.FinalizeRequest{OrderID: o.ID, Status: order.StatusCompleted, ActorID: operatorID})
	require.NoError(t, err)
	assert.Equal(t, order.StatusCompleted, res.Order.Status)
	assert.Nil(t, res.Refund)
	assert.True(t, f.balance(t, userID).IsZero())

	open, err := f.svc.ListOpen(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestFinalizeOrder_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.FinalizeOrder(ctx, order.FinalizeRequest{OrderID: 1, Status: order.StatusPaid})
	require.ErrorIs(t, err, order.ErrInvalidFinalStatus)

	_, err = f.svc.FinalizeOrder(ctx, order.FinalizeRequest{OrderID: 12345, Status: order.StatusFailed})
	require.ErrorIs(t, err, order.ErrNotFound)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

type lostClaimEngine struct{ coupon.Engine }

func (lostClaimEngine) Redeem(_ context.Context, req coupon.RedeemRequest) (*coupon.UsageRecord, error) {
	return nil, &coupon.InvalidError{Code: req.Code, Reason: coupon.ReasonExhausted}
}

func counterTotal(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok && m.Name == name {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestLedgerMetrics_CountOnlyCommittedEntries(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	m, err := metrics.New(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)

	f := newMeteredFixture(t, m)
	ctx := context.Background()
	require.NoError(t, f.store.Coupons().Upsert(ctx, &coupon.Coupon{
		Code: "SAVE10", Type: coupon.DiscountPercentage, Value: dec("10"), MaxUses: 5, Active: true,
	}))
	f.deposit(t, userID, "10.00")
	require.EqualValues(t, 1, counterTotal(t, reader, "store.ledger.applied"))

	// The debit is rolled back together with the lost coupon claim.
	deps := f.deps
	deps.Coupons = lostClaimEngine{Engine: deps.Coupons}
	_, err = order.NewService(deps).CreateOrder(ctx, order.CreateRequest{
		AccountID: userID, ProductID: f.product.ID, TargetID: "5123456789", CouponCode: "SAVE10",
	})
	require.Error(t, err)
	assert.True(t, dec("10.00").Equal(f.balance(t, userID)))
	assert.EqualValues(t, 1, counterTotal(t, reader, "store.ledger.applied"))

	o, err := f.buy(order.CreateRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, counterTotal(t, reader, "store.ledger.applied"))

	_, err = f.svc.FinalizeOrder(ctx, order.FinalizeRequest{OrderID: o.ID, Status: order.StatusCanceled, ActorID: operatorID})
	require.NoError(t, err)
	assert.EqualValues(t, 3, counterTotal(t, reader, "store.ledger.applied"))

	_, err = f.buy(order.CreateRequest{})
	require.NoError(t, err)
	_, err = f.buy(order.CreateRequest{AccountID: operatorID})
	require.Error(t, err)
	assert.EqualValues(t, 1, counterTotal(t, reader, "store.ledger.rejected"))
}
