package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/store-core/internal/domain/account"
	"github.com/xenking/store-core/internal/domain/audit"
	"github.com/xenking/store-core/internal/domain/auth"
	"github.com/xenking/store-core/internal/domain/coupon"
	"github.com/xenking/store-core/internal/domain/ledger"
	"github.com/xenking/store-core/internal/domain/order"
	"github.com/xenking/store-core/internal/domain/product"
	"github.com/xenking/store-core/internal/domain/settings"
	"github.com/xenking/store-core/internal/httpapi"
	"github.com/xenking/store-core/internal/storage/memory"
	"github.com/xenking/store-core/pkg/httpmiddleware"
)

const (
	userID     int64 = 100
	operatorID int64 = 900

	adminKey  = "sk-admin"
	ordersKey = "sk-orders"
)

type fixture struct {
	store   *memory.Store
	handler http.Handler
	product product.Product
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := memory.New()

	require.NoError(t, s.Accounts().Ensure(ctx, &account.Account{ID: userID, Username: "buyer"}))
	require.NoError(t, s.Accounts().Ensure(ctx, &account.Account{ID: operatorID, Username: "op", Role: account.RoleOperator}))

	p := product.Product{Name: "60 UC", Category: "PUBG", PriceUSD: decimal.RequireFromString("10.00"), Type: product.TypeManual, Active: true}
	require.NoError(t, s.Products().Upsert(ctx, &p))
	require.NoError(t, s.Coupons().Upsert(ctx, &coupon.Coupon{
		Code: "SAVE10", Type: coupon.DiscountPercentage, Value: decimal.NewFromInt(10), MaxUses: 5, Active: true,
	}))
	require.NoError(t, s.Settings().Set(ctx, settings.KeyStoreMode, string(settings.ModeAuto)))

	authn := auth.NewAuthenticator(s.APIKeys(), []byte("pepper"))
	require.NoError(t, s.APIKeys().Create(ctx, &auth.APIKey{
		Name: "admin", KeyHash: authn.Hash(adminKey), ActorID: operatorID,
		Scopes: []string{auth.ScopeOrders, auth.ScopeLedger, auth.ScopeSettings, auth.ScopeAccounts},
	}))
	require.NoError(t, s.APIKeys().Create(ctx, &auth.APIKey{
		Name: "bot", KeyHash: authn.Hash(ordersKey), ActorID: operatorID,
		Scopes: []string{auth.ScopeOrders},
	}))

	l := ledger.New(s, s.Ledger(), s.Audit(), nil)
	settingsSvc := settings.NewService(s, s.Settings(), s.Audit())
	engine := coupon.NewRepoEngine(s.Coupons())
	orders := order.NewService(order.Deps{
		Tx:       s,
		Accounts: s.Accounts(),
		Orders:   s.Orders(),
		Products: s.Products(),
		Payments: s.Payments(),
		Coupons:  engine,
		Ledger:   l,
		Settings: settingsSvc,
		Audit:    s.Audit(),
	})
	srv := httpapi.New(httpapi.Deps{
		Orders:   orders,
		Ledger:   l,
		Accounts: account.NewService(s, s.Accounts(), s.Audit()),
		Coupons:  engine,
		Settings: settingsSvc,
		Auth:     authn,
	})
	return &fixture{store: s, handler: srv.Router(5 * time.Second), product: p}
}

func (f *fixture) do(t *testing.T, key, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if key != "" {
		req.Header.Set(httpmiddleware.HeaderAPIKey, key)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v), w.Body.String())
	return v
}

type orderBody struct {
	ID       int64  `json:"id"`
	Status   string `json:"status"`
	PriceUSD string `json:"price_usd"`
	Discount string `json:"discount_usd"`
}

type resultBody struct {
	Order  orderBody `json:"order"`
	Refund *struct {
		Amount string `json:"amount"`
		Kind   string `json:"kind"`
	} `json:"refund"`
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Shortfall string `json:"shortfall"`
	Reason    string `json:"reason"`
}

func (f *fixture) deposit(t *testing.T, amount string) {
	t.Helper()
	w := f.do(t, adminKey, http.MethodPost, fmt.Sprintf("/accounts/%d/ledger", userID),
		map[string]string{"amount": amount, "kind": "deposit", "reason": "top up"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func (f *fixture) create(t *testing.T, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	req := map[string]any{"account_id": userID, "product_id": f.product.ID, "target_id": "5123456789"}
	for k, v := range body {
		req[k] = v
	}
	return f.do(t, ordersKey, http.MethodPost, "/orders", req)
}

func TestAuth(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "", http.MethodGet, "/orders/open", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, "sk-unknown", http.MethodGet, "/orders/open", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, ordersKey, http.MethodGet, "/settings", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, ordersKey, http.MethodGet, "/orders/open", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOrderLifecycle(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, "15.00")

	w := f.create(t, map[string]any{"coupon_code": "save10"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decodeBody[orderBody](t, w)
	assert.Equal(t, string(order.StatusPaid), created.Status)
	assert.Equal(t, "9.00", created.PriceUSD)
	assert.Equal(t, "1.00", created.Discount)

	w = f.create(t, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "conflict", decodeBody[errorBody](t, w).Code)

	w = f.do(t, ordersKey, http.MethodPost, fmt.Sprintf("/orders/%d/finalize", created.ID),
		map[string]string{"status": "FAILED", "notes": "target offline"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decodeBody[resultBody](t, w)
	assert.Equal(t, "FAILED", res.Order.Status)
	require.NotNil(t, res.Refund)
	assert.Equal(t, "9.00", res.Refund.Amount)
	assert.Equal(t, "refund", res.Refund.Kind)

	w = f.do(t, ordersKey, http.MethodPost, fmt.Sprintf("/orders/%d/finalize", created.ID),
		map[string]string{"status": "CANCELED"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, adminKey, http.MethodGet, fmt.Sprintf("/accounts/%d/ledger/reconcile", userID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	rec := decodeBody[map[string]any](t, w)
	assert.Equal(t, "15.00", rec["balance"])
	assert.Equal(t, true, rec["consistent"])

	w = f.do(t, adminKey, http.MethodGet, fmt.Sprintf("/accounts/%d/ledger?limit=10", userID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]map[string]any](t, w), 3)
}

func TestFulfillmentFlow(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, "10.00")

	created := decodeBody[orderBody](t, f.create(t, nil))
	base := fmt.Sprintf("/orders/%d", created.ID)

	w := f.do(t, ordersKey, http.MethodPost, base+"/review", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "PENDING_REVIEW", decodeBody[resultBody](t, w).Order.Status)

	w = f.do(t, ordersKey, http.MethodPost, base+"/start", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, ordersKey, http.MethodPost, base+"/finalize", map[string]string{"status": "COMPLETED"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decodeBody[resultBody](t, w)
	assert.Equal(t, "COMPLETED", res.Order.Status)
	assert.Nil(t, res.Refund)

	w = f.do(t, ordersKey, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "COMPLETED", decodeBody[orderBody](t, w).Status)

	w = f.do(t, ordersKey, http.MethodGet, fmt.Sprintf("/accounts/%d/orders", userID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]orderBody](t, w), 1)
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t)

	t.Run("InsufficientFunds", func(t *testing.T) {
		f.deposit(t, "4.00")
		w := f.create(t, nil)
		assert.Equal(t, http.StatusPaymentRequired, w.Code)
		body := decodeBody[errorBody](t, w)
		assert.Equal(t, "insufficient_funds", body.Code)
		assert.Equal(t, "6.00", body.Shortfall)
	})
	t.Run("Validation", func(t *testing.T) {
		w := f.create(t, map[string]any{"target_id": " "})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, "validation", decodeBody[errorBody](t, w).Code)
	})
	t.Run("InvalidCoupon", func(t *testing.T) {
		w := f.create(t, map[string]any{"coupon_code": "NOPE"})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		body := decodeBody[errorBody](t, w)
		assert.Equal(t, "invalid_coupon", body.Code)
		assert.Equal(t, "not_found", body.Reason)
	})
	t.Run("NotFound", func(t *testing.T) {
		w := f.do(t, ordersKey, http.MethodGet, "/orders/424242", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
	t.Run("BadRequest", func(t *testing.T) {
		w := f.do(t, ordersKey, http.MethodGet, "/orders/abc", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = f.do(t, ordersKey, http.MethodPost, "/orders", map[string]any{"unknown": 1})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
	t.Run("StoreGate", func(t *testing.T) {
		w := f.do(t, adminKey, http.MethodPut, "/settings/"+settings.KeyEmergencyStop, map[string]string{"value": "1"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, true, decodeBody[map[string]any](t, w)["emergency_stop"])

		f.deposit(t, "10.00")
		w = f.create(t, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		body := decodeBody[errorBody](t, w)
		assert.Equal(t, "store_gate", body.Code)
		assert.Equal(t, string(settings.GateEmergencyStop), body.Reason)
	})
	t.Run("UnknownSetting", func(t *testing.T) {
		w := f.do(t, adminKey, http.MethodPut, "/settings/theme", map[string]string{"value": "dark"})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}

func TestCouponQuote(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, ordersKey, http.MethodGet, "/coupons/save10/quote?amount=25", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"code":"SAVE10","amount":"25.00","discount":"2.50","total":"22.50"}`, w.Body.String())

	w = f.do(t, ordersKey, http.MethodGet, "/coupons/save10/quote?amount=x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, err := f.store.Coupons().FindByCode(context.Background(), "SAVE10")
	require.NoError(t, err)
	assert.Zero(t, c.UsedCount, "quote must not redeem")
}

func TestLedgerAdjustment(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, adminKey, http.MethodPost, fmt.Sprintf("/accounts/%d/ledger", userID),
		map[string]string{"amount": "-1.00", "reason": "correction"})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)

	w = f.do(t, adminKey, http.MethodPost, fmt.Sprintf("/accounts/%d/ledger", userID),
		map[string]string{"amount": "2.50", "reason": "bonus"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	entry := decodeBody[map[string]any](t, w)
	assert.Equal(t, "admin_adjustment", entry["kind"])
	assert.Equal(t, "2.50", entry["balance_after"])
	assert.EqualValues(t, operatorID, entry["actor_id"])

	w = f.do(t, ordersKey, http.MethodPost, fmt.Sprintf("/accounts/%d/ledger", userID),
		map[string]string{"amount": "2.50"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAccountFirstContact(t *testing.T) {
	f := newFixture(t)
	const newcomer int64 = 555
	path := fmt.Sprintf("/accounts/%d", newcomer)

	w := f.do(t, ordersKey, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, ordersKey, http.MethodPut, path, map[string]string{"username": "@newcomer", "full_name": "New Comer"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	acct := decodeBody[map[string]any](t, w)
	assert.Equal(t, "newcomer", acct["username"])
	assert.Equal(t, "USER", acct["role"])
	assert.Equal(t, "0.00", acct["balance"])

	w = f.do(t, adminKey, http.MethodPost, path+"/ledger", map[string]string{"amount": "12.00", "kind": "deposit"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// A repeat contact refreshes the profile and keeps the balance.
	w = f.do(t, ordersKey, http.MethodPut, path, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "12.00", decodeBody[map[string]any](t, w)["balance"])

	w = f.do(t, ordersKey, http.MethodPost, "/orders",
		map[string]any{"account_id": newcomer, "product_id": f.product.ID, "target_id": "5123456789"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestAccountStaffChanges(t *testing.T) {
	f := newFixture(t)
	path := fmt.Sprintf("/accounts/%d", userID)

	w := f.do(t, ordersKey, http.MethodPost, path+"/block", map[string]bool{"blocked": true})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, adminKey, http.MethodPost, path+"/block", map[string]bool{"blocked": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decodeBody[map[string]any](t, w)["blocked"])

	f.deposit(t, "15.00")
	w = f.create(t, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, decodeBody[errorBody](t, w).Message, "blocked")

	w = f.do(t, adminKey, http.MethodPost, path+"/block", map[string]bool{"blocked": false})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = f.create(t, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = f.do(t, adminKey, http.MethodPost, path+"/role", map[string]string{"role": "SUPPORT"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "SUPPORT", decodeBody[map[string]any](t, w)["role"])

	w = f.do(t, adminKey, http.MethodPost, path+"/role", map[string]string{"role": "KING"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = f.do(t, adminKey, http.MethodPost, fmt.Sprintf("/accounts/%d/role", operatorID), map[string]string{"role": "USER"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	records, err := f.store.Audit().List(context.Background(), 10)
	require.NoError(t, err)
	var actions []string
	for _, r := range records {
		actions = append(actions, r.Action)
	}
	assert.Subset(t, actions, []string{audit.ActionBlockUser, audit.ActionUnblockUser, audit.ActionSetRole})
}
