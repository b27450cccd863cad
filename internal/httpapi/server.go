// Package httpapi exposes the store core to the bot front end and staff
// tools over a JSON HTTP API.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/store-core/internal/domain"
	"github.com/xenking/store-core/internal/domain/account"
	"github.com/xenking/store-core/internal/domain/auth"
	"github.com/xenking/store-core/internal/domain/coupon"
	"github.com/xenking/store-core/internal/domain/ledger"
	"github.com/xenking/store-core/internal/domain/order"
	"github.com/xenking/store-core/internal/domain/settings"
	"github.com/xenking/store-core/pkg/httpmiddleware"
)

// Orders is the order lifecycle used by the API.
type Orders interface {
	CreateOrder(ctx context.Context, req order.CreateRequest) (*order.Order, error)
	FinalizeOrder(ctx context.Context, req order.FinalizeRequest) (*order.Result, error)
	ApprovePayment(ctx context.Context, orderID, actorID int64) (*order.Result, error)
	RejectPayment(ctx context.Context, orderID, actorID int64, notes string) (*order.Result, error)
	SendToReview(ctx context.Context, orderID, actorID int64, notes string) (*order.Result, error)
	StartExecution(ctx context.Context, orderID, actorID int64) (*order.Result, error)
	Get(ctx context.Context, id int64) (*order.Order, error)
	ListByAccount(ctx context.Context, accountID int64, limit int) ([]order.Order, error)
	ListOpen(ctx context.Context, limit int) ([]order.Order, error)
}

// Ledger is the balance ledger used by the API.
type Ledger interface {
	ApplyDelta(ctx context.Context, d ledger.Delta) (*ledger.Entry, error)
	History(ctx context.Context, accountID int64, limit int) ([]ledger.Entry, error)
	Reconcile(ctx context.Context, accountID int64) (*ledger.Reconciliation, error)
}

// Settings reads and updates store settings.
type Settings interface {
	Snapshot(ctx context.Context) (*settings.Snapshot, error)
	Update(ctx context.Context, actorID int64, key, value string) error
}

// Accounts registers customers and applies staff changes to accounts.
type Accounts interface {
	Register(ctx context.Context, p account.Profile) (*account.Account, error)
	Get(ctx context.Context, id int64) (*account.Account, error)
	SetRole(ctx context.Context, actorID, id int64, role account.Role) (*account.Account, error)
	SetBlocked(ctx context.Context, actorID, id int64, blocked bool) (*account.Account, error)
}

// Authenticator resolves raw API keys.
type Authenticator interface {
	Authenticate(ctx context.Context, key string) (*auth.APIKey, error)
}

// Deps are the services behind the API.
type Deps struct {
	Orders   Orders
	Ledger   Ledger
	Accounts Accounts
	Coupons  coupon.Engine
	Settings Settings
	Auth     Authenticator
}

// Server routes API requests to the domain services.
type Server struct {
	orders   Orders
	ledger   Ledger
	accounts Accounts
	coupons  coupon.Engine
	settings Settings
	auth     Authenticator
}

// New creates a Server.
func New(d Deps) *Server {
	return &Server{
		orders:   d.Orders,
		ledger:   d.Ledger,
		accounts: d.Accounts,
		coupons:  d.Coupons,
		settings: d.Settings,
		auth:     d.Auth,
	}
}

// Router returns the API routes. Every route requires an API key with the
// scope of its group.
func (s *Server) Router(timeout time.Duration) chi.Router {
	r := chi.NewRouter()
	if timeout > 0 {
		r.Use(middleware.Timeout(timeout))
	}
	r.Use(s.authenticate)

	r.Group(func(r chi.Router) {
		r.Use(requireScope(auth.ScopeOrders))
		r.Put("/accounts/{accountID}", s.registerAccount)
		r.Get("/accounts/{accountID}", s.getAccount)
		r.Post("/orders", s.createOrder)
		r.Get("/orders/open", s.listOpenOrders)
		r.Get("/orders/{orderID}", s.getOrder)
		r.Post("/orders/{orderID}/finalize", s.finalizeOrder)
		r.Post("/orders/{orderID}/approve-payment", s.approvePayment)
		r.Post("/orders/{orderID}/reject-payment", s.rejectPayment)
		r.Post("/orders/{orderID}/review", s.sendToReview)
		r.Post("/orders/{orderID}/start", s.startExecution)
		r.Get("/accounts/{accountID}/orders", s.listAccountOrders)
		r.Get("/coupons/{code}/quote", s.quoteCoupon)
	})
	r.Group(func(r chi.Router) {
		r.Use(requireScope(auth.ScopeLedger))
		r.Post("/accounts/{accountID}/ledger", s.applyDelta)
		r.Get("/accounts/{accountID}/ledger", s.ledgerHistory)
		r.Get("/accounts/{accountID}/ledger/reconcile", s.reconcile)
	})
	r.Group(func(r chi.Router) {
		r.Use(requireScope(auth.ScopeAccounts))
		r.Post("/accounts/{accountID}/role", s.setRole)
		r.Post("/accounts/{accountID}/block", s.setBlocked)
	})
	r.Group(func(r chi.Router) {
		r.Use(requireScope(auth.ScopeSettings))
		r.Get("/settings", s.getSettings)
		r.Put("/settings/{key}", s.updateSetting)
	})
	return r
}

type keyCtx struct{}

func apiKeyFrom(ctx context.Context) *auth.APIKey {
	k, _ := ctx.Value(keyCtx{}).(*auth.APIKey)
	return k
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, err := s.auth.Authenticate(r.Context(), r.Header.Get(httpmiddleware.HeaderAPIKey))
		if err != nil {
			if errors.Is(err, auth.ErrUnauthorized) {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid API key")
				return
			}
			s.fail(w, r, err)
			return
		}
		ctx := zctx.With(r.Context(), zap.Int64("actor_id", key.ActorID), zap.String("api_key", key.Name))
		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, keyCtx{}, key)))
	})
}

func requireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if k := apiKeyFrom(r.Context()); k == nil || !k.HasScope(scope) {
				writeError(w, http.StatusForbidden, "forbidden", "API key lacks scope "+scope)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type errorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Shortfall string `json:"shortfall,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// fail maps a domain error to its HTTP response.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{Message: err.Error()}
	var status int

	switch kind := domain.KindOf(err); kind {
	case domain.KindValidation:
		status = http.StatusUnprocessableEntity
		resp.Code = kind.String()
		if errors.Is(err, order.ErrNotFound) || errors.Is(err, account.ErrNotFound) {
			status = http.StatusNotFound
			resp.Code = "not_found"
		}
		var invalid *coupon.InvalidError
		if errors.As(err, &invalid) {
			resp.Code = "invalid_coupon"
			resp.Reason = string(invalid.Reason)
		}
	case domain.KindInsufficientFunds:
		status = http.StatusPaymentRequired
		resp.Code = kind.String()
		var funds *ledger.InsufficientFundsError
		if errors.As(err, &funds) {
			resp.Shortfall = funds.Shortfall().StringFixed(2)
		}
	case domain.KindConflict:
		status = http.StatusConflict
		resp.Code = kind.String()
	case domain.KindStoreGate:
		status = http.StatusServiceUnavailable
		resp.Code = kind.String()
		var gate *settings.GateError
		if errors.As(err, &gate) {
			resp.Reason = string(gate.Reason)
			if gate.Message != "" {
				resp.Message = gate.Message
			}
		}
	default:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		status = http.StatusInternalServerError
		resp = errorResponse{Code: "internal", Message: "internal server error"}
	}
	writeJSON(w, status, resp)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid "+name)
		return 0, false
	}
	return id, true
}

// MaxListLimit caps the limit query parameter of list endpoints.
const MaxListLimit = 500

// queryLimit returns the limit query parameter clamped to MaxListLimit, or 0
// to use the default.
func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid limit")
		return 0, false
	}
	return min(n, MaxListLimit), true
}

func fixed(d decimal.Decimal) string { return d.StringFixed(2) }
