package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/store-core/internal/domain/ledger"
	"github.com/xenking/store-core/internal/domain/money"
)

type entryResponse struct {
	ID            int64     `json:"id"`
	AccountID     int64     `json:"account_id"`
	Amount        string    `json:"amount"`
	Kind          string    `json:"kind"`
	Reason        string    `json:"reason,omitempty"`
	OrderID       *int64    `json:"order_id,omitempty"`
	ActorID       *int64    `json:"actor_id,omitempty"`
	BalanceBefore string    `json:"balance_before"`
	BalanceAfter  string    `json:"balance_after"`
	CreatedAt     time.Time `json:"created_at"`
}

func toEntry(e *ledger.Entry) entryResponse {
	return entryResponse{
		ID:            e.ID,
		AccountID:     e.AccountID,
		Amount:        fixed(e.Amount),
		Kind:          string(e.Kind),
		Reason:        e.Reason,
		OrderID:       e.OrderID,
		ActorID:       e.ActorID,
		BalanceBefore: fixed(e.BalanceBefore),
		BalanceAfter:  fixed(e.BalanceAfter),
		CreatedAt:     e.CreatedAt,
	}
}

type deltaRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Kind   string          `json:"kind"`
	Reason string          `json:"reason"`
}

// applyDelta credits or debits an account on behalf of the key's actor.
func (s *Server) applyDelta(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "accountID")
	if !ok {
		return
	}
	var req deltaRequest
	if !decode(w, r, &req) {
		return
	}
	kind := ledger.Kind(req.Kind)
	if req.Kind == "" {
		kind = ledger.KindAdminAdjustment
	}
	actor := apiKeyFrom(r.Context()).ActorID
	entry, err := s.ledger.ApplyDelta(r.Context(), ledger.Delta{
		AccountID: id,
		Amount:    req.Amount,
		Kind:      kind,
		Reason:    req.Reason,
		ActorID:   &actor,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntry(entry))
}

func (s *Server) ledgerHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "accountID")
	if !ok {
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	entries, err := s.ledger.History(r.Context(), id, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]entryResponse, len(entries))
	for i := range entries {
		out[i] = toEntry(&entries[i])
	}
	writeJSON(w, http.StatusOK, out)
}

type reconcileResponse struct {
	AccountID  int64  `json:"account_id"`
	Balance    string `json:"balance"`
	Sum        string `json:"sum"`
	Consistent bool   `json:"consistent"`
}

func (s *Server) reconcile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "accountID")
	if !ok {
		return
	}
	rec, err := s.ledger.Reconcile(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reconcileResponse{
		AccountID:  rec.AccountID,
		Balance:    fixed(rec.Balance),
		Sum:        fixed(rec.Sum),
		Consistent: rec.Consistent(),
	})
}

type quoteResponse struct {
	Code     string `json:"code"`
	Amount   string `json:"amount"`
	Discount string `json:"discount"`
	Total    string `json:"total"`
}

// quoteCoupon previews a discount without redeeming the coupon.
func (s *Server) quoteCoupon(w http.ResponseWriter, r *http.Request) {
	amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
	if err != nil || amount.IsNegative() {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid amount")
		return
	}
	d, err := s.coupons.Validate(r.Context(), chi.URLParam(r, "code"), amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quoteResponse{
		Code:     d.Code,
		Amount:   fixed(amount),
		Discount: fixed(d.Amount),
		Total:    fixed(money.FloorZero(amount.Sub(d.Amount))),
	})
}

type settingsResponse struct {
	Mode               string `json:"store_mode"`
	EmergencyStop      bool   `json:"emergency_stop"`
	ExchangeRate       string `json:"dollar_rate"`
	MaintenanceMessage string `json:"maintenance_message"`
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	snap, err := s.settings.Snapshot(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settingsResponse{
		Mode:               string(snap.Mode),
		EmergencyStop:      snap.EmergencyStop,
		ExchangeRate:       snap.ExchangeRate.String(),
		MaintenanceMessage: snap.MaintenanceMessage,
	})
}

type settingRequest struct {
	Value string `json:"value"`
}

func (s *Server) updateSetting(w http.ResponseWriter, r *http.Request) {
	var req settingRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.settings.Update(r.Context(), apiKeyFrom(r.Context()).ActorID, chi.URLParam(r, "key"), req.Value); err != nil {
		s.fail(w, r, err)
		return
	}
	s.getSettings(w, r)
}
