package httpapi

import (
	"net/http"
	"time"

	"github.com/xenking/store-core/internal/domain/order"
)

type orderResponse struct {
	ID              int64     `json:"id"`
	AccountID       int64     `json:"account_id"`
	ProductID       int64     `json:"product_id"`
	ProductName     string    `json:"product_name"`
	TargetID        string    `json:"target_id"`
	Status          string    `json:"status"`
	ExecutionType   string    `json:"execution_type"`
	BasePriceUSD    string    `json:"base_price_usd"`
	DiscountUSD     string    `json:"discount_usd"`
	PriceUSD        string    `json:"price_usd"`
	ExchangeRate    string    `json:"exchange_rate"`
	PriceLocal      string    `json:"price_local"`
	CouponCode      string    `json:"coupon_code,omitempty"`
	PaymentMethodID *int64    `json:"payment_method_id,omitempty"`
	OperatorID      *int64    `json:"operator_id,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toOrder(o *order.Order) orderResponse {
	return orderResponse{
		ID:              o.ID,
		AccountID:       o.AccountID,
		ProductID:       o.ProductID,
		ProductName:     o.ProductName,
		TargetID:        o.TargetID,
		Status:          string(o.Status),
		ExecutionType:   string(o.ExecutionType),
		BasePriceUSD:    fixed(o.BasePriceUSD),
		DiscountUSD:     fixed(o.DiscountUSD),
		PriceUSD:        fixed(o.PriceUSD),
		ExchangeRate:    o.ExchangeRate.String(),
		PriceLocal:      fixed(o.PriceLocal),
		CouponCode:      o.CouponCode,
		PaymentMethodID: o.PaymentMethodID,
		OperatorID:      o.OperatorID,
		Notes:           o.Notes,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

func toOrders(orders []order.Order) []orderResponse {
	out := make([]orderResponse, len(orders))
	for i := range orders {
		out[i] = toOrder(&orders[i])
	}
	return out
}

type resultResponse struct {
	Order  orderResponse  `json:"order"`
	Refund *entryResponse `json:"refund,omitempty"`
}

func toResult(res *order.Result) resultResponse {
	out := resultResponse{Order: toOrder(res.Order)}
	if res.Refund != nil {
		e := toEntry(res.Refund)
		out.Refund = &e
	}
	return out
}

type createOrderRequest struct {
	AccountID       int64  `json:"account_id"`
	ProductID       int64  `json:"product_id"`
	TargetID        string `json:"target_id"`
	PaymentMethodID *int64 `json:"payment_method_id"`
	CouponCode      string `json:"coupon_code"`
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := s.orders.CreateOrder(r.Context(), order.CreateRequest{
		AccountID:       req.AccountID,
		ProductID:       req.ProductID,
		TargetID:        req.TargetID,
		PaymentMethodID: req.PaymentMethodID,
		CouponCode:      req.CouponCode,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrder(o))
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}
	o, err := s.orders.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(o))
}

func (s *Server) listAccountOrders(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "accountID")
	if !ok {
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	orders, err := s.orders.ListByAccount(r.Context(), id, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrders(orders))
}

func (s *Server) listOpenOrders(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	orders, err := s.orders.ListOpen(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrders(orders))
}

type finalizeRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

func (s *Server) finalizeOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}
	var req finalizeRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.orders.FinalizeOrder(r.Context(), order.FinalizeRequest{
		OrderID: id,
		Status:  order.Status(req.Status),
		ActorID: apiKeyFrom(r.Context()).ActorID,
		Notes:   req.Notes,
	})
	s.respondResult(w, r, res, err)
}

type notesRequest struct {
	Notes string `json:"notes"`
}

// decodeNotes accepts an empty body.
func decodeNotes(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.ContentLength == 0 {
		return "", true
	}
	var req notesRequest
	if !decode(w, r, &req) {
		return "", false
	}
	return req.Notes, true
}

func (s *Server) approvePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}
	res, err := s.orders.ApprovePayment(r.Context(), id, apiKeyFrom(r.Context()).ActorID)
	s.respondResult(w, r, res, err)
}

func (s *Server) rejectPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}
	notes, ok := decodeNotes(w, r)
	if !ok {
		return
	}
	res, err := s.orders.RejectPayment(r.Context(), id, apiKeyFrom(r.Context()).ActorID, notes)
	s.respondResult(w, r, res, err)
}

func (s *Server) sendToReview(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}
	notes, ok := decodeNotes(w, r)
	if !ok {
		return
	}
	res, err := s.orders.SendToReview(r.Context(), id, apiKeyFrom(r.Context()).ActorID, notes)
	s.respondResult(w, r, res, err)
}

func (s *Server) startExecution(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}
	res, err := s.orders.StartExecution(r.Context(), id, apiKeyFrom(r.Context()).ActorID)
	s.respondResult(w, r, res, err)
}

func (s *Server) respondResult(w http.ResponseWriter, r *http.Request, res *order.Result, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResult(res))
}

