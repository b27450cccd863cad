package httpapi

import (
	"net/http"
	"time"

	"github.com/xenking/store-core/internal/domain/account"
)

type accountResponse struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username,omitempty"`
	FullName  string    `json:"full_name,omitempty"`
	Role      string    `json:"role"`
	Blocked   bool      `json:"blocked"`
	Balance   string    `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

func toAccount(a *account.Account) accountResponse {
	return accountResponse{
		ID:        a.ID,
		Username:  a.Username,
		FullName:  a.FullName,
		Role:      string(a.Role),
		Blocked:   a.Blocked,
		Balance:   fixed(a.Balance),
		CreatedAt: a.CreatedAt,
	}
}

type registerRequest struct {
	Username string `json:"username"`
	FullName string `json:"full_name"`
}

// registerAccount is called by the bot on every contact with a user.
func (s *Server) registerAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "accountID")
	if !ok {
		return
	}
	var req registerRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	a, err := s.accounts.Register(r.Context(), account.Profile{
		ID:       id,
		Username: req.Username,
		FullName: req.FullName,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccount(a))
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "accountID")
	if !ok {
		return
	}
	a, err := s.accounts.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccount(a))
}

type roleRequest struct {
	Role string `json:"role"`
}

func (s *Server) setRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "accountID")
	if !ok {
		return
	}
	var req roleRequest
	if !decode(w, r, &req) {
		return
	}
	a, err := s.accounts.SetRole(r.Context(), apiKeyFrom(r.Context()).ActorID, id, account.Role(req.Role))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccount(a))
}

type blockRequest struct {
	Blocked bool `json:"blocked"`
}

func (s *Server) setBlocked(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "accountID")
	if !ok {
		return
	}
	var req blockRequest
	if !decode(w, r, &req) {
		return
	}
	a, err := s.accounts.SetBlocked(r.Context(), apiKeyFrom(r.Context()).ActorID, id, req.Blocked)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccount(a))
}
