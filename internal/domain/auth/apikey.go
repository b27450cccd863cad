// Package auth authenticates staff tools calling the admin API.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"slices"
	"time"

	"github.com/go-faster/errors"
)

// Scopes granted to API keys.
const (
	ScopeOrders   = "orders"
	ScopeLedger   = "ledger"
	ScopeSettings = "settings"
	ScopeAccounts = "accounts"
)

var (
	// ErrNotFound is returned by repositories for an unknown hash.
	ErrNotFound = errors.New("api key not found")
	// ErrUnauthorized is returned for a missing or unknown key.
	ErrUnauthorized = errors.New("unauthorized")
)

// APIKey is a stored key. Only the HMAC of the secret is kept. ActorID is the
// staff account that actions taken with the key are attributed to.
type APIKey struct {
	ID        int64
	Name      string
	KeyHash   string
	ActorID   int64
	Scopes    []string
	CreatedAt time.Time
}

// HasScope reports whether the key grants scope.
func (k *APIKey) HasScope(scope string) bool {
	return slices.Contains(k.Scopes, scope)
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKey, error)
	Create(ctx context.Context, k *APIKey) error
}

// Authenticator resolves raw API keys to stored keys.
type Authenticator struct {
	keys   Repository
	pepper []byte
}

// NewAuthenticator creates an Authenticator hashing keys with pepper.
func NewAuthenticator(keys Repository, pepper []byte) *Authenticator {
	return &Authenticator{keys: keys, pepper: pepper}
}

// Hash returns the hex HMAC-SHA256 of key.
func (a *Authenticator) Hash(key string) string {
	return hex.EncodeToString(a.mac(key))
}

func (a *Authenticator) mac(key string) []byte {
	m := hmac.New(sha256.New, a.pepper)
	m.Write([]byte(key))
	return m.Sum(nil)
}

// Authenticate looks up key and compares the stored hash in constant time.
func (a *Authenticator) Authenticate(ctx context.Context, key string) (*APIKey, error) {
	if key == "" {
		return nil, ErrUnauthorized
	}
	sum := a.mac(key)

	k, err := a.keys.FindByHash(ctx, hex.EncodeToString(sum))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, errors.Wrap(err, "find api key")
	}

	stored, err := hex.DecodeString(k.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(sum, stored) != 1 {
		return nil, ErrUnauthorized
	}
	return k, nil
}
