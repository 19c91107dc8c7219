// Package auth guards the admin surface with the static admin token.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"media_gateway/internal/utils"
)

// AdminKeyParam is the query parameter carrying the admin token
const AdminKeyParam = "admin_key"

var ErrUnauthorized = errors.New("Unauthorized")

// AdminGuard checks the admin token. Tokens are compared as SHA-256 digests
// in constant time, so neither content nor length leaks through timing.
type AdminGuard struct {
	digest []byte
}

// NewAdminGuard creates a guard for token. An empty token locks the admin
// surface entirely.
func NewAdminGuard(token string) *AdminGuard {
	if token == "" {
		return &AdminGuard{}
	}
	return &AdminGuard{digest: []byte(utils.HashString(token))}
}

// Check reports whether candidate is the admin token.
func (g *AdminGuard) Check(candidate string) bool {
	if g.digest == nil || candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare(g.digest, []byte(utils.HashString(candidate))) == 1
}

// Authorize validates the admin token of a request.
func (g *AdminGuard) Authorize(r *http.Request) error {
	if !g.Check(r.URL.Query().Get(AdminKeyParam)) {
		return ErrUnauthorized
	}
	return nil
}

// Middleware rejects requests without a valid admin token with 401.
func (g *AdminGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := g.Authorize(r); err != nil {
			utils.RespondWithError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}
