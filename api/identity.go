/*
identity.go - Actor resolution middleware

PURPOSE:
  Resolves WHO is calling before handlers run. The engine trusts the
  resolved identity completely and performs no authentication itself, so
  this middleware is the only place identity enters the system.

MODES:
  JWT (production): when a signing secret is configured, requests carry
  a Bearer token whose claims name the actor, role, and employee. HS256
  only; any other algorithm is rejected.

  Header (development): without a secret, identity comes from the
  X-Actor-ID / X-Actor-Role / X-Employee-ID headers. Tests use this mode.
*/
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/leave-engine/engine"
)

// Identity is the resolved caller.
type Identity struct {
	ActorID    engine.ActorID
	Role       engine.Role
	EmployeeID engine.EmployeeID
}

type identityKey struct{}

func identityFrom(ctx context.Context) (Identity, bool) {
	ident, ok := ctx.Value(identityKey{}).(Identity)
	return ident, ok
}

// WithIdentity injects an identity directly, for tests.
func WithIdentity(ctx context.Context, ident Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, ident)
}

// IdentityMiddleware resolves the caller from a JWT when secret is
// non-empty, from headers otherwise. Requests with no resolvable
// identity still pass through; handlers that need identity reject them.
func IdentityMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var ident Identity
			var ok bool
			if secret != "" {
				ident, ok = fromToken(r, secret)
				if !ok {
					writeError(w, http.StatusUnauthorized, "Invalid or missing token", nil)
					return
				}
			} else {
				ident, ok = fromHeaders(r)
			}
			if ok {
				r = r.WithContext(WithIdentity(r.Context(), ident))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func fromToken(r *http.Request, secret string) (Identity, bool) {
	auth := r.Header.Get("Authorization")
	raw, found := strings.CutPrefix(auth, "Bearer ")
	if !found {
		return Identity{}, false
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return Identity{}, false
	}

	ident := Identity{
		ActorID:    engine.ActorID(claimString(claims, "sub")),
		Role:       engine.Role(claimString(claims, "role")),
		EmployeeID: engine.EmployeeID(claimString(claims, "employee_id")),
	}
	// An employee acting for themselves may omit employee_id.
	if ident.EmployeeID == "" && ident.Role == engine.RoleEmployee {
		ident.EmployeeID = engine.EmployeeID(ident.ActorID)
	}
	return ident, ident.ActorID != "" && ident.Role != ""
}

func claimString(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

func fromHeaders(r *http.Request) (Identity, bool) {
	ident := Identity{
		ActorID:    engine.ActorID(r.Header.Get("X-Actor-ID")),
		Role:       engine.Role(r.Header.Get("X-Actor-Role")),
		EmployeeID: engine.EmployeeID(r.Header.Get("X-Employee-ID")),
	}
	if ident.EmployeeID == "" && ident.Role == engine.RoleEmployee {
		ident.EmployeeID = engine.EmployeeID(ident.ActorID)
	}
	return ident, ident.ActorID != "" && ident.Role != ""
}

// NewToken issues an HS256 token for the identity, used by seed tooling
// and tests.
func NewToken(secret string, ident Identity) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":         string(ident.ActorID),
		"role":        string(ident.Role),
		"employee_id": string(ident.EmployeeID),
	})
	return token.SignedString([]byte(secret))
}
