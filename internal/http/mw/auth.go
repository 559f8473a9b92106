// Package mw contains HTTP middleware for the API.
package mw

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// ContextKey is a type for context keys.
type ContextKey string

// IdentityKey is the context key for the caller identity.
const IdentityKey ContextKey = "identity"

// SecurityScheme is the name of the security scheme used in OpenAPI.
const SecurityScheme = "bearerAuth"

// minKeyLength rejects trivially guessable API keys.
const minKeyLength = 16

// Identity is the resolved caller of an authenticated request. The service
// keeps no account records; the owner id is derived from the presented key,
// so the same key always maps to the same ledger and job history.
type Identity struct {
	OwnerID string
}

// OwnerIDFromKey derives the stable owner id for an API key.
func OwnerIDFromKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "own_" + hex.EncodeToString(sum[:16])
}

// extractBearer pulls the token out of an Authorization header value. A bare
// token without the Bearer prefix is accepted.
func extractBearer(header string) string {
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return header
}

// HumaAuth returns a Huma middleware that authenticates operations whose
// security requirements name the bearer scheme. Public operations pass
// through untouched.
func HumaAuth(api huma.API) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		op := ctx.Operation()
		if op == nil || !operationRequiresAuth(op) {
			next(ctx)
			return
		}

		authHeader := ctx.Header("Authorization")
		if authHeader == "" {
			huma.WriteErr(api, ctx, http.StatusUnauthorized, "missing authorization header")
			return
		}

		token := extractBearer(authHeader)
		if len(token) < minKeyLength {
			huma.WriteErr(api, ctx, http.StatusUnauthorized, "invalid API key")
			return
		}

		identity := &Identity{OwnerID: OwnerIDFromKey(token)}
		newCtx := context.WithValue(ctx.Context(), IdentityKey, identity)
		next(huma.WithContext(ctx, newCtx))
	}
}

// operationRequiresAuth checks if the operation has bearerAuth in its
// security requirements.
func operationRequiresAuth(op *huma.Operation) bool {
	for _, secReq := range op.Security {
		if _, ok := secReq[SecurityScheme]; ok {
			return true
		}
	}
	return false
}

// GetIdentity retrieves the caller identity from context.
func GetIdentity(ctx context.Context) *Identity {
	identity, ok := ctx.Value(IdentityKey).(*Identity)
	if !ok {
		return nil
	}
	return identity
}

// GetOwnerID retrieves the caller's owner id, or "" when unauthenticated.
func GetOwnerID(ctx context.Context) string {
	identity := GetIdentity(ctx)
	if identity == nil {
		return ""
	}
	return identity.OwnerID
}
