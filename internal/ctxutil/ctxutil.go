// Package ctxutil provides shared context key accessors.
//
// The server's auth middleware stores JWT claims on the request context,
// and both the HTTP handlers and the MCP tool handlers read them back.
// Keeping the keys here lets mcp stay independent of server internals.
package ctxutil

import (
	"context"

	"github.com/ashita-ai/keiro/internal/auth"
)

type contextKey string

const keyClaims contextKey = "claims"

// WithClaims returns a new context carrying the given claims.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, keyClaims, claims)
}

// ClaimsFromContext extracts the JWT claims from the context.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	if v, ok := ctx.Value(keyClaims).(*auth.Claims); ok {
		return v
	}
	return nil
}
