package handlers

import (
	"context"

	"github.com/CrowderSoup/devtrack/services"
)

type contextKey string

const claimsContextKey contextKey = "claims"

func ctxWithClaims(ctx context.Context, claims *services.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// ClaimsFromContext returns the session claims set by the auth middleware.
func ClaimsFromContext(ctx context.Context) (*services.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*services.Claims)
	return claims, ok && claims != nil
}
