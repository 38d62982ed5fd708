package auth

import "context"

type contextKey struct{}

// WithClaims attaches a session's claims to the request context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, claims)
}

// FromContext returns the diary user named by the request's session token.
// Handlers use the username as the diary key; there is nothing else to read.
func FromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(contextKey{}).(*Claims)
	return claims, ok
}
