package middleware

import (
	"context"
	"net/http"
	"slices"
)

type principalKey struct{}

// Principal is the caller resolved from a bearer key.
type Principal struct {
	OwnerID   string
	KeyPrefix string
	Scopes    []string
}

// HasScope reports whether the key was granted scope.
func (p Principal) HasScope(scope string) bool {
	return slices.Contains(p.Scopes, scope)
}

// WithPrincipal stores p on ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the caller authenticated for r, if any.
func PrincipalFrom(r *http.Request) (Principal, bool) {
	p, ok := r.Context().Value(principalKey{}).(Principal)
	return p, ok
}

// SetOwnerID stores a principal that carries only an owner id.
func SetOwnerID(ctx context.Context, ownerID string) context.Context {
	return WithPrincipal(ctx, Principal{OwnerID: ownerID})
}

// GetOwnerID returns the authenticated owner. It reports false for
// unauthenticated requests and for an empty owner id.
func GetOwnerID(r *http.Request) (string, bool) {
	p, ok := PrincipalFrom(r)
	return p.OwnerID, ok && p.OwnerID != ""
}
