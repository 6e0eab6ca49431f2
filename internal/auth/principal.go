// Package auth issues and verifies bearer tokens and resolves the calling
// user for HTTP handlers.
package auth

import "context"

const UserTypeAdmin = "admin"

// Principal is the authenticated caller.
type Principal struct {
	UserID   int64  `json:"user_id"`
	UserType string `json:"user_type"`
	Version  int64  `json:"version"`
}

func (p Principal) IsAdmin() bool { return p.UserType == UserTypeAdmin }

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal set by the middleware.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
