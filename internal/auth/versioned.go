package auth

import (
	"context"
	"fmt"
)

// VersionSource reports the current token version of a user.
type VersionSource interface {
	TokenVersion(ctx context.Context, userID int64) (int64, error)
}

// VersionedIdentity rejects tokens minted before the user's version was
// last bumped by a password change or deactivation.
type VersionedIdentity struct {
	next     IdentityProvider
	versions VersionSource
}

func NewVersionedIdentity(next IdentityProvider, versions VersionSource) *VersionedIdentity {
	return &VersionedIdentity{next: next, versions: versions}
}

func (v *VersionedIdentity) FetchIdentity(ctx context.Context, token string) (Principal, error) {
	p, err := v.next.FetchIdentity(ctx, token)
	if err != nil {
		return Principal{}, err
	}
	current, err := v.versions.TokenVersion(ctx, p.UserID)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if current != p.Version {
		return Principal{}, fmt.Errorf("%w: stale version", ErrInvalidToken)
	}
	return p, nil
}
