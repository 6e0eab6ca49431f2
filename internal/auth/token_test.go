package auth

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/config"
)

type memRefreshStore struct {
	mu       sync.Mutex
	sessions map[string]RefreshSession
}

func newMemRefreshStore() *memRefreshStore {
	return &memRefreshStore{sessions: map[string]RefreshSession{}}
}

func (m *memRefreshStore) Save(ctx context.Context, s *RefreshSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = int64(len(m.sessions) + 1)
	m.sessions[s.TokenHash] = *s
	return nil
}

func (m *memRefreshStore) Get(ctx context.Context, h string) (*RefreshSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[h]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &s, nil
}

func (m *memRefreshStore) Delete(ctx context.Context, h string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, h)
	return nil
}

func newTokenService(store RefreshStore) *TokenService {
	return NewTokenService(config.Auth{Secret: "test-secret", Issuer: "library-test", TokenTTL: time.Hour}, store)
}

func TestIssueAndVerify(t *testing.T) {
	svc := newTokenService(nil)
	ctx := context.Background()

	tokens, err := svc.Issue(ctx, Principal{UserID: 42, UserType: "faculty", Version: 3})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", tokens.TokenType)
	assert.Equal(t, int64(3600), tokens.ExpiresIn)
	assert.Empty(t, tokens.RefreshToken)

	p, err := svc.FetchIdentity(ctx, tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, Principal{UserID: 42, UserType: "faculty", Version: 3}, p)
	assert.False(t, p.IsAdmin())
}

func TestVerifyRejects(t *testing.T) {
	svc := newTokenService(nil)
	ctx := context.Background()
	tokens, err := svc.Issue(ctx, Principal{UserID: 1, UserType: "admin"})
	require.NoError(t, err)

	other := NewTokenService(config.Auth{Secret: "other", Issuer: "library-test"}, nil)
	_, err = other.FetchIdentity(ctx, tokens.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.FetchIdentity(ctx, "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	svc.Clock = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = svc.FetchIdentity(ctx, tokens.AccessToken)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestRefreshRotates(t *testing.T) {
	store := newMemRefreshStore()
	svc := newTokenService(store)
	ctx := context.Background()

	first, err := svc.Issue(ctx, Principal{UserID: 7, UserType: "student", Version: 1})
	require.NoError(t, err)
	require.NotEmpty(t, first.RefreshToken)
	assert.Len(t, store.sessions, 1)
	for h := range store.sessions {
		assert.NotEqual(t, first.RefreshToken, h)
	}

	second, err := svc.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	_, err = svc.Refresh(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	require.NoError(t, svc.Revoke(ctx, second.RefreshToken))
	_, err = svc.Refresh(ctx, second.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshExpired(t *testing.T) {
	store := newMemRefreshStore()
	svc := newTokenService(store)
	ctx := context.Background()
	tokens, err := svc.Issue(ctx, Principal{UserID: 7})
	require.NoError(t, err)

	svc.Clock = func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }
	_, err = svc.Refresh(ctx, tokens.RefreshToken)
	assert.ErrorIs(t, err, ErrExpiredToken)
}
