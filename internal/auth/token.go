package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/config"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// IdentityProvider resolves a bearer token to a principal. The local
// TokenService is the default; an external provider can replace it.
type IdentityProvider interface {
	FetchIdentity(ctx context.Context, token string) (Principal, error)
}

// RefreshSession is a persisted refresh token. Only the token hash is stored.
type RefreshSession struct {
	ID        int64     `db:"id"`
	TokenHash string    `db:"token_hash"`
	UserID    int64     `db:"user_id"`
	UserType  string    `db:"user_type"`
	Version   int64     `db:"version"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}

// RefreshStore persists refresh sessions. Get returns sql.ErrNoRows when missing.
type RefreshStore interface {
	Save(ctx context.Context, s *RefreshSession) error
	Get(ctx context.Context, tokenHash string) (*RefreshSession, error)
	Delete(ctx context.Context, tokenHash string) error
}

type accessClaims struct {
	UserType string `json:"user_type"`
	Version  int64  `json:"v"`
	jwt.RegisteredClaims
}

// Tokens is the login response.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// TokenService signs HS256 access tokens and manages refresh sessions.
type TokenService struct {
	secret     []byte
	issuer     string
	ttl        time.Duration
	refreshTTL time.Duration
	refresh    RefreshStore

	Clock func() time.Time
}

func NewTokenService(cfg config.Auth, refresh RefreshStore) *TokenService {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenService{
		secret:     []byte(cfg.Secret),
		issuer:     cfg.Issuer,
		ttl:        ttl,
		refreshTTL: 30 * 24 * time.Hour,
		refresh:    refresh,
		Clock:      time.Now,
	}
}

// Issue signs an access token and, when a refresh store is configured,
// creates a refresh session.
func (s *TokenService) Issue(ctx context.Context, p Principal) (*Tokens, error) {
	now := s.Clock()
	claims := accessClaims{
		UserType: p.UserType,
		Version:  p.Version,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   strconv.FormatInt(p.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	out := &Tokens{AccessToken: signed, TokenType: "Bearer", ExpiresIn: int64(s.ttl.Seconds())}
	if s.refresh == nil {
		return out, nil
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	token := base64.RawURLEncoding.EncodeToString(raw)
	sess := &RefreshSession{
		TokenHash: hashToken(token),
		UserID:    p.UserID,
		UserType:  p.UserType,
		Version:   p.Version,
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
	}
	if err := s.refresh.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("save refresh session: %w", err)
	}
	out.RefreshToken = token
	return out, nil
}

// FetchIdentity verifies a signed access token.
func (s *TokenService) FetchIdentity(ctx context.Context, token string) (Principal, error) {
	var claims accessClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.Clock),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, ErrExpiredToken
		}
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return Principal{}, ErrInvalidToken
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	return Principal{UserID: id, UserType: claims.UserType, Version: claims.Version}, nil
}

// Refresh rotates a refresh token: the old session is deleted and a new
// token pair issued.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	if s.refresh == nil || refreshToken == "" {
		return nil, ErrInvalidToken
	}
	h := hashToken(refreshToken)
	sess, err := s.refresh.Get(ctx, h)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if err := s.refresh.Delete(ctx, h); err != nil {
		return nil, fmt.Errorf("delete refresh session: %w", err)
	}
	if sess.ExpiresAt.Before(s.Clock()) {
		return nil, ErrExpiredToken
	}
	return s.Issue(ctx, Principal{UserID: sess.UserID, UserType: sess.UserType, Version: sess.Version})
}

// Revoke deletes a refresh session. Unknown tokens are ignored.
func (s *TokenService) Revoke(ctx context.Context, refreshToken string) error {
	if s.refresh == nil || refreshToken == "" {
		return nil
	}
	return s.refresh.Delete(ctx, hashToken(refreshToken))
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
