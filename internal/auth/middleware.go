package auth

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-library-go/pkg/utilities"
)

// Middleware authenticates requests through an IdentityProvider.
type Middleware struct {
	idp    IdentityProvider
	logger *zap.SugaredLogger
}

func NewMiddleware(idp IdentityProvider, logger *zap.SugaredLogger) *Middleware {
	return &Middleware{idp: idp, logger: logger}
}

// Require rejects requests without a valid bearer token.
func (m *Middleware) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			utilities.WriteError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		p, err := m.idp.FetchIdentity(r.Context(), token)
		if err != nil {
			m.logger.Debugw("token rejected", "path", r.URL.Path, "err", err)
			msg := "invalid token"
			if errors.Is(err, ErrExpiredToken) {
				msg = "token expired"
			}
			utilities.WriteError(w, http.StatusUnauthorized, msg)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// RequireAdmin is Require plus an admin user type check.
func (m *Middleware) RequireAdmin(next http.Handler) http.Handler {
	return m.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := FromContext(r.Context())
		if !p.IsAdmin() {
			utilities.WriteError(w, http.StatusForbidden, "admin only")
			return
		}
		next.ServeHTTP(w, r)
	}))
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(h[len(prefix):])
	return token, token != ""
}
