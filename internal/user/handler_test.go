package user

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/config"
)

func newTestHandler(t *testing.T) (*Handler, *fixture, *auth.TokenService) {
	f := newFixture(t)
	tokens := auth.NewTokenService(config.Auth{Secret: "test-secret", Issuer: "library-test", TokenTTL: time.Hour}, nil)
	return NewHandler(f.svc, tokens, zap.NewNop().Sugar()), f, tokens
}

func call(h http.HandlerFunc, pattern, target, body string, p *auth.Principal) *httptest.ResponseRecorder {
	method, _, _ := strings.Cut(pattern, " ")
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if p != nil {
		req = req.WithContext(auth.WithPrincipal(req.Context(), *p))
	}
	rec := httptest.NewRecorder()
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, h)
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHandlerSignupLoginMe(t *testing.T) {
	h, _, tokens := newTestHandler(t)

	res := call(h.Signup, "POST /auth/signup", "/auth/signup",
		`{"username":"ada","email":"ada@example.com","password":"correct-horse","user_type":"faculty"}`, nil)
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	var signup struct {
		User struct {
			ID              int64  `json:"id"`
			UserType        string `json:"user_type"`
			MaxBooksAllowed int    `json:"max_books_allowed"`
		} `json:"user"`
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &signup))
	assert.Equal(t, "faculty", signup.User.UserType)
	assert.Equal(t, 10, signup.User.MaxBooksAllowed)
	assert.NotEmpty(t, signup.AccessToken)
	assert.NotContains(t, res.Body.String(), "password_hash")

	res = call(h.Login, "POST /auth/login", "/auth/login", `{"identifier":"ada","password":"correct-horse"}`, nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	var login auth.Tokens
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &login))
	p, err := tokens.FetchIdentity(t.Context(), login.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, signup.User.ID, p.UserID)
	assert.Equal(t, "faculty", p.UserType)

	res = call(h.Me, "GET /auth/me", "/auth/me", "", &p)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), `"username":"ada"`)
}

func TestHandlerSignupValidation(t *testing.T) {
	h, _, _ := newTestHandler(t)
	res := call(h.Signup, "POST /auth/signup", "/auth/signup", `{"username":"ada","password":"short"}`, nil)
	assert.Equal(t, http.StatusBadRequest, res.Code)
	res = call(h.Signup, "POST /auth/signup", "/auth/signup", `{"username":"ada","password":"long-enough","user_type":"admin"}`, nil)
	assert.Equal(t, http.StatusBadRequest, res.Code)
	res = call(h.Signup, "POST /auth/signup", "/auth/signup", `{"password":"long-enough"}`, nil)
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = call(h.Signup, "POST /auth/signup", "/auth/signup", `{"username":"ada","password":"long-enough"}`, nil)
	require.Equal(t, http.StatusCreated, res.Code)
	res = call(h.Signup, "POST /auth/signup", "/auth/signup", `{"username":"ada","password":"long-enough"}`, nil)
	assert.Equal(t, http.StatusConflict, res.Code)
}

func TestHandlerLoginFailures(t *testing.T) {
	h, f, _ := newTestHandler(t)
	f.signup(t, SignupInput{Username: "ada"})

	res := call(h.Login, "POST /auth/login", "/auth/login", `{"identifier":"ada","password":"nope"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	res = call(h.Login, "POST /auth/login", "/auth/login", `{"identifier":"ada"}`, nil)
	assert.Equal(t, http.StatusBadRequest, res.Code)

	for i := 0; i < 5; i++ {
		call(h.Login, "POST /auth/login", "/auth/login", `{"identifier":"ada","password":"nope"}`, nil)
	}
	res = call(h.Login, "POST /auth/login", "/auth/login", `{"identifier":"ada","password":"correct-horse"}`, nil)
	assert.Equal(t, http.StatusForbidden, res.Code)
	assert.Contains(t, res.Body.String(), "account locked")
}

func TestHandlerBorrowingLimit(t *testing.T) {
	h, f, _ := newTestHandler(t)
	u := f.signup(t, SignupInput{Username: "ada"})
	admin := &auth.Principal{UserID: 99, UserType: auth.UserTypeAdmin}

	res := call(h.SetBorrowingLimit, "POST /admin/users/{id}/borrowing-limit", "/admin/users/1/borrowing-limit", `{"max_books_allowed":7}`, admin)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	assert.Equal(t, 7, f.store.get(u.ID).MaxBooksAllowed)

	res = call(h.SetBorrowingLimit, "POST /admin/users/{id}/borrowing-limit", "/admin/users/1/borrowing-limit", "", admin)
	require.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `{"max_books_allowed":5}`, res.Body.String())

	res = call(h.SetBorrowingLimit, "POST /admin/users/{id}/borrowing-limit", "/admin/users/x/borrowing-limit", "", admin)
	assert.Equal(t, http.StatusBadRequest, res.Code)
	res = call(h.SetBorrowingLimit, "POST /admin/users/{id}/borrowing-limit", "/admin/users/42/borrowing-limit", "", admin)
	assert.Equal(t, http.StatusNotFound, res.Code)
}
