package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jsverre/stevedore/internal/identity"
	"github.com/jsverre/stevedore/internal/model"
)

// fakeResolver accepts a single token.
type fakeResolver struct {
	token string
	user  *model.User
}

func (f *fakeResolver) ResolveSession(_ context.Context, token string) (*model.User, error) {
	if token == f.token {
		return f.user, nil
	}
	return nil, identity.ErrSessionExpired
}

func authedHandler(t *testing.T, wantUser string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := GetUser(r.Context())
		if user == nil || user.Username != wantUser {
			t.Errorf("unexpected user in context: %+v", user)
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthBearerToken(t *testing.T) {
	resolver := &fakeResolver{token: "tok-1", user: &model.User{Username: "alice"}}
	h := Auth(resolver)(authedHandler(t, "alice"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer tok-1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAuthSessionCookie(t *testing.T) {
	resolver := &fakeResolver{token: "tok-1", user: &model.User{Username: "alice"}}
	h := Auth(resolver)(authedHandler(t, "alice"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "tok-1"})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAuthMissingToken(t *testing.T) {
	resolver := &fakeResolver{token: "tok-1", user: &model.User{Username: "alice"}}
	h := Auth(resolver)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("handler must not run without a session")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuthInvalidToken(t *testing.T) {
	resolver := &fakeResolver{token: "tok-1", user: &model.User{Username: "alice"}}
	h := Auth(resolver)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("handler must not run with a bad session")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
