package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mw "github.com/jsverre/stevedore/internal/api/middleware"
	"github.com/jsverre/stevedore/internal/model"
)

type fakeAuthService struct {
	user      *model.User
	token     string
	authErr   error
	loggedOut []string
}

func (f *fakeAuthService) Authenticate(_ context.Context, _, _ string) (*model.User, string, error) {
	if f.authErr != nil {
		return nil, "", f.authErr
	}
	return f.user, f.token, nil
}

func (f *fakeAuthService) Logout(_ context.Context, token string) error {
	f.loggedOut = append(f.loggedOut, token)
	return nil
}

func TestLoginSetsCookie(t *testing.T) {
	svc := &fakeAuthService{
		user:  &model.User{ID: "u1", Username: "alice", Role: model.UserRoleAdmin},
		token: "tok-1",
	}
	h := NewAuth(svc, time.Hour)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"username":"alice","password":"s3cret"}`))
	rr := httptest.NewRecorder()
	h.Login(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "tok-1")
	assert.NotContains(t, rr.Body.String(), "password_hash")

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, mw.SessionCookie, cookies[0].Name)
	assert.Equal(t, "tok-1", cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
}

func TestLoginBadCredentials(t *testing.T) {
	svc := &fakeAuthService{authErr: errors.New("nope")}
	h := NewAuth(svc, time.Hour)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"username":"alice","password":"wrong"}`))
	rr := httptest.NewRecorder()
	h.Login(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Empty(t, rr.Result().Cookies())
}

func TestLoginValidatesBody(t *testing.T) {
	h := NewAuth(&fakeAuthService{}, time.Hour)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"username":"alice"}`))
	rr := httptest.NewRecorder()
	h.Login(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestLogoutClearsSession(t *testing.T) {
	svc := &fakeAuthService{}
	h := NewAuth(svc, time.Hour)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: mw.SessionCookie, Value: "tok-1"})
	rr := httptest.NewRecorder()
	h.Logout(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"tok-1"}, svc.loggedOut)

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
}
