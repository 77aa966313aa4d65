package handler

import (
	"context"
	"net/http"
	"time"

	mw "github.com/jsverre/stevedore/internal/api/middleware"
	"github.com/jsverre/stevedore/internal/api/request"
	"github.com/jsverre/stevedore/internal/api/response"
	"github.com/jsverre/stevedore/internal/model"
)

// AuthService is the identity surface the auth handler needs.
type AuthService interface {
	Authenticate(ctx context.Context, username, password string) (*model.User, string, error)
	Logout(ctx context.Context, token string) error
}

type Auth struct {
	svc        AuthService
	sessionTTL time.Duration
}

func NewAuth(svc AuthService, sessionTTL time.Duration) *Auth {
	return &Auth{svc: svc, sessionTTL: sessionTTL}
}

// Login verifies credentials and opens a session. The raw token is returned
// in the body and set as a cookie for browser clients.
func (h *Auth) Login(w http.ResponseWriter, r *http.Request) {
	var req request.Login
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, token, err := h.svc.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		response.WriteError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     mw.SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(h.sessionTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	response.WriteJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user": map[string]string{
			"id":       user.ID,
			"username": user.Username,
			"role":     user.Role,
		},
	})
}

// Logout deletes the current session.
func (h *Auth) Logout(w http.ResponseWriter, r *http.Request) {
	token := ""
	if c, err := r.Cookie(mw.SessionCookie); err == nil {
		token = c.Value
	}
	if token == "" {
		if auth := r.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
			token = auth[7:]
		}
	}
	if token != "" {
		if err := h.svc.Logout(r.Context(), token); err != nil {
			response.WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     mw.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	response.WriteJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}
