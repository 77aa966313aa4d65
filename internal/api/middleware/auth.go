package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/jsverre/stevedore/internal/api/response"
	"github.com/jsverre/stevedore/internal/model"
)

type contextKey string

const userKey contextKey = "user"

// SessionCookie is the cookie carrying the raw session token for browser
// clients. API clients send the same token as a bearer header.
const SessionCookie = "stevedore_session"

// SessionResolver maps a raw session token to its user.
type SessionResolver interface {
	ResolveSession(ctx context.Context, token string) (*model.User, error)
}

// Auth returns a middleware that resolves the session token from the
// Authorization header or the session cookie and stores the user in the
// request context.
func Auth(sessions SessionResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				if c, err := r.Cookie(SessionCookie); err == nil {
					token = c.Value
				}
			}
			if token == "" {
				response.WriteError(w, http.StatusUnauthorized, "missing session token")
				return
			}

			user, err := sessions.ResolveSession(r.Context(), token)
			if err != nil {
				response.WriteError(w, http.StatusUnauthorized, "invalid or expired session")
				return
			}

			ctx := context.WithValue(r.Context(), userKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUser returns the authenticated user stored by Auth, or nil.
func GetUser(ctx context.Context) *model.User {
	user, _ := ctx.Value(userKey).(*model.User)
	return user
}

// WithUser returns a context carrying the given user. Test helper.
func WithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}
