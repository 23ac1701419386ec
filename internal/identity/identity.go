// Package identity binds browser requests to in-memory sessions.
package identity

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"time"

	"github.com/ashureev/csirt-labs/internal/session"
)

const (
	SessionCookieName   = "csirt_session"
	sessionCookieMaxAge = 12 * time.Hour
)

type contextKey int

const controllerKey contextKey = iota

// Sessions resolves and creates sessions.
type Sessions interface {
	Create() *session.Controller
	Get(id string) (*session.Controller, bool)
}

// Credentials is the demo login pair.
type Credentials struct {
	Username string
	Password string
}

// Check reports whether username and password match.
func (c Credentials) Check(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(c.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(c.Password)) == 1
	return userOK && passOK
}

// ControllerFromContext extracts the session controller from the request context.
func ControllerFromContext(ctx context.Context) *session.Controller {
	if c, ok := ctx.Value(controllerKey).(*session.Controller); ok {
		return c
	}
	return nil
}

// WithController returns ctx carrying c.
func WithController(ctx context.Context, c *session.Controller) context.Context {
	return context.WithValue(ctx, controllerKey, c)
}

func setSessionCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(sessionCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(sessionCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateSession(w http.ResponseWriter, r *http.Request, sessions Sessions, isDev bool) *session.Controller {
	if c, err := r.Cookie(SessionCookieName); err == nil {
		if ctrl, ok := sessions.Get(c.Value); ok {
			return ctrl
		}
	}
	ctrl := sessions.Create()
	setSessionCookie(w, ctrl.ID(), isDev)
	return ctrl
}

// Middleware attaches the caller's session, creating one when the cookie is
// missing or refers to an expired session.
func Middleware(sessions Sessions, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctrl := getOrCreateSession(w, r, sessions, isDev)
			next.ServeHTTP(w, r.WithContext(WithController(r.Context(), ctrl)))
		})
	}
}

// RequireLogin rejects requests whose session has not logged in.
func RequireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctrl := ControllerFromContext(r.Context())
		if ctrl == nil || !ctrl.Snapshot().LoggedIn {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"login required"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
