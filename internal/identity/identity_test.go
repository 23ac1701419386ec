package identity

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ashureev/csirt-labs/internal/session"
)

func newTestSessions(t *testing.T) *session.Registry {
	t.Helper()
	reg := session.NewRegistry(session.Deps{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}, 0)
	return reg
}

func TestCredentialsCheck(t *testing.T) {
	t.Parallel()

	creds := Credentials{Username: "aice", Password: "aice"}
	if !creds.Check("aice", "aice") {
		t.Fatal("expected matching credentials to pass")
	}
	if creds.Check("aice", "wrong") || creds.Check("admin", "aice") || creds.Check("", "") {
		t.Fatal("expected mismatched credentials to fail")
	}
}

func TestMiddlewareCreatesAndReusesSession(t *testing.T) {
	t.Parallel()

	reg := newTestSessions(t)
	var seen []string
	h := Middleware(reg, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, ControllerFromContext(r.Context()).ID())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/state", nil))
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != SessionCookieName {
		t.Fatalf("expected session cookie, got %v", cookies)
	}
	if cookies[0].Value != seen[0] {
		t.Fatalf("cookie %q does not match session %q", cookies[0].Value, seen[0])
	}

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if len(rec.Result().Cookies()) != 0 {
		t.Fatal("existing session must not be reissued")
	}
	if seen[1] != seen[0] {
		t.Fatalf("expected the same session, got %q and %q", seen[0], seen[1])
	}
	if reg.Len() != 1 {
		t.Fatalf("expected one session, got %d", reg.Len())
	}
}

func TestMiddlewareReplacesUnknownSession(t *testing.T) {
	t.Parallel()

	reg := newTestSessions(t)
	h := Middleware(reg, false)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "forged"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Value == "forged" || !cookies[0].Secure {
		t.Fatalf("expected a fresh secure cookie, got %v", cookies)
	}
}

func TestRequireLogin(t *testing.T) {
	t.Parallel()

	reg := newTestSessions(t)
	ctrl := reg.Create()
	h := RequireLogin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/infect", nil)
	req = req.WithContext(WithController(req.Context(), ctrl))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 before login, got %d", rec.Code)
	}

	ctrl.Login("aice")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 after login, got %d", rec.Code)
	}
}
