package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sydlexius/media-reaper/internal/auth"
)

type fakeValidator map[string]*auth.User

func (f fakeValidator) ValidateSession(_ context.Context, token string) (*auth.User, error) {
	if u, ok := f[token]; ok {
		return u, nil
	}
	return nil, auth.ErrInvalidSession
}

func TestAuth(t *testing.T) {
	admin := &auth.User{ID: "u1", Username: "admin"}
	mw := Auth(fakeValidator{"good": admin})

	var seen *auth.User
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		status int
	}{
		{"no credentials", func(*http.Request) {}, http.StatusUnauthorized},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: SessionCookie, Value: "good"}) }, http.StatusOK},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer good") }, http.StatusOK},
		{"unknown token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer bad") }, http.StatusUnauthorized},
		{"basic scheme", func(r *http.Request) { r.Header.Set("Authorization", "Basic good") }, http.StatusUnauthorized},
		{"query param ignored", func(r *http.Request) { r.URL.RawQuery = "apikey=good" }, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/api/connections", nil)
			tt.setup(req)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			if tt.status == http.StatusOK && seen != admin {
				t.Errorf("user in context = %+v", seen)
			}
			if tt.status == http.StatusUnauthorized {
				if !strings.Contains(w.Body.String(), `"error":"unauthorized"`) {
					t.Errorf("body = %q", w.Body.String())
				}
				if ct := w.Header().Get("Content-Type"); ct != "application/json" {
					t.Errorf("Content-Type = %q", ct)
				}
			}
		})
	}
}

type failingValidator struct{ err error }

func (f failingValidator) ValidateSession(context.Context, string) (*auth.User, error) {
	return nil, f.err
}

func TestAuth_ValidatorErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid session", auth.ErrInvalidSession, http.StatusUnauthorized},
		{"wrapped invalid session", fmt.Errorf("checking: %w", auth.ErrInvalidSession), http.StatusUnauthorized},
		{"storage failure", errors.New("database is locked"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := Auth(failingValidator{tt.err})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				called = true
			}))
			req := httptest.NewRequest(http.MethodGet, "/api/connections", nil)
			req.Header.Set("Authorization", "Bearer tok")
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			if called {
				t.Error("next handler was called")
			}
			if strings.Contains(w.Body.String(), "database is locked") {
				t.Errorf("body leaks cause: %q", w.Body.String())
			}
		})
	}
}

func TestUserFromContextEmpty(t *testing.T) {
	if u := UserFromContext(context.Background()); u != nil {
		t.Errorf("UserFromContext = %+v, want nil", u)
	}
	u := &auth.User{ID: "x"}
	if got := UserFromContext(WithTestUser(context.Background(), u)); got != u {
		t.Errorf("WithTestUser round trip = %+v", got)
	}
}
