package middleware_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shopdesk/merchant-portal/internal/logging"
	"github.com/shopdesk/merchant-portal/internal/middleware"
	"github.com/shopdesk/merchant-portal/internal/utils"
)

// mockVerifier implements middleware.TokenVerifier without any signing keys.
type mockVerifier struct {
	id  utils.Identity
	err error
}

func (m mockVerifier) VerifyToken(ctx context.Context, token string) (utils.Identity, error) {
	return m.id, m.err
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// callWithAuth wraps a 200-OK handler in mw and sends one request carrying
// the given Authorization header, if any.
func callWithAuth(t *testing.T, mw func(http.Handler) http.Handler, authorization string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	mw(okHandler()).ServeHTTP(rec, req)
	return rec
}

func TestTokenMiddleware_MissingHeader(t *testing.T) {
	rec := callWithAuth(t, middleware.TokenMiddleware(mockVerifier{}), "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestTokenMiddleware_NotBearer(t *testing.T) {
	rec := callWithAuth(t, middleware.TokenMiddleware(mockVerifier{}), "Basic dXNlcjpwYXNz")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestTokenMiddleware_ExpiredToken(t *testing.T) {
	mw := middleware.TokenMiddleware(mockVerifier{err: utils.ErrSessionExpired})

	rec := callWithAuth(t, mw, "Bearer expired-token")

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "Session expired") {
		t.Errorf("expected body to contain %q, got: %q", "Session expired", body)
	}
}

func TestTokenMiddleware_VerifierError(t *testing.T) {
	mw := middleware.TokenMiddleware(mockVerifier{err: errors.New("bad signature")})

	rec := callWithAuth(t, mw, "Bearer forged")

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, `"error"`) {
		t.Errorf("expected JSON error body, got: %q", body)
	}
}

// TestTokenMiddleware_ValidToken checks the identity reaches the handler.
func TestTokenMiddleware_ValidToken(t *testing.T) {
	const wantUserID = "test-user-123"
	verifier := mockVerifier{id: utils.Identity{
		UserID:    wantUserID,
		Role:      "merchant",
		ExpiresAt: time.Now().Add(time.Hour),
	}}

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID, ok := utils.GetUserIDFromContext(r.Context())
		if !ok || gotUserID != wantUserID {
			http.Error(w, "wrong userID in context: "+gotUserID, http.StatusInternalServerError)
			return
		}
		id, ok := utils.IdentityFromContext(r.Context())
		if !ok || id.Role != "merchant" {
			http.Error(w, "identity missing", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "bearer valid-token")
	rec := httptest.NewRecorder()
	middleware.TokenMiddleware(verifier)(inner).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d; body: %s", rec.Code, rec.Body.String())
	}
}

func TestRequireRole_MissingIdentity(t *testing.T) {
	rec := callWithAuth(t, middleware.RequireRole(nil, "admin"), "")

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "missing user ID") {
		t.Errorf("expected body to contain %q, got: %q", "missing user ID", body)
	}
}

func TestRequireRole(t *testing.T) {
	cases := []struct {
		role string
		want int
	}{
		{"admin", http.StatusOK},
		{"merchant", http.StatusForbidden},
		{"", http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req = req.WithContext(utils.WithIdentity(req.Context(), utils.Identity{UserID: "u1", Role: tc.role}))
		rec := httptest.NewRecorder()
		middleware.RequireRole(nil, "admin")(okHandler()).ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Errorf("role %q: expected %d, got %d", tc.role, tc.want, rec.Code)
		}
	}
}

// mockRoles implements middleware.RoleFetcher from a fixed table.
type mockRoles struct {
	roles map[string]string
	err   error
}

func (m mockRoles) CurrentRole(ctx context.Context, userID string) (string, error) {
	return m.roles[userID], m.err
}

// TestRequireRole_UsesStoredRole checks that the stored role wins over the
// one carried by the token.
func TestRequireRole_UsesStoredRole(t *testing.T) {
	cases := []struct {
		name      string
		tokenRole string
		fetcher   mockRoles
		want      int
	}{
		{"demoted admin", "admin", mockRoles{roles: map[string]string{"u1": "merchant"}}, http.StatusForbidden},
		{"promoted merchant", "merchant", mockRoles{roles: map[string]string{"u1": "admin"}}, http.StatusOK},
		{"deleted user", "admin", mockRoles{roles: map[string]string{}}, http.StatusUnauthorized},
		{"store failure", "admin", mockRoles{err: errors.New("db down")}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/users", nil)
		req = req.WithContext(utils.WithIdentity(req.Context(), utils.Identity{UserID: "u1", Role: tc.tokenRole}))
		rec := httptest.NewRecorder()
		middleware.RequireRole(tc.fetcher, "admin")(okHandler()).ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.want, rec.Code)
		}
	}
}

func TestCORS_AllowedOrigin(t *testing.T) {
	mw := middleware.CORS([]string{"http://localhost:3000"})

	req := httptest.NewRequest(http.MethodOptions, "/api/auth/signin", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	mw(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 for preflight, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestCORS_UnknownOrigin(t *testing.T) {
	mw := middleware.CORS([]string{"http://localhost:3000"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	mw(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected request to pass through, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unexpected Access-Control-Allow-Origin %q", got)
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	log := logging.NewWithOutput("info", &buf)

	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(log))
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		middleware.Logger(r.Context(), log).Info("inside handler")
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/42", nil))

	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected 418, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Errorf("expected X-Request-Id header")
	}
	out := buf.String()
	for _, want := range []string{`"http.req.id"`, `"http.resp.status":418`, `"message":"inside handler"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s: %s", want, out)
		}
	}
}
