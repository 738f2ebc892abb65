package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/shopdesk/merchant-portal/internal/auth"
	"github.com/shopdesk/merchant-portal/internal/logging"
	"github.com/shopdesk/merchant-portal/internal/middleware"
	"github.com/shopdesk/merchant-portal/internal/ratelimit"
	"github.com/shopdesk/merchant-portal/internal/testutil"
)

const (
	testSecret = "integration-secret"
	testIssuer = "merchant-portal"
)

type testEnv struct {
	srv *httptest.Server
	svc *auth.Service
	db  *gorm.DB
}

// newTestEnv serves /api/auth against a fresh in-memory SQLite database,
// matching the production router setup in main.go.
func newTestEnv(t *testing.T, burst int) *testEnv {
	t.Helper()
	d := testutil.OpenInMemoryDB(t)
	log := logging.Discard()

	svc, err := auth.NewService(auth.Options{
		Users:      auth.NewGormUserStore(d),
		Tokens:     auth.NewTokenIssuer(testSecret, testIssuer, time.Hour),
		Revoker:    auth.NewMemoryRevoker(),
		Limiter:    ratelimit.NewLocal(ratelimit.Settings{Burst: burst, Refill: time.Hour}),
		BcryptCost: bcrypt.MinCost,
		Log:        log,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.CORS([]string{"http://localhost:3000"}))
	r.Mount("/api/auth", auth.SetupRoutes(svc, log))

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, svc: svc, db: d}
}

// createTestUser registers a unique user and returns its email and password.
func (e *testEnv) createTestUser(t *testing.T, role auth.Role) (email, password string) {
	t.Helper()
	email = "user_" + uuid.NewString()[:8] + "@shop.test"
	password = "TestPass123!"
	if _, err := e.svc.Register(context.Background(), auth.RegisterInput{
		Name: "Test User", Email: email, Password: password, Role: role,
	}); err != nil {
		t.Fatalf("register test user: %v", err)
	}
	return email, password
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, string) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(b)
}

func (e *testEnv) signIn(t *testing.T, email, password string) string {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/api/auth/signin", "", map[string]string{"email": email, "password": password})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sign in failed: %d %s", resp.StatusCode, body)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal([]byte(body), &out); err != nil || out.Token == "" {
		t.Fatalf("invalid sign in body: %s", body)
	}
	return out.Token
}

func TestSignInUnknownUser(t *testing.T) {
	env := newTestEnv(t, 5)

	resp, body := env.do(t, http.MethodPost, "/api/auth/signin", "", map[string]string{"email": "a@b.com", "password": "secret"})

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d; body: %s", resp.StatusCode, body)
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		t.Fatalf("invalid JSON body: %s", body)
	}
	if out["error"] != "Invalid email or password" {
		t.Errorf("unexpected error message: %v", out["error"])
	}
	if _, ok := out["token"]; ok {
		t.Errorf("no token expected on failure")
	}
}

func TestSignInWrongPasswordSameMessage(t *testing.T) {
	env := newTestEnv(t, 5)
	email, _ := env.createTestUser(t, auth.RoleMerchant)

	resp, body := env.do(t, http.MethodPost, "/api/auth/signin", "", map[string]string{"email": email, "password": "wrong"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if strings.TrimSpace(body) != `{"error":"Invalid email or password"}` {
		t.Errorf("unexpected body %s", body)
	}
}

func TestSignInReturnsTokenAndSanitizedUser(t *testing.T) {
	env := newTestEnv(t, 5)
	email, password := env.createTestUser(t, auth.RoleMerchant)

	resp, body := env.do(t, http.MethodPost, "/api/auth/signin", "", map[string]string{"email": email, "password": password})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d; body: %s", resp.StatusCode, body)
	}
	if strings.Contains(body, "password") {
		t.Errorf("credential field leaked: %s", body)
	}

	var out struct {
		Token     string           `json:"token"`
		ExpiresAt time.Time        `json:"expires_at"`
		User      *auth.PublicUser `json:"user"`
	}
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		t.Fatalf("invalid JSON body: %s", body)
	}
	if out.Token == "" || out.User == nil || out.User.Email != email || out.User.Role != auth.RoleMerchant {
		t.Fatalf("unexpected sign in payload: %s", body)
	}

	meResp, meBody := env.do(t, http.MethodGet, "/api/auth/me", out.Token, nil)
	if meResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /me, got %d; body: %s", meResp.StatusCode, meBody)
	}
	if !strings.Contains(meBody, email) {
		t.Errorf("expected /me to return the user, got %s", meBody)
	}
}

func TestSignInBadBody(t *testing.T) {
	env := newTestEnv(t, 5)
	resp, err := http.Post(env.srv.URL+"/api/auth/signin", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestSignInThrottled(t *testing.T) {
	env := newTestEnv(t, 2)
	email, password := env.createTestUser(t, auth.RoleMerchant)

	for i := 0; i < 2; i++ {
		env.do(t, http.MethodPost, "/api/auth/signin", "", map[string]string{"email": email, "password": "wrong"})
	}
	resp, body := env.do(t, http.MethodPost, "/api/auth/signin", "", map[string]string{"email": email, "password": password})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d; body: %s", resp.StatusCode, body)
	}
	if !strings.Contains(body, "Too many sign-in attempts") {
		t.Errorf("unexpected body %s", body)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Errorf("expected Retry-After header")
	}
}

func TestLogoutInvalidatesToken(t *testing.T) {
	env := newTestEnv(t, 5)
	email, password := env.createTestUser(t, auth.RoleMerchant)
	token := env.signIn(t, email, password)

	resp, body := env.do(t, http.MethodPost, "/api/auth/logout", token, nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"ok":true`) {
		t.Fatalf("logout: %d %s", resp.StatusCode, body)
	}

	meResp, meBody := env.do(t, http.MethodGet, "/api/auth/me", token, nil)
	if meResp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d; body: %s", meResp.StatusCode, meBody)
	}
}

func TestRefreshIssuesNewToken(t *testing.T) {
	env := newTestEnv(t, 5)
	email, password := env.createTestUser(t, auth.RoleMerchant)
	token := env.signIn(t, email, password)

	resp, body := env.do(t, http.MethodPost, "/api/auth/refresh", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh: %d %s", resp.StatusCode, body)
	}
	var out struct {
		Token string `json:"token"`
	}
	_ = json.Unmarshal([]byte(body), &out)
	if out.Token == "" || out.Token == token {
		t.Fatalf("expected a rotated token, got %s", body)
	}

	if r, _ := env.do(t, http.MethodGet, "/api/auth/me", token, nil); r.StatusCode != http.StatusUnauthorized {
		t.Errorf("old token should be rejected, got %d", r.StatusCode)
	}
	if r, _ := env.do(t, http.MethodGet, "/api/auth/me", out.Token, nil); r.StatusCode != http.StatusOK {
		t.Errorf("new token should be accepted, got %d", r.StatusCode)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	env := newTestEnv(t, 5)
	past := time.Now().Add(-time.Hour)
	token := testutil.GenerateJWTHS256(t, testSecret, &auth.Claims{
		Email: "x@shop.test",
		Role:  auth.RoleMerchant,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   uuid.NewString(),
			Issuer:    testIssuer,
			IssuedAt:  jwt.NewNumericDate(past.Add(-time.Hour)),
			ExpiresAt: jwt.NewNumericDate(past),
		},
	})

	resp, body := env.do(t, http.MethodGet, "/api/auth/me", token, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d; body: %s", resp.StatusCode, body)
	}
	if !strings.Contains(body, "Session expired") {
		t.Errorf("expected body to contain %q, got: %q", "Session expired", body)
	}
}

func TestCreateUserRequiresAdmin(t *testing.T) {
	env := newTestEnv(t, 5)
	adminEmail, adminPass := env.createTestUser(t, auth.RoleAdmin)
	merchantEmail, merchantPass := env.createTestUser(t, auth.RoleMerchant)
	adminToken := env.signIn(t, adminEmail, adminPass)
	merchantToken := env.signIn(t, merchantEmail, merchantPass)

	newUser := map[string]string{"name": "New Shop", "email": "new@shop.test", "password": "longenough", "role": "merchant"}

	if resp, body := env.do(t, http.MethodPost, "/api/auth/users", merchantToken, newUser); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("merchant: expected 403, got %d; body: %s", resp.StatusCode, body)
	}
	if resp, _ := env.do(t, http.MethodPost, "/api/auth/users", "", newUser); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous: expected 401, got %d", resp.StatusCode)
	}

	resp, body := env.do(t, http.MethodPost, "/api/auth/users", adminToken, newUser)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("admin: expected 201, got %d; body: %s", resp.StatusCode, body)
	}
	if strings.Contains(body, "password") {
		t.Errorf("credential field leaked: %s", body)
	}

	if resp, body := env.do(t, http.MethodPost, "/api/auth/users", adminToken, newUser); resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate: expected 409, got %d; body: %s", resp.StatusCode, body)
	}

	bad := map[string]string{"name": "X", "email": "x@shop.test", "password": "longenough", "role": "owner"}
	if resp, _ := env.do(t, http.MethodPost, "/api/auth/users", adminToken, bad); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad role: expected 400, got %d", resp.StatusCode)
	}

	env.signIn(t, "new@shop.test", "longenough")
}

func TestCreateUserRechecksStoredRole(t *testing.T) {
	env := newTestEnv(t, 5)
	adminEmail, adminPass := env.createTestUser(t, auth.RoleAdmin)
	adminToken := env.signIn(t, adminEmail, adminPass)

	if err := env.db.Exec(`UPDATE users SET role = ? WHERE email = ?`, "merchant", adminEmail).Error; err != nil {
		t.Fatalf("demote admin: %v", err)
	}

	newUser := map[string]string{"name": "Late Shop", "email": "late@shop.test", "password": "longenough"}
	resp, body := env.do(t, http.MethodPost, "/api/auth/users", adminToken, newUser)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("demoted admin: expected 403, got %d; body: %s", resp.StatusCode, body)
	}
}
