// Package session is the portal's client-side session bootstrap: it signs in
// against the API, keeps the token and user in a Store, and decides where a
// navigation should land.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/shopdesk/merchant-portal/internal/logging"
)

type Route string

const (
	RouteSignIn    Route = "/signin"
	RouteDashboard Route = "/dashboard"
)

type State int

const (
	Anonymous State = iota
	Authenticated
)

func (s State) String() string {
	if s == Authenticated {
		return "authenticated"
	}
	return "anonymous"
}

// ErrSignInFailed is returned when the API could not be reached or answered
// with something unreadable.
var ErrSignInFailed = errors.New("failed to sign in")

// APIError is a failure the server explained with an {"error": ...} body.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string { return e.Message }

// User is the stored copy of the signed-in account.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type tokenResponse struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	User      json.RawMessage `json:"user"`
}

type Client struct {
	baseURL string
	store   Store

	HTTPClient *http.Client
	// RefreshWindow is how close to expiry a token must be before Enter
	// swaps it for a fresh one.
	RefreshWindow time.Duration
	// PublicRoutes are reachable without a session.
	PublicRoutes map[Route]bool
	Log          logrus.FieldLogger

	now func() time.Time
}

func NewClient(baseURL string, store Store) *Client {
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		store:         store,
		HTTPClient:    &http.Client{Timeout: 10 * time.Second},
		RefreshWindow: 10 * time.Minute,
		PublicRoutes:  map[Route]bool{RouteSignIn: true},
		Log:           logging.Discard(),
		now:           time.Now,
	}
}

// State reports Authenticated whenever a token is stored.
func (c *Client) State() State {
	tok, ok, err := c.store.Get(KeyAuthToken)
	if err != nil || !ok || tok == "" {
		return Anonymous
	}
	return Authenticated
}

func (c *Client) token() string {
	tok, _, _ := c.store.Get(KeyAuthToken)
	return tok
}

// CurrentUser returns the stored user, or nil when signed out.
func (c *Client) CurrentUser() (*User, error) {
	raw, ok, err := c.store.Get(KeyUser)
	if err != nil || !ok || raw == "" {
		return nil, err
	}
	var u User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, errors.Wrap(err, "decode stored user")
	}
	return &u, nil
}

// NewRequest builds a request against the API with the stored token attached.
func (c *Client) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return req, nil
}

// SignIn posts the credentials and, on success, stores the token and user and
// routes to the dashboard. Nothing is stored on failure.
func (c *Client) SignIn(ctx context.Context, email, password string) (Route, error) {
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auth/signin", bytes.NewReader(body))
	if err != nil {
		return RouteSignIn, ErrSignInFailed
	}
	req.Header.Set("Content-Type", "application/json")

	res, status, err := c.doToken(req)
	if err != nil {
		c.Log.WithError(err).WithField("status", status).Debug("sign in failed")
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return RouteSignIn, apiErr
		}
		return RouteSignIn, ErrSignInFailed
	}

	if err := c.save(res); err != nil {
		_ = c.clear()
		return RouteSignIn, err
	}
	return RouteDashboard, nil
}

// Logout tells the API to revoke the token, ignoring any failure, then clears
// the stored session.
func (c *Client) Logout(ctx context.Context) (Route, error) {
	if c.token() != "" {
		if req, err := c.NewRequest(ctx, http.MethodPost, "/api/auth/logout", nil); err == nil {
			if resp, err := c.HTTPClient.Do(req); err != nil {
				c.Log.WithError(err).Debug("logout request failed")
			} else {
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}
		}
	}
	return RouteSignIn, c.clear()
}

// Enter decides where a navigation to route lands. Protected routes require a
// stored token the API still accepts; a token close to expiry is refreshed
// first. When the API cannot be reached the session is kept and the error is
// returned with the requested route.
func (c *Client) Enter(ctx context.Context, route Route) (Route, error) {
	if c.PublicRoutes[route] {
		return route, nil
	}
	tok := c.token()
	if tok == "" {
		return RouteSignIn, nil
	}

	if exp, ok := tokenExpiry(tok); ok {
		now := c.now()
		if !now.Before(exp) {
			return RouteSignIn, c.clear()
		}
		if exp.Sub(now) <= c.RefreshWindow {
			dest, err := c.refresh(ctx)
			if dest == RouteSignIn {
				return dest, err
			}
			if err != nil {
				return route, err
			}
		}
	}

	req, err := c.NewRequest(ctx, http.MethodGet, "/api/auth/me", nil)
	if err != nil {
		return route, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return route, errors.Wrap(err, "validate session")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var out struct {
			User json.RawMessage `json:"user"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err == nil && len(out.User) > 0 {
			if err := c.store.Set(KeyUser, string(out.User)); err != nil {
				return route, err
			}
		}
		return route, nil
	case http.StatusUnauthorized:
		return RouteSignIn, c.clear()
	default:
		return route, errors.Errorf("validate session: unexpected status %d", resp.StatusCode)
	}
}

// refresh swaps the stored token. A rejected refresh ends the session.
func (c *Client) refresh(ctx context.Context) (Route, error) {
	req, err := c.NewRequest(ctx, http.MethodPost, "/api/auth/refresh", nil)
	if err != nil {
		return "", err
	}
	res, status, err := c.doToken(req)
	if status == http.StatusUnauthorized {
		return RouteSignIn, c.clear()
	}
	if err != nil {
		// Keep the current token; /me decides whether it is still good.
		c.Log.WithError(err).Warn("token refresh failed")
		return "", nil
	}
	return "", c.save(res)
}

// doToken sends a request answered by {token, expires_at, user}.
func (c *Client) doToken(req *http.Request) (*tokenResponse, int, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&body) == nil && body.Error != "" {
			return nil, resp.StatusCode, &APIError{Status: resp.StatusCode, Message: body.Error}
		}
		return nil, resp.StatusCode, errors.Errorf("unexpected status %d", resp.StatusCode)
	}

	var out tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, resp.StatusCode, errors.Wrap(err, "decode token response")
	}
	if out.Token == "" || len(out.User) == 0 {
		return nil, resp.StatusCode, errors.New("token response without token or user")
	}
	return &out, resp.StatusCode, nil
}

func (c *Client) save(res *tokenResponse) error {
	if err := c.store.Set(KeyAuthToken, res.Token); err != nil {
		return err
	}
	return c.store.Set(KeyUser, string(res.User))
}

func (c *Client) clear() error {
	var first error
	for _, k := range []string{KeyAuthToken, KeyUser, KeyUserData} {
		if err := c.store.Delete(k); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// tokenExpiry reads exp without verifying the signature; the client only uses
// it to schedule refreshes.
func tokenExpiry(tok string) (time.Time, bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
