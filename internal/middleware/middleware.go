package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/shopdesk/merchant-portal/internal/metrics"
	"github.com/shopdesk/merchant-portal/internal/utils"
)

// TokenVerifier turns a bearer token into the caller's identity.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (utils.Identity, error)
}

// TokenMiddleware rejects requests without a valid bearer token and stores
// the caller's identity in the request context.
func TokenMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				utils.WriteError(w, http.StatusUnauthorized, "Missing bearer token")
				return
			}

			id, err := verifier.VerifyToken(r.Context(), token)
			if errors.Is(err, utils.ErrSessionExpired) {
				utils.WriteError(w, http.StatusUnauthorized, "Session expired")
				return
			}
			if err != nil {
				utils.WriteError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(utils.WithIdentity(r.Context(), id)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(h[7:])
	return token, token != ""
}

// RoleFetcher reads a user's current role. An empty role with a nil error
// means the user no longer exists.
type RoleFetcher interface {
	CurrentRole(ctx context.Context, userID string) (string, error)
}

// RequireRole must run after TokenMiddleware. The role is re-read through
// fetcher on every request so a demotion applies before the token expires;
// a nil fetcher trusts the role carried by the token.
func RequireRole(fetcher RoleFetcher, roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := utils.IdentityFromContext(r.Context())
			if !ok || id.UserID == "" {
				utils.WriteError(w, http.StatusUnauthorized, "Unauthorized: missing user ID in context")
				return
			}

			role := id.Role
			if fetcher != nil {
				current, err := fetcher.CurrentRole(r.Context(), id.UserID)
				if err != nil {
					utils.WriteError(w, http.StatusInternalServerError, "Server error")
					return
				}
				if current == "" {
					utils.WriteError(w, http.StatusUnauthorized, "Unauthorized: user not found")
					return
				}
				role = current
			}

			if _, ok := allowed[role]; !ok {
				utils.WriteError(w, http.StatusForbidden, "Forbidden: insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CORS echoes the request origin back only when it is on the allow-list.
func CORS(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if _, ok := allowed[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Allow-Methods",
					"GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers",
					"Content-Type, Authorization")
			}
			w.Header().Set("Access-Control-Expose-Headers", "Retry-After, X-Request-Id")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type ctxKeyLog struct{}

type responseRecorder struct {
	b      int
	status int
	w      http.ResponseWriter
}

func (r *responseRecorder) Header() http.Header { return r.w.Header() }

func (r *responseRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.w.Write(p)
	r.b += n
	return n, err
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	if r.status == 0 {
		r.status = statusCode
	}
	r.w.WriteHeader(statusCode)
}

// RequestLogger tags each request with an id, logs its outcome and records
// it in the request metrics.
func RequestLogger(log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := uuid.NewString()
			start := time.Now()
			rr := &responseRecorder{w: w}
			w.Header().Set("X-Request-Id", requestID)

			entry := log.WithFields(logrus.Fields{
				"http.req.path":   r.URL.Path,
				"http.req.method": r.Method,
				"http.req.id":     requestID,
			})
			entry.Debug("request started")

			ctx := context.WithValue(r.Context(), ctxKeyLog{}, entry)
			next.ServeHTTP(rr, r.WithContext(ctx))

			if rr.status == 0 {
				rr.status = http.StatusOK
			}
			took := time.Since(start)
			var route string
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				route = rctx.RoutePattern()
			}
			metrics.ObserveRequest(r.Method, route, rr.status, took)

			entry.WithFields(logrus.Fields{
				"http.resp.took_ms": int64(took / time.Millisecond),
				"http.resp.status":  rr.status,
				"http.resp.bytes":   rr.b,
			}).Info("request complete")
		})
	}
}

// Logger returns the request-scoped logger set by RequestLogger, or fallback
// when the request did not pass through it.
func Logger(ctx context.Context, fallback logrus.FieldLogger) logrus.FieldLogger {
	if l, ok := ctx.Value(ctxKeyLog{}).(logrus.FieldLogger); ok {
		return l
	}
	return fallback
}
