package auth

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/unicode/norm"

	"github.com/shopdesk/merchant-portal/internal/metrics"
	"github.com/shopdesk/merchant-portal/internal/ratelimit"
	"github.com/shopdesk/merchant-portal/internal/utils"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrTooManyAttempts    = errors.New("too many sign-in attempts")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenRevoked       = errors.New("token revoked")
	ErrUserNotFound       = errors.New("user not found")
)

// bcrypt ignores input past 72 bytes, so longer passwords are refused.
const (
	minPasswordBytes = 8
	maxPasswordBytes = 72
)

// ValidationError carries a message safe to show to the caller.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

type SignInInput struct {
	Email    string
	Password string
	ClientIP string
}

type SignInResult struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      *PublicUser `json:"user"`
}

type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Role     Role
}

type Options struct {
	Users   UserStore
	Tokens  *TokenIssuer
	Revoker Revoker
	// Limiter throttles sign-in per email and per client IP. Nil disables it.
	Limiter    ratelimit.Limiter
	BcryptCost int
	Log        logrus.FieldLogger
}

type Service struct {
	users      UserStore
	tokens     *TokenIssuer
	revoker    Revoker
	limiter    ratelimit.Limiter
	bcryptCost int
	dummyHash  []byte
	log        logrus.FieldLogger
}

func NewService(o Options) (*Service, error) {
	if o.Users == nil || o.Tokens == nil {
		return nil, errors.New("auth: user store and token issuer are required")
	}
	if o.BcryptCost == 0 {
		o.BcryptCost = bcrypt.DefaultCost
	}
	if o.Revoker == nil {
		o.Revoker = NewMemoryRevoker()
	}
	if o.Log == nil {
		o.Log = logrus.StandardLogger()
	}

	// Compared against when the email is unknown so both failure paths cost
	// one bcrypt comparison at the configured cost.
	dummy, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), o.BcryptCost)
	if err != nil {
		return nil, errors.Wrap(err, "auth: generate dummy hash")
	}

	return &Service{
		users:      o.Users,
		tokens:     o.Tokens,
		revoker:    o.Revoker,
		limiter:    o.Limiter,
		bcryptCost: o.BcryptCost,
		dummyHash:  dummy,
		log:        o.Log,
	}, nil
}

func normalize(s string) string {
	return norm.NFC.String(s)
}

// SignIn checks credentials and issues a token. Unknown email and wrong
// password both return ErrInvalidCredentials.
func (s *Service) SignIn(ctx context.Context, in SignInInput) (*SignInResult, error) {
	email := normalize(strings.TrimSpace(in.Email))
	password := normalize(in.Password)

	if !s.allowAttempt(ctx, email, in.ClientIP) {
		metrics.ObserveSignIn(metrics.SignInThrottled)
		return nil, ErrTooManyAttempts
	}

	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		metrics.ObserveSignIn(metrics.SignInError)
		return nil, errors.Wrap(err, "sign in")
	}
	if u == nil {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		metrics.ObserveSignIn(metrics.SignInInvalid)
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		metrics.ObserveSignIn(metrics.SignInInvalid)
		return nil, ErrInvalidCredentials
	}

	res, err := s.issue(u)
	if err != nil {
		metrics.ObserveSignIn(metrics.SignInError)
		return nil, err
	}
	metrics.ObserveSignIn(metrics.SignInSuccess)
	s.log.WithField("user_id", u.ID).Info("user signed in")
	return res, nil
}

// allowAttempt takes a token from both the email and the IP bucket. Limiter
// failures let the attempt through.
func (s *Service) allowAttempt(ctx context.Context, email, ip string) bool {
	if s.limiter == nil {
		return true
	}
	keys := []string{"signin:email:" + strings.ToLower(email)}
	if ip != "" {
		keys = append(keys, "signin:ip:"+ip)
	}
	for _, key := range keys {
		ok, err := s.limiter.Allow(ctx, key)
		if err != nil {
			s.log.WithError(err).WithField("key", key).Warn("rate limiter unavailable, allowing attempt")
			continue
		}
		if !ok {
			return false
		}
	}
	return true
}

func (s *Service) issue(u *User) (*SignInResult, error) {
	token, claims, err := s.tokens.Issue(u)
	if err != nil {
		return nil, err
	}
	return &SignInResult{
		Token:     token,
		ExpiresAt: claims.ExpiresAt.Time,
		User:      u.Public(),
	}, nil
}

// Register creates an account. Email and password are normalised the same
// way SignIn normalises them.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*PublicUser, error) {
	name := strings.TrimSpace(in.Name)
	email := normalize(strings.TrimSpace(in.Email))
	password := normalize(in.Password)
	role := in.Role
	if role == "" {
		role = RoleMerchant
	}

	if name == "" {
		return nil, &ValidationError{Msg: "Name is required"}
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, &ValidationError{Msg: "Email is not valid"}
	}
	if n := len(password); n < minPasswordBytes || n > maxPasswordBytes {
		return nil, &ValidationError{Msg: "Password must be between 8 and 72 bytes"}
	}
	if !role.Valid() {
		return nil, &ValidationError{Msg: "Role must be admin or merchant"}
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, errors.Wrap(err, "hash password")
	}

	u := &User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hashed),
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"user_id": u.ID, "role": u.Role}).Info("user registered")
	return u.Public(), nil
}

// Authenticate verifies a bearer token and checks it was not signed out.
// A revocation store error fails the request.
func (s *Service) Authenticate(ctx context.Context, token string) (*Claims, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
	if err != nil {
		s.log.WithError(err).Error("revocation check failed")
		return nil, err
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// VerifyToken adapts Authenticate for the bearer token middleware.
func (s *Service) VerifyToken(ctx context.Context, token string) (utils.Identity, error) {
	claims, err := s.Authenticate(ctx, token)
	if err != nil {
		return utils.Identity{}, err
	}
	return claims.Identity(), nil
}

// Refresh swaps the caller's token for a fresh one. The role is re-read from
// the store so a demotion takes effect on the next refresh.
func (s *Service) Refresh(ctx context.Context, id utils.Identity) (*SignInResult, error) {
	u, err := s.users.FindByID(ctx, id.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "refresh")
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	res, err := s.issue(u)
	if err != nil {
		return nil, err
	}
	if err := s.revoker.Revoke(ctx, id.TokenID, id.ExpiresAt); err != nil {
		return nil, err
	}
	return res, nil
}

// Logout revokes the caller's token until it expires.
func (s *Service) Logout(ctx context.Context, id utils.Identity) error {
	if err := s.revoker.Revoke(ctx, id.TokenID, id.ExpiresAt); err != nil {
		return err
	}
	s.log.WithField("user_id", id.UserID).Info("user signed out")
	return nil
}

func (s *Service) Me(ctx context.Context, userID string) (*PublicUser, error) {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "load user")
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u.Public(), nil
}

// CurrentRole reports the stored role, or "" when the user is gone.
func (s *Service) CurrentRole(ctx context.Context, userID string) (string, error) {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return "", errors.Wrap(err, "load role")
	}
	if u == nil {
		return "", nil
	}
	return string(u.Role), nil
}
