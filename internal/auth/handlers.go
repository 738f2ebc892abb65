package auth

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/shopdesk/merchant-portal/internal/middleware"
	"github.com/shopdesk/merchant-portal/internal/utils"
)

const (
	msgInvalidCredentials = "Invalid email or password"
	msgTooManyAttempts    = "Too many sign-in attempts, try again later"
	maxBodyBytes          = 1 << 20
)

type Handler struct {
	svc *Service
	log logrus.FieldLogger
}

func NewHandler(svc *Service, log logrus.FieldLogger) *Handler {
	return &Handler{svc: svc, log: log}
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request format")
		return
	}

	res, err := h.svc.SignIn(r.Context(), SignInInput{
		Email:    req.Email,
		Password: req.Password,
		ClientIP: utils.ClientIP(r),
	})
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		utils.WriteError(w, http.StatusUnauthorized, msgInvalidCredentials)
	case errors.Is(err, ErrTooManyAttempts):
		w.Header().Set("Retry-After", "60")
		utils.WriteError(w, http.StatusTooManyRequests, msgTooManyAttempts)
	case err != nil:
		middleware.Logger(r.Context(), h.log).WithError(err).Error("sign in failed")
		utils.WriteError(w, http.StatusInternalServerError, "Server error")
	default:
		utils.WriteJSON(w, http.StatusOK, res)
	}
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := utils.GetUserIDFromContext(r.Context())
	if !ok {
		utils.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	u, err := h.svc.Me(r.Context(), userID)
	if errors.Is(err, ErrUserNotFound) {
		utils.WriteError(w, http.StatusUnauthorized, "User no longer exists")
		return
	}
	if err != nil {
		middleware.Logger(r.Context(), h.log).WithError(err).Error("load current user")
		utils.WriteError(w, http.StatusInternalServerError, "Server error")
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]*PublicUser{"user": u})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	id, ok := utils.IdentityFromContext(r.Context())
	if !ok {
		utils.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	res, err := h.svc.Refresh(r.Context(), id)
	if errors.Is(err, ErrUserNotFound) {
		utils.WriteError(w, http.StatusUnauthorized, "User no longer exists")
		return
	}
	if err != nil {
		middleware.Logger(r.Context(), h.log).WithError(err).Error("refresh token")
		utils.WriteError(w, http.StatusInternalServerError, "Server error")
		return
	}
	utils.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	id, ok := utils.IdentityFromContext(r.Context())
	if !ok {
		utils.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if err := h.svc.Logout(r.Context(), id); err != nil {
		middleware.Logger(r.Context(), h.log).WithError(err).Error("logout")
		utils.WriteError(w, http.StatusInternalServerError, "Server error")
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type createUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
}

// CreateUser is the admin-only account creation endpoint.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request format")
		return
	}

	u, err := h.svc.Register(r.Context(), RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	})
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		utils.WriteError(w, http.StatusBadRequest, verr.Msg)
	case errors.Is(err, ErrEmailTaken):
		utils.WriteError(w, http.StatusConflict, "Email already registered")
	case err != nil:
		middleware.Logger(r.Context(), h.log).WithError(err).Error("create user")
		utils.WriteError(w, http.StatusInternalServerError, "Server error")
	default:
		utils.WriteJSON(w, http.StatusCreated, map[string]*PublicUser{"user": u})
	}
}
