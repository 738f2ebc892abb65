package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/shopdesk/merchant-portal/internal/middleware"
)

func SetupRoutes(svc *Service, log logrus.FieldLogger) http.Handler {
	r := chi.NewRouter()
	h := NewHandler(svc, log)

	r.Post("/signin", h.SignIn)

	r.Group(func(r chi.Router) {
		r.Use(middleware.TokenMiddleware(svc))
		r.Get("/me", h.Me)
		r.Post("/refresh", h.Refresh)
		r.Post("/logout", h.Logout)
		r.With(middleware.RequireRole(svc, string(RoleAdmin))).Post("/users", h.CreateUser)
	})

	return r
}
