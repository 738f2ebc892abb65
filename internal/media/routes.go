package media

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/shopdesk/merchant-portal/internal/middleware"
	"github.com/shopdesk/merchant-portal/internal/storage"
)

func SetupRoutes(store *Store, files storage.Provider, maxBytes int64, verifier middleware.TokenVerifier, log logrus.FieldLogger) http.Handler {
	r := chi.NewRouter()
	h := NewHandler(store, files, maxBytes, log)

	r.Use(middleware.TokenMiddleware(verifier))
	r.Get("/", h.List)
	r.Post("/", h.Upload)
	r.Delete("/{id}", h.Delete)

	return r
}
