package media

import (
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/shopdesk/merchant-portal/internal/db"
	"github.com/shopdesk/merchant-portal/internal/middleware"
	"github.com/shopdesk/merchant-portal/internal/storage"
	"github.com/shopdesk/merchant-portal/internal/utils"
)

const roleAdmin = "admin"

type Handler struct {
	store    *Store
	files    storage.Provider
	maxBytes int64
	log      logrus.FieldLogger
}

func NewHandler(store *Store, files storage.Provider, maxBytes int64, log logrus.FieldLogger) *Handler {
	return &Handler{store: store, files: files, maxBytes: maxBytes, log: log}
}

// List returns the caller's media. Admins may name another owner with
// ?user_id=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	id, _ := utils.IdentityFromContext(r.Context())
	owner := id.UserID
	if q := r.URL.Query().Get("user_id"); q != "" && q != owner {
		if id.Role != roleAdmin {
			utils.WriteError(w, http.StatusForbidden, "Forbidden: admin access required")
			return
		}
		owner = q
	}

	items, err := h.store.ListByUser(r.Context(), owner)
	if err != nil {
		middleware.Logger(r.Context(), h.log).WithError(err).Error("list media")
		utils.WriteError(w, http.StatusInternalServerError, "Server error")
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string][]Media{"media": items})
}

// Upload stores the multipart "file" field and records it for the caller.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	id, _ := utils.IdentityFromContext(r.Context())
	log := middleware.Logger(r.Context(), h.log)

	// Headroom for the multipart envelope around the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+(1<<20))
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			utils.WriteError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		utils.WriteError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Missing file field")
		return
	}
	defer file.Close()

	if header.Size > h.maxBytes {
		utils.WriteError(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}

	contentType, err := sniffContentType(file, header.Header.Get("Content-Type"))
	if err != nil {
		log.WithError(err).Error("read upload")
		utils.WriteError(w, http.StatusBadRequest, "Unreadable file")
		return
	}

	m := &Media{
		ID:        uuid.NewString(),
		UserID:    id.UserID,
		FileName:  sanitizeFileName(header.Filename),
		FileType:  contentType,
		FileSize:  header.Size,
		CreatedAt: time.Now().UTC(),
	}
	url, err := h.files.Put(r.Context(), m.ObjectKey(), file, contentType)
	if err != nil {
		log.WithError(err).Error("store upload")
		utils.WriteError(w, http.StatusInternalServerError, "Failed to store file")
		return
	}
	m.FileURL = url

	if err := h.store.Create(r.Context(), m); err != nil {
		if derr := h.files.Delete(r.Context(), m.ObjectKey()); derr != nil {
			log.WithError(derr).Warn("orphaned object after failed insert")
		}
		if db.IsForeignKeyViolation(err) {
			utils.WriteError(w, http.StatusUnauthorized, "User no longer exists")
			return
		}
		log.WithError(err).Error("record upload")
		utils.WriteError(w, http.StatusInternalServerError, "Server error")
		return
	}
	log.WithFields(logrus.Fields{"media_id": m.ID, "bytes": m.FileSize}).Info("media uploaded")
	utils.WriteJSON(w, http.StatusCreated, map[string]*Media{"media": m})
}

// Delete removes the object and then its row. Media owned by someone else
// reads as missing unless the caller is an admin.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, _ := utils.IdentityFromContext(r.Context())
	log := middleware.Logger(r.Context(), h.log)

	m, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, ErrNotFound) || (err == nil && m.UserID != id.UserID && id.Role != roleAdmin) {
		utils.WriteError(w, http.StatusNotFound, "Media not found")
		return
	}
	if err != nil {
		log.WithError(err).Error("load media")
		utils.WriteError(w, http.StatusInternalServerError, "Server error")
		return
	}

	if err := h.files.Delete(r.Context(), m.ObjectKey()); err != nil {
		log.WithError(err).Error("delete object")
		utils.WriteError(w, http.StatusInternalServerError, "Failed to delete file")
		return
	}
	if err := h.store.Delete(r.Context(), m.ID); err != nil && !errors.Is(err, ErrNotFound) {
		log.WithError(err).Error("delete media row")
		utils.WriteError(w, http.StatusInternalServerError, "Server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// sniffContentType trusts a specific declared type and otherwise detects it
// from the first bytes. The reader is rewound afterwards.
func sniffContentType(f io.ReadSeeker, declared string) (string, error) {
	if declared != "" && declared != "application/octet-stream" {
		return declared, nil
	}
	buf := make([]byte, 512)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return http.DetectContentType(buf[:n]), nil
}

func sanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimSpace(filepath.Base(name))
	if name == "" || name == "." || name == "/" || name == ".." {
		return "upload"
	}
	return name
}
