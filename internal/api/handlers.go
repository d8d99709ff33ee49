package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/tattoostencil/studio/internal/auth"
	"github.com/tattoostencil/studio/internal/core"
)

const (
	maxJSONBodyBytes    = 1 << 20
	maxWebhookBodyBytes = 65536
	// Room for multipart boundaries and headers on top of the image itself.
	multipartOverhead = 1 << 20
)

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services groups the domain services the handlers call. Payments is nil when
// the payment processor is not configured.
type Services struct {
	Users       *core.UserService
	Uploads     *core.UploadService
	Chat        *core.ChatService
	Generations *core.GenerationService
	Payments    *core.PaymentService
	DB          Pinger
}

type APIHandler struct {
	users         *core.UserService
	uploads       *core.UploadService
	chat          *core.ChatService
	generations   *core.GenerationService
	payments      *core.PaymentService
	db            Pinger
	verifier      *auth.Verifier
	validate      *validator.Validate
	publicBaseURL string
	logger        *zap.Logger
}

func NewAPIHandler(svc Services, verifier *auth.Verifier, publicBaseURL string, logger *zap.Logger) *APIHandler {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	return &APIHandler{
		users:         svc.Users,
		uploads:       svc.Uploads,
		chat:          svc.Chat,
		generations:   svc.Generations,
		payments:      svc.Payments,
		db:            svc.DB,
		verifier:      verifier,
		validate:      validate,
		publicBaseURL: publicBaseURL,
		logger:        logger,
	}
}

// decode reads a JSON body into dst and runs its validate tags. On failure it
// writes a 400 and returns false.
func (h *APIHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

// optionalID treats an absent or empty id as no id.
func optionalID(id string) *string {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	return &id
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			h.logger.Error("Health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetUserHandler refreshes the caller's profile from the token and returns it.
func (h *APIHandler) GetUserHandler(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.EnsureUser(r.Context(), claimsFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err, "Failed to fetch user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type uploadResponse struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

func (h *APIHandler) UploadHandler(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, core.MaxUploadBytes+multipartOverhead)
	file, header, err := r.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusBadRequest, "File exceeds the 10 MB limit")
		case errors.Is(err, http.ErrMissingFile):
			writeError(w, http.StatusBadRequest, "No file uploaded")
		default:
			writeError(w, http.StatusBadRequest, "Invalid multipart request")
		}
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, core.MaxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read upload")
		return
	}

	img, err := h.uploads.Save(r.Context(), user.ID, core.UploadInput{
		Data:         data,
		OriginalName: header.Filename,
		MimeType:     header.Header.Get("Content-Type"),
	})
	if err != nil {
		h.fail(w, r, err, "Failed to upload image")
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		ID:       img.ID,
		URL:      img.URL,
		Filename: img.Filename,
		Size:     img.Size,
		Width:    img.Width,
		Height:   img.Height,
	})
}

func (h *APIHandler) ListImagesHandler(w http.ResponseWriter, r *http.Request) {
	images, err := h.uploads.List(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err, "Failed to fetch images")
		return
	}
	writeJSON(w, http.StatusOK, images)
}

func (h *APIHandler) DeleteImageHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.uploads.Delete(r.Context(), userIDFromContext(r.Context()), chi.URLParam(r, "imageID")); err != nil {
		h.fail(w, r, err, "Failed to delete image")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) ImageGenerationsHandler(w http.ResponseWriter, r *http.Request) {
	edits, err := h.generations.ForImage(r.Context(), userIDFromContext(r.Context()), chi.URLParam(r, "imageID"))
	if err != nil {
		h.fail(w, r, err, "Failed to fetch generations")
		return
	}
	writeJSON(w, http.StatusOK, edits)
}
