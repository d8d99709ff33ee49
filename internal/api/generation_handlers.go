package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tattoostencil/studio/internal/core"
)

type GenerateRequest struct {
	Prompt   string             `json:"prompt" validate:"required,max=1000"`
	ImageID  string             `json:"imageId"`
	Settings core.SettingsInput `json:"settings"`
}

func (h *APIHandler) GenerateHandler(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if !h.decode(w, r, &req) {
		return
	}

	// Model retries can outlast the server's write timeout.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.Debug("Could not clear write deadline", zap.Error(err))
	}

	res, err := h.generations.Generate(r.Context(), core.GenerateInput{
		UserID:   userIDFromContext(r.Context()),
		Prompt:   req.Prompt,
		ImageID:  optionalID(req.ImageID),
		Settings: req.Settings,
		BaseURL:  h.baseURL(r),
	})
	if err != nil {
		h.fail(w, r, err, "Failed to generate image")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *APIHandler) ListGenerationsHandler(w http.ResponseWriter, r *http.Request) {
	edits, err := h.generations.List(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err, "Failed to fetch generations")
		return
	}
	writeJSON(w, http.StatusOK, edits)
}

// baseURL is the configured public address, or the one the request came in on.
func (h *APIHandler) baseURL(r *http.Request) string {
	if h.publicBaseURL != "" {
		return h.publicBaseURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

type PaymentIntentRequest struct {
	Amount  float64 `json:"amount" validate:"gt=0"`
	Credits int     `json:"credits" validate:"gt=0"`
}

func (h *APIHandler) CreatePaymentIntentHandler(w http.ResponseWriter, r *http.Request) {
	if h.payments == nil {
		writeError(w, http.StatusServiceUnavailable, "Payments are not configured")
		return
	}
	var req PaymentIntentRequest
	if !h.decode(w, r, &req) {
		return
	}

	secret, err := h.payments.CreateIntent(r.Context(), userIDFromContext(r.Context()), req.Amount, req.Credits)
	if err != nil {
		h.fail(w, r, err, "Error creating payment intent")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"clientSecret": secret})
}

func (h *APIHandler) StripeWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if h.payments == nil {
		writeError(w, http.StatusServiceUnavailable, "Payments are not configured")
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	if err := h.payments.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		h.fail(w, r, err, "Failed to process webhook")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
