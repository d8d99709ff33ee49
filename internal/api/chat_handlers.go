package api

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

type ChatRequest struct {
	Message string `json:"message" validate:"required"`
	ImageID string `json:"imageId"`
}

// ChatHandler relays the assistant reply as server-sent events. Errors before
// the first event are answered with a JSON status; later ones are reported
// in-band, followed by the terminal marker.
func (h *APIHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !h.decode(w, r, &req) {
		return
	}
	userID := userIDFromContext(r.Context())

	sse := newSSEWriter(w)
	_, err := h.chat.StreamReply(r.Context(), userID, req.Message, optionalID(req.ImageID), func(delta string) error {
		return sse.send(chatDelta{Content: delta})
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		if !sse.started {
			h.fail(w, r, err, "Failed to process chat")
			return
		}
		if sendErr := sse.send(chatStreamError{Error: "Stream error"}); sendErr != nil {
			h.logger.Debug("Could not report stream error", zap.Error(sendErr))
		}
	}
	if err := sse.done(); err != nil {
		h.logger.Debug("Could not terminate stream", zap.String("user_id", userID), zap.Error(err))
	}
}

func (h *APIHandler) ChatHistoryHandler(w http.ResponseWriter, r *http.Request) {
	messages, err := h.chat.History(r.Context(), userIDFromContext(r.Context()), optionalID(r.URL.Query().Get("imageId")))
	if err != nil {
		h.fail(w, r, err, "Failed to fetch chat history")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *APIHandler) ClearChatHandler(w http.ResponseWriter, r *http.Request) {
	n, err := h.chat.Clear(r.Context(), userIDFromContext(r.Context()), optionalID(r.URL.Query().Get("imageId")))
	if err != nil {
		h.fail(w, r, err, "Failed to clear chat")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

type AnalyzeImageRequest struct {
	ImageID string `json:"imageId" validate:"required"`
	Prompt  string `json:"prompt"`
}

func (h *APIHandler) AnalyzeImageHandler(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeImageRequest
	if !h.decode(w, r, &req) {
		return
	}

	analysis, err := h.chat.AnalyzeImage(r.Context(), userIDFromContext(r.Context()), req.ImageID, req.Prompt)
	if err != nil {
		h.fail(w, r, err, "Failed to analyze image")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"analysis": analysis})
}
