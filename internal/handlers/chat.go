package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"serenity-backend/internal/middleware"
	"serenity-backend/internal/models"
	"serenity-backend/internal/services"
)

type chatPipeline interface {
	Answer(ctx context.Context, question string, history []models.HistoryEntry) (string, error)
}

type ChatHandler struct {
	pipeline chatPipeline
}

func NewChatHandler(pipeline chatPipeline) *ChatHandler {
	return &ChatHandler{pipeline: pipeline}
}

func (h *ChatHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Question is required", r))
		return
	}

	// Session is optional here; it only makes the logs attributable.
	if userID := middleware.GetUserID(r.Context()); userID != uuid.Nil {
		log.Printf("Chat request from session %s", userID)
	}

	answer, err := h.pipeline.Answer(r.Context(), req.Question, req.History)
	if err != nil {
		classified := services.Classify(err)
		log.Printf("Chat pipeline failed (%s): %v", classified.Code, err)
		writeJSON(w, classified.Status, errorRespWithDetails(classified.Code, classified.Message, classified.Details, r))
		return
	}

	writeJSON(w, http.StatusOK, models.ChatResponse{Answer: answer})
}

// Shared helpers

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: r.Header.Get("X-Request-ID"),
		},
	}
}

func errorRespWithDetails(code, message, details string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			Details:   details,
			RequestID: r.Header.Get("X-Request-ID"),
		},
	}
}
