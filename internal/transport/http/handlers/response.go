package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/vedran77/parley/internal/service"
	"github.com/vedran77/parley/pkg/validator"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

func writeValidationErrors(w http.ResponseWriter, errs validator.ValidationErrors) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error": map[string]any{
			"code":   "VALIDATION_ERROR",
			"fields": errs,
		},
	})
}

// writeServiceError maps messaging errors to responses and logs anything
// unexpected.
func writeServiceError(w http.ResponseWriter, log zerolog.Logger, op string, err error) {
	switch {
	case errors.Is(err, service.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Conversation not found")
	case errors.Is(err, service.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Message not found")
	case errors.Is(err, service.ErrAccessDenied):
		writeError(w, http.StatusForbidden, "FORBIDDEN", "You are not allowed to do this")
	case errors.Is(err, service.ErrSelfConversation):
		writeError(w, http.StatusBadRequest, "SELF_CONVERSATION", "Cannot start a conversation with yourself")
	case errors.Is(err, service.ErrInvalidImage):
		writeError(w, http.StatusBadRequest, "INVALID_IMAGE", "Image URL must not be blank")
	case errors.Is(err, service.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "EMPTY_MESSAGE", "Message needs content or an image")
	case errors.Is(err, service.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "INVALID_TRANSITION", err.Error())
	default:
		log.Error().Err(err).Str("op", op).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
	}
}
