package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vedran77/parley/internal/service"
	"github.com/vedran77/parley/internal/transport/http/middleware"
	"github.com/vedran77/parley/pkg/validator"
)

type MessagingHandler struct {
	svc *service.MessagingService
	log zerolog.Logger
}

func NewMessagingHandler(svc *service.MessagingService, log zerolog.Logger) *MessagingHandler {
	return &MessagingHandler{svc: svc, log: log.With().Str("component", "http").Logger()}
}

type startConversationRequest struct {
	UserID uuid.UUID `json:"user_id" validate:"required"`
}

type sendMessageRequest struct {
	ReceiverID uuid.UUID `json:"receiver_id" validate:"required"`
	Content    string    `json:"content" validate:"max=4000"`
	ImageURL   *string   `json:"image_url" validate:"omitempty,max=2048"`
}

type messageBodyRequest struct {
	Content  string  `json:"content" validate:"max=4000"`
	ImageURL *string `json:"image_url" validate:"omitempty,max=2048"`
}

type batchDeliveredRequest struct {
	MessageIDs []uuid.UUID `json:"message_ids" validate:"required,min=1,max=500"`
}

type countResponse struct {
	Count int64 `json:"count"`
}

func (h *MessagingHandler) StartConversation(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var input startConversationRequest
	if !decode(w, r, &input) {
		return
	}

	details, created, err := h.svc.StartConversation(r.Context(), userID, input.UserID)
	if err != nil {
		writeServiceError(w, h.log, "start conversation", err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, details)
}

func (h *MessagingHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	q := r.URL.Query()

	convs, err := h.svc.ListConversations(r.Context(), userID, queryInt(q.Get("offset"), 0), queryInt(q.Get("limit"), 0), queryBool(q.Get("preview")))
	if err != nil {
		writeServiceError(w, h.log, "list conversations", err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

func (h *MessagingHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	convID, ok := pathID(w, r, "Invalid conversation ID")
	if !ok {
		return
	}

	details, err := h.svc.GetConversation(r.Context(), userID, convID, queryBool(r.URL.Query().Get("preview")))
	if err != nil {
		writeServiceError(w, h.log, "get conversation", err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (h *MessagingHandler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	convID, ok := pathID(w, r, "Invalid conversation ID")
	if !ok {
		return
	}

	if err := h.svc.DeleteConversation(r.Context(), userID, convID); err != nil {
		writeServiceError(w, h.log, "delete conversation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MessagingHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	convID, ok := pathID(w, r, "Invalid conversation ID")
	if !ok {
		return
	}

	var before *uuid.UUID
	if beforeStr := r.URL.Query().Get("before"); beforeStr != "" {
		id, err := uuid.Parse(beforeStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid before cursor")
			return
		}
		before = &id
	}

	resp, err := h.svc.ListMessages(r.Context(), userID, convID, before, queryInt(r.URL.Query().Get("limit"), 0))
	if err != nil {
		writeServiceError(w, h.log, "list messages", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *MessagingHandler) SendToConversation(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	convID, ok := pathID(w, r, "Invalid conversation ID")
	if !ok {
		return
	}

	var input messageBodyRequest
	if !decode(w, r, &input) {
		return
	}

	msg, err := h.svc.SendToConversation(r.Context(), userID, convID, input.Content, input.ImageURL)
	if err != nil {
		writeServiceError(w, h.log, "send to conversation", err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *MessagingHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var input sendMessageRequest
	if !decode(w, r, &input) {
		return
	}

	msg, err := h.svc.SendMessage(r.Context(), userID, input.ReceiverID, input.Content, input.ImageURL)
	if err != nil {
		writeServiceError(w, h.log, "send message", err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *MessagingHandler) EditMessage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	messageID, ok := pathID(w, r, "Invalid message ID")
	if !ok {
		return
	}

	var input messageBodyRequest
	if !decode(w, r, &input) {
		return
	}

	msg, err := h.svc.EditMessage(r.Context(), userID, messageID, input.Content, input.ImageURL)
	if err != nil {
		writeServiceError(w, h.log, "edit message", err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *MessagingHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	messageID, ok := pathID(w, r, "Invalid message ID")
	if !ok {
		return
	}

	if err := h.svc.DeleteMessage(r.Context(), userID, messageID); err != nil {
		writeServiceError(w, h.log, "delete message", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MessagingHandler) AcknowledgeDelivery(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	messageID, ok := pathID(w, r, "Invalid message ID")
	if !ok {
		return
	}

	msg, err := h.svc.AcknowledgeDelivery(r.Context(), userID, messageID)
	if err != nil {
		writeServiceError(w, h.log, "acknowledge delivery", err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *MessagingHandler) BatchAcknowledgeDelivery(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var input batchDeliveredRequest
	if !decode(w, r, &input) {
		return
	}

	n, err := h.svc.BatchAcknowledgeDelivery(r.Context(), userID, input.MessageIDs)
	if err != nil {
		writeServiceError(w, h.log, "batch acknowledge delivery", err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: int64(n)})
}

func (h *MessagingHandler) MarkConversationRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	convID, ok := pathID(w, r, "Invalid conversation ID")
	if !ok {
		return
	}

	n, err := h.svc.MarkConversationRead(r.Context(), userID, convID)
	if err != nil {
		writeServiceError(w, h.log, "mark conversation read", err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: int64(n)})
}

func (h *MessagingHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	n, err := h.svc.UnreadCount(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.log, "unread count", err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: n})
}

func (h *MessagingHandler) ConversationUnreadCount(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	convID, ok := pathID(w, r, "Invalid conversation ID")
	if !ok {
		return
	}

	n, err := h.svc.ConversationUnreadCount(r.Context(), userID, convID)
	if err != nil {
		writeServiceError(w, h.log, "conversation unread count", err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: n})
}

// decode reads and validates a JSON body, writing the error response itself.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return false
	}
	if errs := validator.Struct(dst); errs.HasErrors() {
		writeValidationErrors(w, errs)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, message string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", message)
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

func queryBool(s string) bool {
	b, _ := strconv.ParseBool(s)
	return b
}
