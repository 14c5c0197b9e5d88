package handlers

import "net/http"

// Register mounts the messaging API on mux behind auth.
func (h *MessagingHandler) Register(mux *http.ServeMux, auth func(http.Handler) http.Handler) {
	handle := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, auth(fn))
	}

	// Conversations
	handle("POST /api/v1/conversations", h.StartConversation)
	handle("GET /api/v1/conversations", h.ListConversations)
	handle("GET /api/v1/conversations/{id}", h.GetConversation)
	handle("DELETE /api/v1/conversations/{id}", h.DeleteConversation)
	handle("GET /api/v1/conversations/{id}/messages", h.ListMessages)
	handle("POST /api/v1/conversations/{id}/messages", h.SendToConversation)
	handle("POST /api/v1/conversations/{id}/read", h.MarkConversationRead)
	handle("GET /api/v1/conversations/{id}/unread-count", h.ConversationUnreadCount)

	// Messages
	handle("POST /api/v1/messages", h.SendMessage)
	handle("PATCH /api/v1/messages/{id}", h.EditMessage)
	handle("DELETE /api/v1/messages/{id}", h.DeleteMessage)
	handle("POST /api/v1/messages/{id}/delivered", h.AcknowledgeDelivery)
	handle("POST /api/v1/messages/delivered", h.BatchAcknowledgeDelivery)
	handle("GET /api/v1/messages/unread-count", h.UnreadCount)
}
