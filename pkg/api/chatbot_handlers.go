package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/docmeter/pkg/apperr"
	"github.com/platinummonkey/docmeter/pkg/chatbot"
	"github.com/platinummonkey/docmeter/pkg/httputil"
)

// ChatbotHandlers relays conversations to the chatbot
type ChatbotHandlers struct {
	chat ChatResponder
}

// NewChatbotHandlers creates a new ChatbotHandlers
func NewChatbotHandlers(chat ChatResponder) *ChatbotHandlers {
	return &ChatbotHandlers{chat: chat}
}

// RegisterRoutes registers chatbot routes on the authenticated /api router
func (h *ChatbotHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/chatbot", h.Reply).Methods(http.MethodPost)
}

// Reply answers the posted conversation with the assistant's message as a
// JSON string
func (h *ChatbotHandlers) Reply(w http.ResponseWriter, r *http.Request) {
	var req ChatbotRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteAppError(w, r, apperr.Validation("Operation arguments validation failed: %v", err))
		return
	}
	if err := chatbot.Validate(req.Messages); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	reply, err := h.chat.Reply(r.Context(), req.Messages)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, reply)
}
