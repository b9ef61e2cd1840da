package api

import (
	"net/http"
)

// WebSocket endpoints

// HandleChatWebSocket serves the multi-room chat relay
func (h *Handler) HandleChatWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.chat == nil {
		http.Error(w, "chat mode is not enabled", http.StatusNotFound)
		return
	}
	h.chat.ServeHTTP(w, r)
}

// HandleDocumentWebSocket serves the shared document editor
func (h *Handler) HandleDocumentWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.document == nil {
		http.Error(w, "document mode is not enabled", http.StatusNotFound)
		return
	}
	h.document.ServeHTTP(w, r)
}
