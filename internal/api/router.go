package api

import (
	"net/http"

	"relay/internal/middleware"

	"github.com/gorilla/mux"
)

func SetupRoutes(h *Handler, allowedOrigin string) *mux.Router {
	r := mux.NewRouter()

	// Learning: Middleware runs in order - tracing first, then recovery, then CORS
	r.Use(middleware.TracingMiddleware(h.logger))
	r.Use(middleware.ErrorRecoveryMiddleware)
	r.Use(middleware.CORSMiddleware(allowedOrigin))

	// WebSocket routes
	r.HandleFunc("/ws/chat", h.HandleChatWebSocket).Methods(http.MethodGet)
	r.HandleFunc("/ws/document", h.HandleDocumentWebSocket).Methods(http.MethodGet)

	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler()).Methods(http.MethodGet)
	}

	return r
}
