package api

import (
	"log/slog"

	"relay/internal/logging"
)

// Handler groups the HTTP entry points of the relay.
// A nil socket handler means that mode is not served.
type Handler struct {
	chat     SocketHandler
	document SocketHandler
	metrics  MetricsExporter
	logger   *slog.Logger
}

func NewHandler(chat, document SocketHandler, metrics MetricsExporter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{
		chat:     chat,
		document: document,
		metrics:  metrics,
		logger:   logger,
	}
}
