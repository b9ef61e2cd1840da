package collaboration

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"relay/internal/logging"
	"relay/internal/middleware"
	"relay/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

// TransportConfig holds the per-connection websocket settings
type TransportConfig struct {
	SendBufferSize int
	MaxMessageSize int64
	PongWait       time.Duration
	PingPeriod     time.Duration
	WriteWait      time.Duration
	AllowedOrigin  string
}

// DefaultTransportConfig mirrors the config package defaults
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		SendBufferSize: 256,
		MaxMessageSize: 1 << 20,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		WriteWait:      10 * time.Second,
		AllowedOrigin:  "*",
	}
}

// Client is the websocket side of one connection. It implements Sender.
type Client struct {
	ID   string
	conn *websocket.Conn
	send chan []byte

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func newClient(id string, conn *websocket.Conn, bufferSize int) *Client {
	return &Client{
		ID:   id,
		conn: conn,
		send: make(chan []byte, bufferSize),
	}
}

// Send queues evt for the write pump. A full buffer means the client is too
// slow; it is closed and the read pump will disconnect it.
func (c *Client) Send(evt models.Event) error {
	data, err := models.EncodeEvent(evt)
	if err != nil {
		return err
	}
	if err := c.enqueue(data); err != nil {
		if errors.Is(err, ErrSendBufferFull) {
			_ = c.Close()
		}
		return err
	}
	return nil
}

func (c *Client) enqueue(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrConnectionClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close stops the write pump, which sends a close frame. Safe to call more
// than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
	})
	return nil
}

// WebSocketHandler upgrades HTTP requests and runs the per-connection pumps
type WebSocketHandler struct {
	controller *Controller
	cfg        TransportConfig
	upgrader   websocket.Upgrader
	logger     *slog.Logger

	// mu orders pump registration against Wait
	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
}

// NewWebSocketHandler creates a handler feeding controller
func NewWebSocketHandler(controller *Controller, cfg TransportConfig, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &WebSocketHandler{
		controller: controller,
		cfg:        cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowedOrigin == "" || cfg.AllowedOrigin == "*" {
					return true
				}
				return r.Header.Get("Origin") == cfg.AllowedOrigin
			},
		},
		logger: logger.With("mode", string(controller.Mode())),
	}
}

// ServeHTTP handles one websocket connection
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// The request context ends when ServeHTTP returns; keep its values
	// (span, request id) for the lifetime of the connection.
	ctx := context.WithoutCancel(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		middleware.AddSpanError(ctx, err)
		return
	}

	id := uuid.NewString()
	middleware.AddSpanEvent(ctx, "websocket.connected", attribute.String("conn.id", id))

	h.mu.Lock()
	if h.draining {
		h.mu.Unlock()
		h.refuse(conn, id, ErrClosed)
		return
	}
	h.wg.Add(2)
	h.mu.Unlock()

	client := newClient(id, conn, h.cfg.SendBufferSize)
	if err := h.controller.Connect(ctx, id, client); err != nil {
		h.controller.Disconnect(ctx, id)
		h.wg.Add(-2)
		h.refuse(conn, id, err)
		return
	}

	go func() {
		defer h.wg.Done()
		h.writePump(client)
	}()
	go func() {
		defer h.wg.Done()
		h.readPump(ctx, client)
	}()
}

// refuse closes a freshly upgraded connection the controller will not serve
func (h *WebSocketHandler) refuse(conn *websocket.Conn, id string, err error) {
	h.logger.Info("connection refused", "conn_id", id, "error", err)
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, rejectionReason(err)),
		time.Now().Add(h.cfg.WriteWait))
	conn.Close()
}

// Wait stops accepting connections and blocks until every pump has exited
// or ctx is done
func (h *WebSocketHandler) Wait(ctx context.Context) error {
	h.mu.Lock()
	h.draining = true
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readPump decodes inbound frames and hands them to the controller.
// Learning: Each connection has its own reader goroutine, so one
// connection's requests are applied in the order they were sent.
func (h *WebSocketHandler) readPump(ctx context.Context, c *Client) {
	defer func() {
		h.controller.Disconnect(ctx, c.ID)
		_ = c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(h.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.logger.Warn("websocket read error", "conn_id", c.ID, "error", err)
			}
			return
		}

		req, err := models.DecodeRequest(data)
		if err != nil {
			h.controller.Reject(ctx, c.ID, err)
			continue
		}

		_ = h.controller.Handle(ctx, c.ID, req)
	}
}

// writePump drains the send queue onto the socket and keeps the connection
// alive with pings
func (h *WebSocketHandler) writePump(c *Client) {
	ticker := time.NewTicker(h.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if !ok {
				// Channel closed
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			// One JSON event per frame
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Debug("websocket write failed", "conn_id", c.ID, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
