package collaboration

import (
	"log/slog"
	"sync"

	"relay/internal/logging"
	"relay/internal/metrics"
	"relay/internal/models"
)

// Group is a membership snapshot taken while the controller held its lock
type Group struct {
	Key     string
	Members []string
}

// Router is the only path by which events reach clients.
// Learning: One failing recipient never blocks or fails the others
type Router struct {
	mode    Mode
	mu      sync.RWMutex
	conns   map[string]Sender
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRouter creates a router with no attached connections
func NewRouter(mode Mode, logger *slog.Logger, m *metrics.Metrics) *Router {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Router{
		mode:    mode,
		conns:   make(map[string]Sender),
		logger:  logger,
		metrics: m,
	}
}

// Attach registers the sender for a connection
func (r *Router) Attach(id string, s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = s
}

// Detach unregisters a connection and returns its sender
func (r *Router) Detach(id string) (Sender, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.conns[id]
	delete(r.conns, id)
	return s, ok
}

// Attached reports whether the connection is still registered
func (r *Router) Attached(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[id]
	return ok
}

// Len returns the number of attached connections
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// SendTo delivers evt to exactly one connection
func (r *Router) SendTo(id string, evt models.Event) bool {
	r.mu.RLock()
	s, ok := r.conns[id]
	r.mu.RUnlock()

	return r.deliver(id, s, ok, evt)
}

// BroadcastToGroup delivers evt to every member of g except excludeID.
// It returns the number of successful deliveries.
func (r *Router) BroadcastToGroup(g Group, evt models.Event, excludeID string) int {
	delivered := 0
	for _, id := range g.Members {
		if id == excludeID {
			continue
		}
		if r.SendTo(id, evt) {
			delivered++
		}
	}
	return delivered
}

// BroadcastToAll delivers evt to every attached connection except excludeID
func (r *Router) BroadcastToAll(evt models.Event, excludeID string) int {
	r.mu.RLock()
	targets := make(map[string]Sender, len(r.conns))
	for id, s := range r.conns {
		if id != excludeID {
			targets[id] = s
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for id, s := range targets {
		if r.deliver(id, s, true, evt) {
			delivered++
		}
	}
	return delivered
}

// CloseAll closes and detaches every connection
func (r *Router) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]Sender)
	r.mu.Unlock()

	for id, s := range conns {
		if err := s.Close(); err != nil {
			r.logger.Debug("close connection failed", "conn_id", id, "error", err)
		}
	}
}

func (r *Router) deliver(id string, s Sender, ok bool, evt models.Event) bool {
	if !ok {
		// Disconnected between snapshot and delivery
		r.metrics.Delivery(string(r.mode), string(evt.Type), metrics.DeliveryUnknown)
		return false
	}
	if err := s.Send(evt); err != nil {
		r.logger.Warn("delivery failed",
			"conn_id", id,
			"event", evt.Type,
			"error", err,
		)
		r.metrics.Delivery(string(r.mode), string(evt.Type), metrics.DeliveryDropped)
		return false
	}
	r.metrics.Delivery(string(r.mode), string(evt.Type), metrics.DeliveryOK)
	return true
}

// outbox collects the deliveries produced by one event while the state lock
// is held; they are flushed in order once the lock is released.
type outbox []dispatch

type dispatchScope int

const (
	scopeOne dispatchScope = iota
	scopeGroup
	scopeAll
)

type dispatch struct {
	scope   dispatchScope
	target  string
	group   Group
	exclude string
	event   models.Event
}

func (o *outbox) sendTo(id string, evt models.Event) {
	*o = append(*o, dispatch{scope: scopeOne, target: id, event: evt})
}

func (o *outbox) toGroup(g Group, evt models.Event, excludeID string) {
	*o = append(*o, dispatch{scope: scopeGroup, group: g, exclude: excludeID, event: evt})
}

func (o *outbox) toAll(evt models.Event, excludeID string) {
	*o = append(*o, dispatch{scope: scopeAll, exclude: excludeID, event: evt})
}

// flush delivers every queued dispatch in order
func (r *Router) flush(o outbox) {
	for _, d := range o {
		switch d.scope {
		case scopeOne:
			r.SendTo(d.target, d.event)
		case scopeGroup:
			r.BroadcastToGroup(d.group, d.event, d.exclude)
		case scopeAll:
			r.BroadcastToAll(d.event, d.exclude)
		}
	}
}
