package collaboration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"relay/internal/logging"
	"relay/internal/metrics"
	"relay/internal/middleware"
	"relay/internal/models"

	"github.com/segmentio/ksuid"
	"go.opentelemetry.io/otel/attribute"
)

/*
LEARNING: SINGLE-WRITER STATE WITH ORDERED FAN-OUT

The controller owns the session registry, the group directory and the shared
document. One mutex (mu) guards all three as a single critical section, held
only while an event mutates state and computes the deliveries it causes.

Deliveries run after mu is released, under dispatchMu. dispatchMu is taken
before mu is dropped, so the next event can mutate state while this one is
still delivering, yet no connection ever sees events out of the order in
which they were generated.
*/

// Mode selects which half of the request set a controller serves
type Mode string

const (
	ModeChat     Mode = "chat"
	ModeDocument Mode = "document"
)

// DefaultPalette is the set of colors handed out to document-mode sessions
var DefaultPalette = []string{
	"#3B82F6", "#10B981", "#F59E0B", "#EF4444",
	"#8B5CF6", "#06B6D4", "#84CC16", "#F97316",
}

const shutdownNotice = "Server is shutting down"

// Controller wires transport lifecycle events and client requests to the
// registry, the directory and the router.
type Controller struct {
	mode Mode

	mu              sync.Mutex
	sessions        SessionStore
	groups          GroupStore
	document        models.Document
	lastMessageTime time.Time
	closed          bool

	dispatchMu sync.Mutex
	router     *Router

	idleThreshold time.Duration
	palette       []string
	rng           *rand.Rand
	now           func() time.Time
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

// Option configures a Controller
type Option func(*Controller)

// WithLogger sets the controller logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithInitialDocument sets the shared document's starting content
func WithInitialDocument(content string) Option {
	return func(c *Controller) { c.document.Content = content }
}

// WithIdleThreshold sets how long a session may stay silent before the
// presence sweep marks it idle
func WithIdleThreshold(d time.Duration) Option {
	return func(c *Controller) { c.idleThreshold = d }
}

// WithPalette sets the colors assigned to document-mode sessions
func WithPalette(colors []string) Option {
	return func(c *Controller) { c.palette = colors }
}

// WithRand sets the random source used for color selection
func WithRand(rng *rand.Rand) Option {
	return func(c *Controller) { c.rng = rng }
}

// NewController creates a controller for mode
func NewController(mode Mode, sessions SessionStore, groups GroupStore, router *Router, opts ...Option) *Controller {
	c := &Controller{
		mode:          mode,
		sessions:      sessions,
		groups:        groups,
		router:        router,
		idleThreshold: 5 * time.Second,
		palette:       DefaultPalette,
		now:           time.Now,
		logger:        logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rng == nil {
		c.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	c.logger = c.logger.With("mode", string(mode))
	return c
}

// Mode returns the controller mode
func (c *Controller) Mode() Mode {
	return c.mode
}

// Stats is a point-in-time view of the controller state
type Stats struct {
	Sessions       int
	Groups         int
	DocumentLength int
}

// Stats returns current counts
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Sessions:       c.sessions.Len(),
		Groups:         c.groups.Len(),
		DocumentLength: len(c.document.Content),
	}
}

// Document returns the current shared document content
func (c *Controller) Document() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.document.Content
}

// Members returns the summaries of a group's members
func (c *Controller) Members(groupKey string) []models.SessionSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summaries(groupKey)
}

// GroupExists reports whether the group currently has members
func (c *Controller) GroupExists(groupKey string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.groups.Exists(groupKey)
}

// Session returns a copy of the session for id
func (c *Controller) Session(id string) (models.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions.Get(id)
	if !ok {
		return models.Session{}, false
	}
	return *s, true
}

// Connect creates an empty session for a newly opened connection.
// After Shutdown it returns ErrClosed and attaches nothing.
func (c *Controller) Connect(ctx context.Context, id string, sender Sender) (err error) {
	ctx, span := middleware.StartSpan(ctx, "Controller.Connect", attribute.String("conn.id", id))
	defer span.End()
	defer c.contain(ctx, id, "connect", false, &err)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	c.sessions.Create(id)
	c.router.Attach(id, sender)
	c.recordPopulation()

	c.logger.Info("connection opened", "conn_id", id)
	return nil
}

// Disconnect tears down a connection. Calling it again for the same id is
// a no-op.
func (c *Controller) Disconnect(ctx context.Context, id string) {
	ctx, span := middleware.StartSpan(ctx, "Controller.Disconnect", attribute.String("conn.id", id))
	defer span.End()
	defer c.contain(ctx, id, "disconnect", false, nil)

	err := c.apply(id, func(out *outbox) error {
		c.router.Detach(id)
		s, ok := c.sessions.Remove(id)
		if !ok {
			return ErrUnknownSession
		}
		if s.Joined() {
			c.leaveGroup(s, out)
		}
		c.recordPopulation()
		c.logger.Info("connection closed", "conn_id", id, "display_name", s.DisplayName)
		return nil
	})
	c.record(ctx, "disconnect", err)
}

// Handle applies one client request from connection id.
// Invalid requests are answered with a rejected event to id only.
func (c *Controller) Handle(ctx context.Context, id string, req models.Request) (err error) {
	kind := "unknown"
	if req != nil {
		kind = string(req.Kind())
	}

	ctx, span := middleware.StartSpan(ctx, "Controller."+kind,
		attribute.String("conn.id", id),
		attribute.String("event.id", ksuid.New().String()),
		attribute.String("mode", string(c.mode)),
	)
	defer span.End()
	defer c.contain(ctx, id, kind, true, &err)

	switch r := req.(type) {
	case models.JoinRequest:
		err = c.join(id, r)
	case models.LeaveRequest:
		err = c.leave(id, r)
	case models.MessageRequest:
		err = c.message(id, r)
	case models.DocumentChangeRequest:
		err = c.documentChange(id, r)
	case models.CursorUpdateRequest:
		err = c.cursorUpdate(id, r)
	default:
		err = c.apply(id, func(*outbox) error {
			return fmt.Errorf("%w: unsupported request %T", ErrInvalidRequest, req)
		})
	}

	c.record(ctx, kind, err)
	return err
}

// Reject reports a request that failed before it reached Handle, such as
// an undecodable frame
func (c *Controller) Reject(ctx context.Context, id string, cause error) {
	defer c.contain(ctx, id, "decode", true, nil)

	err := c.apply(id, func(*outbox) error {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, cause)
	})
	c.record(ctx, "decode", err)
}

// Shutdown notifies chat rooms and closes every connection
func (c *Controller) Shutdown(ctx context.Context) {
	ctx, span := middleware.StartSpan(ctx, "Controller.Shutdown")
	defer span.End()
	defer c.contain(ctx, "", "shutdown", false, nil)

	_ = c.apply("", func(out *outbox) error {
		c.closed = true
		if c.mode != ModeChat {
			return nil
		}
		now := c.nextMessageTime()
		for _, key := range c.groups.Keys() {
			msg := models.ChatMessage{
				ID:          models.MessageID("server", now),
				DisplayName: "system",
				Body:        shutdownNotice,
				Timestamp:   now,
				Kind:        models.MessageKindSystem,
			}
			out.toGroup(c.snapshot(key), models.ChatMessageEvent(msg), "")
		}
		return nil
	})

	c.router.CloseAll()
	c.logger.Info("controller shut down")
}

// contain must be deferred directly. It turns a panic raised while handling
// an event into ErrInternal stored in errp, so the fault stays inside that
// event. With notify set the connection id is told its request failed.
func (c *Controller) contain(ctx context.Context, id, kind string, notify bool, errp *error) {
	r := recover()
	if r == nil {
		return
	}
	err := fmt.Errorf("%w: %v", ErrInternal, r)
	if errp != nil {
		*errp = err
	}

	c.logger.Error("panic while handling event",
		"conn_id", id,
		"kind", kind,
		"panic", fmt.Sprint(r),
		"stack", string(debug.Stack()),
	)
	middleware.AddSpanError(ctx, err)
	c.metrics.Event(string(c.mode), kind, metrics.OutcomePanic)
	if notify {
		c.router.SendTo(id, models.RejectedEvent(rejectionReason(err)))
	}
}

// apply runs fn under the state lock and flushes the deliveries it queued.
// A rejection error queues a rejected event to id; ErrUnknownSession is
// swallowed.
func (c *Controller) apply(id string, fn func(out *outbox) error) error {
	out, err := c.locked(id, fn)
	defer c.dispatchMu.Unlock()
	c.router.flush(out)
	return err
}

// locked returns with dispatchMu held
func (c *Controller) locked(id string, fn func(out *outbox) error) (out outbox, err error) {
	c.mu.Lock()
	defer func() {
		if r := recover(); r != nil {
			c.mu.Unlock()
			panic(r)
		}
		c.dispatchMu.Lock()
		c.mu.Unlock()
	}()

	err = fn(&out)
	if err != nil && !errors.Is(err, ErrUnknownSession) {
		out = outbox{}
		out.sendTo(id, models.RejectedEvent(rejectionReason(err)))
	}
	return out, err
}

// lookup finds the session for id. A connection that is attached but has
// no session (chat mode after leave) is reported as not joined.
func (c *Controller) lookup(id string) (*models.Session, error) {
	if s, ok := c.sessions.Get(id); ok {
		return s, nil
	}
	if c.router.Attached(id) {
		return nil, ErrNotJoined
	}
	return nil, ErrUnknownSession
}

func (c *Controller) join(id string, req models.JoinRequest) error {
	return c.apply(id, func(out *outbox) error {
		name := strings.TrimSpace(req.DisplayName)
		key := strings.TrimSpace(req.GroupKey)
		if c.mode == ModeDocument {
			key = models.DocumentGroupKey
		}
		if name == "" {
			return fmt.Errorf("%w: display name is required", ErrInvalidRequest)
		}
		if key == "" {
			return fmt.Errorf("%w: group key is required", ErrInvalidRequest)
		}

		s, ok := c.sessions.Get(id)
		if !ok {
			if !c.router.Attached(id) {
				return ErrUnknownSession
			}
			// Chat leave deletes the session; the connection may join again
			s = c.sessions.Create(id)
		}

		if s.Joined() {
			c.leaveGroup(s, out)
		}

		s.DisplayName = name
		s.GroupKey = key
		s.Touch(c.now())
		if c.mode == ModeDocument && s.Color == "" {
			s.Color = c.pickColor(id)
		}
		c.groups.AddMember(key, id)

		members := c.summaries(key)
		out.toGroup(c.snapshot(key), models.MemberJoinedEvent(name, members), id)
		if c.mode == ModeDocument {
			out.sendTo(id, models.DocumentSnapshotEvent(c.document.Content, members))
		} else {
			out.sendTo(id, models.JoinedGroupEvent(members))
		}

		c.recordPopulation()
		c.logger.Info("member joined", "conn_id", id, "display_name", name, "group", key)
		return nil
	})
}

func (c *Controller) leave(id string, _ models.LeaveRequest) error {
	return c.apply(id, func(out *outbox) error {
		s, ok := c.sessions.Get(id)
		if !ok || !s.Joined() {
			return ErrUnknownSession
		}

		key := s.GroupKey
		c.leaveGroup(s, out)
		if c.mode == ModeChat {
			c.sessions.Remove(id)
		}

		c.recordPopulation()
		c.logger.Info("member left", "conn_id", id, "display_name", s.DisplayName, "group", key)
		return nil
	})
}

// leaveGroup removes s from its group and tells the remaining members
func (c *Controller) leaveGroup(s *models.Session, out *outbox) {
	key := s.GroupKey
	c.groups.RemoveMember(key, s.ID)
	s.GroupKey = ""
	if !c.groups.Exists(key) {
		return
	}
	out.toGroup(c.snapshot(key), models.MemberLeftEvent(s.DisplayName, c.summaries(key)), s.ID)
}

func (c *Controller) message(id string, req models.MessageRequest) error {
	return c.apply(id, func(out *outbox) error {
		if c.mode != ModeChat {
			return fmt.Errorf("%w: message", ErrUnsupported)
		}

		s, err := c.lookup(id)
		if err != nil {
			return err
		}
		if !s.Joined() {
			return ErrNotJoined
		}
		if !c.groups.IsMember(strings.TrimSpace(req.GroupKey), id) {
			return ErrGroupMismatch
		}
		body := strings.TrimSpace(req.Body)
		if body == "" {
			return fmt.Errorf("%w: message body is required", ErrInvalidRequest)
		}

		now := c.nextMessageTime()
		c.sessions.Update(id, func(s *models.Session) { s.Touch(now) })

		ts := now
		if req.ClientTimestamp > 0 {
			ts = time.UnixMilli(req.ClientTimestamp)
		}

		msg := models.ChatMessage{
			ID:          models.MessageID(id, now),
			DisplayName: s.DisplayName,
			Body:        body,
			Timestamp:   ts,
			Kind:        models.MessageKindOrdinary,
		}
		out.toGroup(c.snapshot(s.GroupKey), models.ChatMessageEvent(msg), "")

		c.logger.Debug("chat message", "conn_id", id, "group", s.GroupKey, "message_id", msg.ID)
		return nil
	})
}

func (c *Controller) documentChange(id string, req models.DocumentChangeRequest) error {
	return c.apply(id, func(out *outbox) error {
		if _, err := c.joinedDocumentSession(id); err != nil {
			return err
		}

		c.document.Content = req.Content
		c.sessions.Update(id, func(s *models.Session) { s.Touch(c.now()) })

		out.toAll(models.DocumentUpdatedEvent(c.document.Content), id)
		out.toAll(models.MembersUpdatedEvent(c.summaries(models.DocumentGroupKey)), "")

		c.logger.Debug("document changed", "conn_id", id, "length", len(req.Content))
		return nil
	})
}

func (c *Controller) cursorUpdate(id string, req models.CursorUpdateRequest) error {
	return c.apply(id, func(out *outbox) error {
		if _, err := c.joinedDocumentSession(id); err != nil {
			return err
		}
		if req.Position < 0 {
			return fmt.Errorf("%w: cursor position must not be negative", ErrInvalidRequest)
		}

		c.sessions.Update(id, func(s *models.Session) {
			s.CursorPosition = req.Position
			s.Touch(c.now())
		})

		out.toAll(models.MembersUpdatedEvent(c.summaries(models.DocumentGroupKey)), "")
		return nil
	})
}

func (c *Controller) joinedDocumentSession(id string) (*models.Session, error) {
	if c.mode != ModeDocument {
		return nil, ErrUnsupported
	}
	s, err := c.lookup(id)
	if err != nil {
		return nil, err
	}
	if !s.Joined() {
		return nil, ErrNotJoined
	}
	return s, nil
}

// snapshot captures the membership of a group for delivery
func (c *Controller) snapshot(key string) Group {
	return Group{Key: key, Members: c.groups.MembersOf(key)}
}

func (c *Controller) summaries(key string) []models.SessionSummary {
	ids := c.groups.MembersOf(key)
	result := make([]models.SessionSummary, 0, len(ids))
	for _, id := range ids {
		if s, ok := c.sessions.Get(id); ok {
			result = append(result, s.Summary(c.mode == ModeDocument))
		}
	}
	return result
}

// pickColor prefers a palette color no other member is using
func (c *Controller) pickColor(id string) string {
	if len(c.palette) == 0 {
		return ""
	}
	used := make(map[string]bool)
	for _, memberID := range c.groups.MembersOf(models.DocumentGroupKey) {
		if memberID == id {
			continue
		}
		if s, ok := c.sessions.Get(memberID); ok {
			used[s.Color] = true
		}
	}

	available := make([]string, 0, len(c.palette))
	for _, color := range c.palette {
		if !used[color] {
			available = append(available, color)
		}
	}
	if len(available) == 0 {
		available = c.palette
	}
	return available[c.rng.Intn(len(available))]
}

// nextMessageTime returns a server timestamp strictly later, at millisecond
// resolution, than the previous one so message ids never collide.
func (c *Controller) nextMessageTime() time.Time {
	now := c.now().Truncate(time.Millisecond)
	if !now.After(c.lastMessageTime) {
		now = c.lastMessageTime.Add(time.Millisecond)
	}
	c.lastMessageTime = now
	return now
}

func (c *Controller) recordPopulation() {
	c.metrics.SetPopulation(string(c.mode), c.sessions.Len(), c.groups.Len())
}

func (c *Controller) record(ctx context.Context, kind string, err error) {
	switch {
	case err == nil:
		c.metrics.Event(string(c.mode), kind, metrics.OutcomeOK)
	case errors.Is(err, ErrUnknownSession):
		c.metrics.Event(string(c.mode), kind, metrics.OutcomeIgnored)
	case errors.Is(err, ErrInternal):
		// counted by the panic handler
	default:
		c.metrics.Event(string(c.mode), kind, metrics.OutcomeRejected)
		middleware.AddSpanError(ctx, err)
		c.logger.Debug("request rejected", "kind", kind, "error", err)
	}
}
