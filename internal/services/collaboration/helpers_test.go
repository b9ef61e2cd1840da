package collaboration

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"relay/internal/models"
	"relay/internal/repository"

	"github.com/stretchr/testify/require"
)

// recordingSender captures delivered events in order
type recordingSender struct {
	mu     sync.Mutex
	events []models.Event
	closed bool
	fail   error
}

func (s *recordingSender) Send(evt models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	if s.closed {
		return ErrConnectionClosed
	}
	s.events = append(s.events, evt)
	return nil
}

func (s *recordingSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSender) Events() []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *recordingSender) OfType(t models.EventType) []models.Event {
	var out []models.Event
	for _, evt := range s.Events() {
		if evt.Type == t {
			out = append(out, evt)
		}
	}
	return out
}

func (s *recordingSender) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

func (s *recordingSender) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	t          *testing.T
	controller *Controller
	clock      *fakeClock
	senders    map[string]*recordingSender
}

func newHarness(t *testing.T, mode Mode, opts ...Option) *harness {
	t.Helper()
	clock := newFakeClock()
	router := NewRouter(mode, nil, nil)
	base := []Option{
		WithClock(clock.Now),
		WithRand(rand.New(rand.NewSource(1))),
		WithInitialDocument("Welcome..."),
	}
	c := NewController(mode, repository.NewSessionRepository(), repository.NewGroupRepository(), router, append(base, opts...)...)
	return &harness{t: t, controller: c, clock: clock, senders: make(map[string]*recordingSender)}
}

func (h *harness) connect(id string) *recordingSender {
	s := &recordingSender{}
	h.senders[id] = s
	require.NoError(h.t, h.controller.Connect(context.Background(), id, s))
	return s
}

func (h *harness) handle(id string, req models.Request) error {
	return h.controller.Handle(context.Background(), id, req)
}

func (h *harness) join(id, name, group string) *recordingSender {
	h.t.Helper()
	s, ok := h.senders[id]
	if !ok {
		s = h.connect(id)
	}
	require.NoError(h.t, h.handle(id, models.JoinRequest{DisplayName: name, GroupKey: group}))
	return s
}

func names(members []models.SessionSummary) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		out = append(out, m.DisplayName)
	}
	return out
}
