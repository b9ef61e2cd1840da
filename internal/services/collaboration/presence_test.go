package collaboration

import (
	"context"
	"testing"
	"time"

	"relay/internal/models"
	"relay/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweep_DemotesIdleSessionsOnce(t *testing.T) {
	h := newHarness(t, ModeDocument, WithIdleThreshold(5*time.Second))
	alice := h.join("alice", "alice", "")
	bob := h.join("bob", "bob", "")
	alice.Reset()
	bob.Reset()

	// Not idle yet
	h.clock.Advance(4 * time.Second)
	assert.Equal(t, 0, h.controller.Sweep(context.Background(), h.clock.Now()))
	assert.Empty(t, alice.Events())

	h.clock.Advance(2 * time.Second)
	assert.Equal(t, 2, h.controller.Sweep(context.Background(), h.clock.Now()))

	for _, s := range []*recordingSender{alice, bob} {
		updates := s.OfType(models.EventMembersUpdated)
		require.Len(t, updates, 1, "one broadcast per sweep, not per session")
		for _, m := range updates[0].Payload.(models.MembersPayload).Members {
			assert.False(t, m.IsActive)
		}
	}

	// Nothing changed, nothing sent
	assert.Equal(t, 0, h.controller.Sweep(context.Background(), h.clock.Now()))
	assert.Len(t, alice.OfType(models.EventMembersUpdated), 1)
}

func TestSweep_ActivityRestoresImmediately(t *testing.T) {
	h := newHarness(t, ModeDocument, WithIdleThreshold(5*time.Second))
	h.join("alice", "alice", "")
	h.clock.Advance(6 * time.Second)
	require.Equal(t, 1, h.controller.Sweep(context.Background(), h.clock.Now()))

	s, _ := h.controller.Session("alice")
	require.False(t, s.Active)

	require.NoError(t, h.handle("alice", models.CursorUpdateRequest{Position: 3}))
	members := h.controller.Members(models.DocumentGroupKey)
	require.Len(t, members, 1)
	assert.True(t, members[0].IsActive)

	h.clock.Advance(6 * time.Second)
	require.Equal(t, 1, h.controller.Sweep(context.Background(), h.clock.Now()))
	require.NoError(t, h.handle("alice", models.DocumentChangeRequest{Content: "back"}))
	assert.True(t, h.controller.Members(models.DocumentGroupKey)[0].IsActive)
}

func TestSweep_ChatMessageRestoresActivity(t *testing.T) {
	h := newHarness(t, ModeChat, WithIdleThreshold(time.Second))
	h.join("alice", "alice", "room1")
	h.clock.Advance(2 * time.Second)
	require.Equal(t, 1, h.controller.Sweep(context.Background(), h.clock.Now()))
	assert.False(t, h.controller.Members("room1")[0].IsActive)

	require.NoError(t, h.handle("alice", models.MessageRequest{Body: "hi", GroupKey: "room1"}))
	assert.True(t, h.controller.Members("room1")[0].IsActive)
}

func TestPresenceMonitor_Run(t *testing.T) {
	h := newHarness(t, ModeDocument, WithClock(time.Now), WithIdleThreshold(20*time.Millisecond))
	alice := h.join("alice", "alice", "")
	alice.Reset()

	monitor := NewPresenceMonitor(h.controller, 10*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- monitor.Run(ctx) }()

	require.Eventually(t, func() bool {
		members := h.controller.Members(models.DocumentGroupKey)
		return len(members) == 1 && !members[0].IsActive
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop on cancel")
	}

	assert.NotEmpty(t, alice.OfType(models.EventMembersUpdated))
}

func TestSweep_IgnoresSessionsOutsideTheDocument(t *testing.T) {
	h := newHarness(t, ModeDocument, WithIdleThreshold(5*time.Second))
	alice := h.join("alice", "alice", "")
	h.join("bob", "bob", "")
	require.NoError(t, h.handle("bob", models.LeaveRequest{}))

	h.clock.Advance(6 * time.Second)
	require.NoError(t, h.handle("alice", models.CursorUpdateRequest{Position: 1}))
	alice.Reset()

	assert.Equal(t, 0, h.controller.Sweep(context.Background(), h.clock.Now()))
	assert.Empty(t, alice.OfType(models.EventMembersUpdated), "member list did not change")

	bob, ok := h.controller.Session("bob")
	require.True(t, ok)
	assert.True(t, bob.Active)
}

// listPanicStore blows up whenever the sweep lists sessions
type listPanicStore struct {
	*repository.SessionRepositoryImpl
}

func (listPanicStore) All() []*models.Session {
	panic("session index corrupted")
}

func TestSweep_PanicIsContained(t *testing.T) {
	store := listPanicStore{SessionRepositoryImpl: repository.NewSessionRepository()}
	c := NewController(ModeDocument, store, repository.NewGroupRepository(), NewRouter(ModeDocument, nil, nil))
	ctx := context.Background()

	require.NotPanics(t, func() {
		assert.Equal(t, 0, c.Sweep(ctx, time.Now()))
	})

	// Locks were released; the controller keeps serving
	alice := &recordingSender{}
	done := make(chan error, 1)
	go func() {
		if err := c.Connect(ctx, "alice", alice); err != nil {
			done <- err
			return
		}
		done <- c.Handle(ctx, "alice", models.JoinRequest{DisplayName: "alice"})
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("controller locks were not released after panic")
	}
	assert.Len(t, alice.OfType(models.EventDocumentSnapshot), 1)
}
