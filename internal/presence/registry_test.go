package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	event   string
	payload any
}

type fakeConn struct {
	id string

	mu     sync.Mutex
	events []sent
}

func newFakeConn() *fakeConn {
	return &fakeConn{id: uuid.NewString()}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(event string, payload any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, sent{event: event, payload: payload})
	return true
}

func (c *fakeConn) received(event string) []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []any
	for _, e := range c.events {
		if e.event == event {
			out = append(out, e.payload)
		}
	}
	return out
}

type staticFriends map[uuid.UUID][]uuid.UUID

func (f staticFriends) ListFriendIDs(_ context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	return f[id], nil
}

type failingFriends struct{ calls int }

func (f *failingFriends) ListFriendIDs(context.Context, uuid.UUID) ([]uuid.UUID, error) {
	f.calls++
	return nil, errors.New("store unavailable")
}

type recordingLastSeen struct {
	mu    sync.Mutex
	calls map[uuid.UUID]time.Time
}

func (s *recordingLastSeen) TouchLastActive(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[uuid.UUID]time.Time)
	}
	s.calls[id] = at
	return nil
}

func TestRegistry_OnlineOfflineOnlyOnTransitions(t *testing.T) {
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()
	reg := NewRegistry(staticFriends{alice: {bob}, bob: {alice}})
	seen := &recordingLastSeen{}
	reg.SetLastSeenStore(seen)

	bobConn := newFakeConn()
	reg.Register(ctx, bob, bobConn)

	phone, laptop := newFakeConn(), newFakeConn()
	assert.True(t, reg.Register(ctx, alice, phone))
	assert.False(t, reg.Register(ctx, alice, laptop))
	require.Len(t, bobConn.received(EventUserOnline), 1)
	assert.Len(t, reg.ConnectionsFor(alice), 2)

	assert.False(t, reg.Unregister(ctx, alice, phone))
	assert.Empty(t, bobConn.received(EventUserOffline))
	assert.True(t, reg.IsOnline(alice))

	assert.True(t, reg.Unregister(ctx, alice, laptop))
	offline := bobConn.received(EventUserOffline)
	require.Len(t, offline, 1)
	payload := offline[0].(OfflinePayload)
	assert.Equal(t, alice, payload.UserID)
	assert.False(t, payload.LastActive.IsZero())
	assert.Equal(t, payload.LastActive, seen.calls[alice])

	assert.False(t, reg.IsOnline(alice))
	assert.Empty(t, reg.ConnectionsFor(alice))
}

func TestRegistry_UnregisterUnknownConnIsNoop(t *testing.T) {
	ctx := context.Background()
	alice := uuid.New()
	reg := NewRegistry(staticFriends{})

	assert.False(t, reg.Unregister(ctx, alice, newFakeConn()))

	conn := newFakeConn()
	reg.Register(ctx, alice, conn)
	assert.False(t, reg.Unregister(ctx, alice, newFakeConn()))
	assert.True(t, reg.IsOnline(alice))
}

func TestRegistry_BroadcastOnlyReachesFriends(t *testing.T) {
	ctx := context.Background()
	alice, bob, carol := uuid.New(), uuid.New(), uuid.New()
	reg := NewRegistry(staticFriends{alice: {bob}})

	bobConn, carolConn := newFakeConn(), newFakeConn()
	reg.Register(ctx, bob, bobConn)
	reg.Register(ctx, carol, carolConn)
	reg.Register(ctx, alice, newFakeConn())

	assert.Len(t, bobConn.received(EventUserOnline), 1)
	assert.Empty(t, carolConn.received(EventUserOnline))
	assert.ElementsMatch(t, []uuid.UUID{alice, bob, carol}, reg.OnlineUsers())
}

func TestRegistry_ConcurrentConnectsKeepCountsConsistent(t *testing.T) {
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()
	reg := NewRegistry(staticFriends{alice: {bob}})
	bobConn := newFakeConn()
	reg.Register(ctx, bob, bobConn)

	conns := make([]*fakeConn, 20)
	var wg sync.WaitGroup
	for i := range conns {
		conns[i] = newFakeConn()
		wg.Add(1)
		go func(c *fakeConn) {
			defer wg.Done()
			reg.Register(ctx, alice, c)
		}(conns[i])
	}
	wg.Wait()
	assert.Len(t, reg.ConnectionsFor(alice), 20)

	for _, c := range conns {
		wg.Add(1)
		go func(c *fakeConn) {
			defer wg.Done()
			reg.Unregister(ctx, alice, c)
		}(c)
	}
	wg.Wait()

	assert.Len(t, bobConn.received(EventUserOnline), 1)
	assert.Len(t, bobConn.received(EventUserOffline), 1)
	assert.False(t, reg.IsOnline(alice))
}

func TestBreakerFriends_OpensAfterConsecutiveFailures(t *testing.T) {
	source := &failingFriends{}
	b := NewBreakerFriends(source, 3, time.Minute)

	for i := 0; i < 3; i++ {
		_, err := b.ListFriendIDs(context.Background(), uuid.New())
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := b.ListFriendIDs(context.Background(), uuid.New())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 3, source.calls)
}

func TestRegistry_FriendLookupFailureDoesNotBlockRegister(t *testing.T) {
	reg := NewRegistry(NewBreakerFriends(&failingFriends{}, 1, time.Minute))
	conn := newFakeConn()

	assert.True(t, reg.Register(context.Background(), uuid.New(), conn))
	assert.Empty(t, conn.received(EventUserOnline))
}
