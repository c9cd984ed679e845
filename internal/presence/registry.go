// Package presence tracks which users hold live connections and tells their
// friends when they come and go.
package presence

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/pulsedm/internal/logging"
	"github.com/vedran77/pulsedm/internal/metrics"
)

const (
	EventUserOnline  = "user_online"
	EventUserOffline = "user_offline"
)

const stripes = 64

// Conn is one live connection. Send must not block; it reports false when the
// event could not be queued.
type Conn interface {
	ID() string
	Send(event string, payload any) bool
}

type FriendSource interface {
	ListFriendIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// LastSeenStore persists the moment a user's last connection closed.
type LastSeenStore interface {
	TouchLastActive(ctx context.Context, id uuid.UUID, at time.Time) error
}

type OnlinePayload struct {
	UserID    uuid.UUID `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

type OfflinePayload struct {
	UserID     uuid.UUID `json:"userId"`
	LastActive time.Time `json:"lastActive"`
}

type entry struct {
	conns      map[string]Conn
	lastActive time.Time
}

// Registry maps user ids to their open connections. A user may be connected
// from several devices; presence changes only on the first connect and the
// last disconnect.
type Registry struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*entry

	// Transitions for one user are serialized so an online broadcast can never
	// overtake the offline broadcast that preceded it.
	userLocks [stripes]sync.Mutex

	friends  FriendSource
	lastSeen LastSeenStore
	now      func() time.Time
}

func NewRegistry(friends FriendSource) *Registry {
	return &Registry{
		users:   make(map[uuid.UUID]*entry),
		friends: friends,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *Registry) SetLastSeenStore(s LastSeenStore) {
	r.lastSeen = s
}

func (r *Registry) lockUser(userID uuid.UUID) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write(userID[:])
	m := &r.userLocks[h.Sum32()%stripes]
	m.Lock()
	return m
}

// Register adds conn for userID. It returns true when this is the user's
// first connection, in which case friends are told the user is online.
func (r *Registry) Register(ctx context.Context, userID uuid.UUID, conn Conn) bool {
	lock := r.lockUser(userID)
	defer lock.Unlock()

	now := r.now()

	r.mu.Lock()
	e, ok := r.users[userID]
	if !ok {
		e = &entry{conns: make(map[string]Conn)}
		r.users[userID] = e
	}
	e.conns[conn.ID()] = conn
	e.lastActive = now
	first := len(e.conns) == 1
	online := len(r.users)
	r.mu.Unlock()

	metrics.RealtimeConnections.Inc()
	metrics.RealtimeOnlineUsers.Set(float64(online))

	if first {
		r.broadcastToFriends(ctx, userID, EventUserOnline, OnlinePayload{UserID: userID, Timestamp: now})
	}
	return first
}

// Unregister removes conn. When it was the user's last connection the
// last-active time is stamped and friends are told the user went offline.
// Unknown connections are ignored.
func (r *Registry) Unregister(ctx context.Context, userID uuid.UUID, conn Conn) bool {
	lock := r.lockUser(userID)
	defer lock.Unlock()

	r.mu.Lock()
	e, ok := r.users[userID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if _, ok := e.conns[conn.ID()]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(e.conns, conn.ID())
	last := len(e.conns) == 0
	if last {
		delete(r.users, userID)
	}
	online := len(r.users)
	r.mu.Unlock()

	metrics.RealtimeConnections.Dec()
	metrics.RealtimeOnlineUsers.Set(float64(online))

	if !last {
		return false
	}

	at := r.now()
	if r.lastSeen != nil {
		if err := r.lastSeen.TouchLastActive(ctx, userID, at); err != nil {
			logging.Warn().Err(err).Str("user_id", userID.String()).Msg("presence: failed to persist last active")
		}
	}
	r.broadcastToFriends(ctx, userID, EventUserOffline, OfflinePayload{UserID: userID, LastActive: at})
	return true
}

// Touch refreshes the in-memory last-active time of a connected user.
func (r *Registry) Touch(userID uuid.UUID) {
	r.mu.Lock()
	if e, ok := r.users[userID]; ok {
		e.lastActive = r.now()
	}
	r.mu.Unlock()
}

// LastActive reports when a connected user was last seen doing something.
func (r *Registry) LastActive(userID uuid.UUID) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.users[userID]
	if !ok {
		return time.Time{}, false
	}
	return e.lastActive, true
}

// ConnectionsFor returns a snapshot of the user's connections.
func (r *Registry) ConnectionsFor(userID uuid.UUID) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.users[userID]
	if !ok {
		return nil
	}
	conns := make([]Conn, 0, len(e.conns))
	for _, c := range e.conns {
		conns = append(conns, c)
	}
	return conns
}

func (r *Registry) IsOnline(userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[userID]
	return ok
}

func (r *Registry) OnlineUsers() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	return ids
}

// SendToUser queues an event on every connection of userID and returns how
// many accepted it. Offline users are skipped silently.
func (r *Registry) SendToUser(userID uuid.UUID, event string, payload any) int {
	delivered := 0
	for _, c := range r.ConnectionsFor(userID) {
		if c.Send(event, payload) {
			delivered++
		} else {
			metrics.RecordDropped(event)
		}
	}
	return delivered
}

func (r *Registry) broadcastToFriends(ctx context.Context, userID uuid.UUID, event string, payload any) {
	friends, err := r.friends.ListFriendIDs(ctx, userID)
	if err != nil {
		logging.Warn().Err(err).
			Str("user_id", userID.String()).
			Str("event", event).
			Msg("presence: skipping broadcast, friend lookup failed")
		return
	}
	for _, id := range friends {
		r.SendToUser(id, event, payload)
	}
}
