package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/pulsedm/internal/database"
	"github.com/vedran77/pulsedm/internal/domain"
	"github.com/vedran77/pulsedm/internal/repository"
	"github.com/vedran77/pulsedm/internal/repository/sqlite"
	"gorm.io/gorm"
)

type recordingNotifier struct {
	mu       sync.Mutex
	sent     []*domain.Message
	receipts []ReadReceipt
	edited   []*domain.Message
	deleted  []*domain.Message
}

func (n *recordingNotifier) NotifyNewMessage(msg *domain.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
}

func (n *recordingNotifier) NotifyMessagesRead(r ReadReceipt) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.receipts = append(n.receipts, r)
}

func (n *recordingNotifier) NotifyMessageEdited(msg *domain.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.edited = append(n.edited, msg)
}

func (n *recordingNotifier) NotifyMessageDeleted(msg *domain.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deleted = append(n.deleted, msg)
}

// tickClock advances one millisecond per call so consecutive sends get
// distinct, increasing timestamps.
type tickClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

type testEnv struct {
	db        *gorm.DB
	users     *sqlite.UserRepo
	friends   *sqlite.FriendRepo
	msgRepo   *sqlite.MessageRepo
	convRepo  *sqlite.ConversationRepo
	messages  *MessageService
	convs     *ConversationService
	dm        *DMService
	reconcile *ReconcileService
	identity  *IdentityService
	notifier  *recordingNotifier
	clock     *tickClock

	alice, bob, carol uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.OpenSQLite("")
	require.NoError(t, err)
	require.NoError(t, sqlite.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	env := &testEnv{
		db:       db,
		users:    sqlite.NewUserRepo(db),
		friends:  sqlite.NewFriendRepo(db),
		msgRepo:  sqlite.NewMessageRepo(db),
		convRepo: sqlite.NewConversationRepo(db),
		notifier: &recordingNotifier{},
		clock:    &tickClock{t: time.Now().UTC().Truncate(time.Millisecond)},
	}

	env.wire(env.msgRepo, env.convRepo)
	env.identity = NewIdentityService(env.users, "test-secret", time.Hour)

	env.alice = env.createUser(t, "alice")
	env.bob = env.createUser(t, "bob")
	env.carol = env.createUser(t, "carol")
	require.NoError(t, env.friends.Add(context.Background(), env.alice, env.bob))

	return env
}

// wire builds the services on top of msgs and convs, which tests may wrap to
// inject store failures.
func (e *testEnv) wire(msgs repository.MessageRepository, convs repository.ConversationRepository) {
	e.messages = NewMessageService(msgs, e.users, e.friends)
	e.messages.now = e.clock.Now
	e.convs = NewConversationService(convs)
	e.convs.now = e.clock.Now
	e.dm = NewDMService(e.messages, e.convs, e.users)
	e.dm.SetNotifier(e.notifier)
	e.reconcile = NewReconcileService(e.friends, e.messages, e.convs)
}

func (e *testEnv) createUser(t *testing.T, name string) uuid.UUID {
	t.Helper()
	at := time.Now().UTC()
	u := &domain.User{
		ID:          uuid.New(),
		Email:       name + "@example.com",
		Username:    name,
		DisplayName: name,
		IsActive:    true,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
	require.NoError(t, e.users.Create(context.Background(), u))
	return u.ID
}

func (e *testEnv) send(t *testing.T, from, to uuid.UUID, content string) *domain.Message {
	t.Helper()
	msg, err := e.dm.SendDirect(context.Background(), from, SendMessageInput{
		ReceiverID: to,
		Content:    content,
	}, PathHTTP)
	require.NoError(t, err)
	return msg
}

// storeRaw writes a message without touching conversations, the way an older
// code path would have.
func (e *testEnv) storeRaw(t *testing.T, from, to uuid.UUID, content string) *domain.Message {
	t.Helper()
	msg := &domain.Message{
		ID:          uuid.New(),
		SenderID:    from,
		ReceiverID:  to,
		Content:     content,
		MessageType: domain.MessageTypeText,
		CreatedAt:   e.clock.Now(),
	}
	require.NoError(t, e.msgRepo.Create(context.Background(), msg))
	return msg
}

func (e *testEnv) conversationCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Table("conversations").Count(&n).Error)
	return n
}

var errStoreDown = errors.New("store unavailable")

// flakyConversations fails pointer updates and counter increments while the
// matching flag is set.
type flakyConversations struct {
	repository.ConversationRepository
	failPointer   atomic.Bool
	failIncrement atomic.Bool
}

func (f *flakyConversations) SetLastMessage(ctx context.Context, convID, msgID uuid.UUID, at time.Time) error {
	if f.failPointer.Load() {
		return errStoreDown
	}
	return f.ConversationRepository.SetLastMessage(ctx, convID, msgID, at)
}

func (f *flakyConversations) IncrementUnread(ctx context.Context, convID, userID uuid.UUID) error {
	if f.failIncrement.Load() {
		return errStoreDown
	}
	return f.ConversationRepository.IncrementUnread(ctx, convID, userID)
}

// flakyMessages fails history lookups for one pair.
type flakyMessages struct {
	repository.MessageRepository
	failPair string
}

func (f *flakyMessages) LastBetween(ctx context.Context, a, b uuid.UUID) (*domain.Message, error) {
	if domain.PairKey(a, b) == f.failPair {
		return nil, errStoreDown
	}
	return f.MessageRepository.LastBetween(ctx, a, b)
}

// cancelAfterCreate cancels the caller's context as soon as a message row is
// stored, like a client dropping mid-request.
type cancelAfterCreate struct {
	repository.MessageRepository
	cancel context.CancelFunc
}

func (c *cancelAfterCreate) Create(ctx context.Context, msg *domain.Message) error {
	err := c.MessageRepository.Create(ctx, msg)
	c.cancel()
	return err
}
