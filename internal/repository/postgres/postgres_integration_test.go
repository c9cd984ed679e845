//go:build integration

package postgres

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/vedran77/pulsedm/internal/config"
	"github.com/vedran77/pulsedm/internal/database"
	"github.com/vedran77/pulsedm/internal/domain"
	"github.com/vedran77/pulsedm/internal/repository"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "pulse",
				"POSTGRES_PASSWORD": "pulse",
				"POSTGRES_DB":       "pulse",
			},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("5432/tcp"),
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			).WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	pool, err := database.Connect(ctx, config.DatabaseConfig{
		Host:     host,
		Port:     port.Port(),
		User:     "pulse",
		Password: "pulse",
		Name:     "pulse",
		SSLMode:  "disable",
		MaxConns: 8,
	})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, database.Migrate(ctx, pool))
	// A second run applies nothing.
	require.NoError(t, database.Migrate(ctx, pool))
	return pool
}

func createUser(t *testing.T, repo *UserRepo, name string) uuid.UUID {
	t.Helper()
	now := time.Now().UTC()
	u := &domain.User{
		ID:          uuid.New(),
		Email:       name + "@example.com",
		Username:    name,
		DisplayName: name,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, repo.Create(context.Background(), u))
	return u.ID
}

func newConversation(a, b uuid.UUID) *domain.Conversation {
	now := time.Now().UTC()
	return &domain.Conversation{
		ID:               uuid.New(),
		Participants:     []uuid.UUID{a, b},
		LastMessageAt:    now,
		IsActive:         true,
		ConversationType: domain.ConversationDirect,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestPostgres_Repositories(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()

	users := NewUserRepo(pool)
	friends := NewFriendRepo(pool)
	msgs := NewMessageRepo(pool)
	convs := NewConversationRepo(pool)

	alice := createUser(t, users, "alice")
	bob := createUser(t, users, "bob")

	t.Run("friends are order independent", func(t *testing.T) {
		require.NoError(t, friends.Add(ctx, bob, alice))
		require.NoError(t, friends.Add(ctx, alice, bob))

		ok, err := friends.AreFriends(ctx, alice, bob)
		require.NoError(t, err)
		assert.True(t, ok)

		ids, err := friends.ListFriendIDs(ctx, bob)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{alice}, ids)
	})

	t.Run("concurrent create yields one conversation", func(t *testing.T) {
		var wg sync.WaitGroup
		got := make([]uuid.UUID, 8)
		for i := range got {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				conv, err := convs.CreateIfAbsent(ctx, newConversation(alice, bob))
				assert.NoError(t, err)
				if conv != nil {
					got[i] = conv.ID
				}
			}(i)
		}
		wg.Wait()
		for _, id := range got {
			assert.Equal(t, got[0], id)
		}

		var n int
		require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM conversations`).Scan(&n))
		assert.Equal(t, 1, n)
	})

	conv, err := convs.GetByPair(ctx, bob, alice, domain.ConversationDirect)
	require.NoError(t, err)
	require.NotNil(t, conv)

	t.Run("unread increments are atomic", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, convs.IncrementUnread(ctx, conv.ID, bob))
			}()
		}
		wg.Wait()

		got, err := convs.GetByID(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, 20, got.Unread(bob))
		assert.Zero(t, got.Unread(alice))

		require.NoError(t, convs.ResetUnread(ctx, conv.ID, bob))
		got, err = convs.GetByID(ctx, conv.ID)
		require.NoError(t, err)
		assert.Zero(t, got.Unread(bob))
	})

	t.Run("messages page by cursor and last message only moves forward", func(t *testing.T) {
		base := time.Now().UTC().Truncate(time.Microsecond)
		var created []*domain.Message
		for i := 0; i < 5; i++ {
			m := &domain.Message{
				ID: uuid.New(), SenderID: alice, ReceiverID: bob, Content: "m",
				MessageType: domain.MessageTypeText, CreatedAt: base.Add(time.Duration(i) * time.Second),
			}
			require.NoError(t, msgs.Create(ctx, m))
			created = append(created, m)
		}

		newest := created[4]
		require.NoError(t, convs.SetLastMessage(ctx, conv.ID, newest.ID, newest.CreatedAt))
		require.NoError(t, convs.SetLastMessage(ctx, conv.ID, created[1].ID, created[1].CreatedAt))

		got, err := convs.GetByID(ctx, conv.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LastMessageID)
		assert.Equal(t, newest.ID, *got.LastMessageID)

		page, err := msgs.ListBetween(ctx, bob, alice, repository.HistoryQuery{Cursor: created[3], Limit: 10})
		require.NoError(t, err)
		require.Len(t, page, 3)
		assert.Equal(t, created[2].ID, page[0].ID)
		require.NotNil(t, page[0].Sender)
		assert.Equal(t, "alice", page[0].Sender.Username)

		n, err := msgs.MarkRead(ctx, alice, bob, time.Now().UTC())
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)
		unread, err := msgs.CountUnread(ctx, bob)
		require.NoError(t, err)
		assert.Zero(t, unread)
	})

	t.Run("history paging uses the pair index", func(t *testing.T) {
		conn, err := pool.Acquire(ctx)
		require.NoError(t, err)
		defer conn.Release()

		_, err = conn.Exec(ctx, `SET enable_seqscan = off`)
		require.NoError(t, err)
		defer conn.Exec(ctx, `RESET enable_seqscan`)

		rows, err := conn.Query(ctx, `EXPLAIN `+listBetweenQuery(false), bob.String(), alice.String(), 20, 0)
		require.NoError(t, err)
		var plan strings.Builder
		for rows.Next() {
			var line string
			require.NoError(t, rows.Scan(&line))
			plan.WriteString(line + "\n")
		}
		require.NoError(t, rows.Err())
		assert.Contains(t, plan.String(), "messages_pair_created_idx")
	})

	t.Run("unread counters are recounted from messages", func(t *testing.T) {
		at := time.Now().UTC().Truncate(time.Microsecond).Add(time.Minute)
		for i := 0; i < 2; i++ {
			require.NoError(t, msgs.Create(ctx, &domain.Message{
				ID: uuid.New(), SenderID: alice, ReceiverID: bob, Content: "late",
				MessageType: domain.MessageTypeText, CreatedAt: at.Add(time.Duration(i) * time.Second),
			}))
		}

		changed, err := convs.RecountUnread(ctx, conv.ID, bob, alice)
		require.NoError(t, err)
		assert.True(t, changed)
		changed, err = convs.RecountUnread(ctx, conv.ID, bob, alice)
		require.NoError(t, err)
		assert.False(t, changed)

		got, err := convs.GetByID(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Unread(bob))
		assert.Zero(t, got.Unread(alice))

		last, err := msgs.LastBetween(ctx, bob, alice)
		require.NoError(t, err)
		require.NotNil(t, last)
		assert.Equal(t, "late", last.Content)
	})

	t.Run("last active is persisted", func(t *testing.T) {
		at := time.Now().UTC().Truncate(time.Microsecond)
		require.NoError(t, users.TouchLastActive(ctx, alice, at))

		profiles, err := users.GetProfiles(ctx, []uuid.UUID{alice, bob})
		require.NoError(t, err)
		require.Contains(t, profiles, alice)
		require.NotNil(t, profiles[alice].LastActiveAt)
		assert.True(t, profiles[alice].LastActiveAt.Equal(at))
	})
}
