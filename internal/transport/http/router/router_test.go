package router

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/pulsedm/internal/config"
	"github.com/vedran77/pulsedm/internal/database"
	"github.com/vedran77/pulsedm/internal/domain"
	"github.com/vedran77/pulsedm/internal/repository/sqlite"
	"github.com/vedran77/pulsedm/internal/service"
)

type apiEnv struct {
	srv      *httptest.Server
	identity *service.IdentityService

	alice, bob, carol uuid.UUID
}

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   *struct {
		Code   string            `json:"code"`
		Fields map[string]string `json:"fields"`
	} `json:"error"`
}

func newAPIEnv(t *testing.T, mutate func(*config.Config)) *apiEnv {
	t.Helper()

	db, err := database.OpenSQLite("")
	require.NoError(t, err)
	require.NoError(t, sqlite.Migrate(db))

	users := sqlite.NewUserRepo(db)
	friends := sqlite.NewFriendRepo(db)
	messages := service.NewMessageService(sqlite.NewMessageRepo(db), users, friends)
	convs := service.NewConversationService(sqlite.NewConversationRepo(db))
	dm := service.NewDMService(messages, convs, users)
	identity := service.NewIdentityService(users, "test-secret", time.Hour)

	cfg := &config.Config{
		Server:    config.ServerConfig{CORSOrigins: []string{"*"}},
		RateLimit: config.RateLimitConfig{Disabled: true},
	}
	if mutate != nil {
		mutate(cfg)
	}

	srv := httptest.NewServer(New(cfg, Deps{DM: dm, Auth: identity}))
	t.Cleanup(func() {
		srv.Close()
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	env := &apiEnv{srv: srv, identity: identity}
	env.alice = createUser(t, users, "alice")
	env.bob = createUser(t, users, "bob")
	env.carol = createUser(t, users, "carol")
	require.NoError(t, friends.Add(context.Background(), env.alice, env.bob))
	return env
}

func createUser(t *testing.T, users *sqlite.UserRepo, name string) uuid.UUID {
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
	require.NoError(t, users.Create(context.Background(), u))
	return u.ID
}

func (e *apiEnv) do(t *testing.T, as uuid.UUID, method, path string, body any) (int, response) {
	t.Helper()

	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	require.NoError(t, err)
	if as != uuid.Nil {
		token, err := e.identity.IssueToken(as)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out response
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func sendBody(to uuid.UUID, content string) map[string]any {
	return map[string]any{"receiverId": to, "content": content}
}

func TestRouter_Health(t *testing.T) {
	env := newAPIEnv(t, nil)

	resp, err := http.Get(env.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestRouter_RequiresAuth(t *testing.T) {
	env := newAPIEnv(t, nil)

	status, body := env.do(t, uuid.Nil, http.MethodGet, "/api/v1/conversations", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.False(t, body.Success)
	require.NotNil(t, body.Error)
	assert.Equal(t, "UNAUTHORIZED", body.Error.Code)
}

func TestRouter_SendListAndHistory(t *testing.T) {
	env := newAPIEnv(t, nil)

	status, body := env.do(t, env.alice, http.MethodPost, "/api/v1/messages/send", sendBody(env.bob, "  hello  "))
	require.Equal(t, http.StatusCreated, status, body.Message)
	require.True(t, body.Success)

	var msg domain.Message
	require.NoError(t, json.Unmarshal(body.Data, &msg))
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, domain.MessageTypeText, msg.MessageType)

	status, body = env.do(t, env.bob, http.MethodGet, "/api/v1/messages/unread-count", nil)
	require.Equal(t, http.StatusOK, status)
	var unread map[string]int
	require.NoError(t, json.Unmarshal(body.Data, &unread))
	assert.Equal(t, 1, unread["unreadCount"])

	status, body = env.do(t, env.bob, http.MethodGet, "/api/v1/conversations", nil)
	require.Equal(t, http.StatusOK, status)
	var page domain.ConversationPage
	require.NoError(t, json.Unmarshal(body.Data, &page))
	require.Len(t, page.Conversations, 1)
	c := page.Conversations[0]
	assert.Equal(t, domain.PairKey(env.alice, env.bob), c.ConversationID)
	assert.Equal(t, env.alice, c.Peer.ID)
	assert.Equal(t, 1, c.UnreadCount)
	require.NotNil(t, c.LastMessage)
	assert.Equal(t, msg.ID, c.LastMessage.ID)

	status, body = env.do(t, env.bob, http.MethodGet, "/api/v1/conversations/"+env.alice.String()+"?limit=10", nil)
	require.Equal(t, http.StatusOK, status)
	var history domain.MessagePage
	require.NoError(t, json.Unmarshal(body.Data, &history))
	require.Len(t, history.Messages, 1)
	assert.Equal(t, 10, history.Limit)

	// Reading the history cleared bob's counter.
	_, body = env.do(t, env.bob, http.MethodGet, "/api/v1/messages/unread-count", nil)
	require.NoError(t, json.Unmarshal(body.Data, &unread))
	assert.Zero(t, unread["unreadCount"])
}

func TestRouter_MarkRead(t *testing.T) {
	env := newAPIEnv(t, nil)

	env.do(t, env.alice, http.MethodPost, "/api/v1/messages/send", sendBody(env.bob, "one"))
	env.do(t, env.alice, http.MethodPost, "/api/v1/messages/send", sendBody(env.bob, "two"))

	status, body := env.do(t, env.bob, http.MethodPut, "/api/v1/messages/mark-read/"+env.alice.String(), nil)
	require.Equal(t, http.StatusOK, status)
	var receipt service.ReadReceipt
	require.NoError(t, json.Unmarshal(body.Data, &receipt))
	assert.Equal(t, int64(2), receipt.Count)

	status, body = env.do(t, env.bob, http.MethodPut, "/api/v1/messages/mark-read/"+env.alice.String(), nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body.Data, &receipt))
	assert.Zero(t, receipt.Count)
}

func TestRouter_EditAndDelete(t *testing.T) {
	env := newAPIEnv(t, nil)

	_, body := env.do(t, env.alice, http.MethodPost, "/api/v1/messages/send", sendBody(env.bob, "draft"))
	var msg domain.Message
	require.NoError(t, json.Unmarshal(body.Data, &msg))
	path := "/api/v1/messages/" + msg.ID.String()

	status, _ := env.do(t, env.bob, http.MethodPatch, path, map[string]string{"content": "hijack"})
	assert.Equal(t, http.StatusForbidden, status)

	status, body = env.do(t, env.alice, http.MethodPatch, path, map[string]string{"content": "final"})
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body.Data, &msg))
	assert.Equal(t, "final", msg.Content)
	assert.True(t, msg.IsEdited)

	status, body = env.do(t, env.alice, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body.Data, &msg))
	assert.True(t, msg.IsDeleted)
	assert.Empty(t, msg.Content)

	status, body = env.do(t, env.alice, http.MethodPatch, path, map[string]string{"content": "again"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", body.Error.Code)
}

func TestRouter_ErrorMapping(t *testing.T) {
	env := newAPIEnv(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"stranger", http.MethodPost, "/api/v1/messages/send", sendBody(env.carol, "hi"), http.StatusForbidden, "FORBIDDEN"},
		{"self", http.MethodPost, "/api/v1/messages/send", sendBody(env.alice, "hi"), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown receiver", http.MethodPost, "/api/v1/messages/send", sendBody(uuid.New(), "hi"), http.StatusNotFound, "NOT_FOUND"},
		{"unknown field", http.MethodPost, "/api/v1/messages/send", `{"receiverId":"` + env.bob.String() + `","content":"x","extra":1}`, http.StatusBadRequest, "INVALID_JSON"},
		{"empty body", http.MethodPost, "/api/v1/messages/send", "", http.StatusBadRequest, "INVALID_JSON"},
		{"bad peer id", http.MethodGet, "/api/v1/conversations/not-a-uuid", nil, http.StatusBadRequest, "INVALID_ID"},
		{"bad page", http.MethodGet, "/api/v1/conversations?page=zero", nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"missing message", http.MethodDelete, "/api/v1/messages/" + uuid.NewString(), nil, http.StatusNotFound, "NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := env.do(t, env.alice, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, status)
			assert.False(t, body.Success)
			require.NotNil(t, body.Error)
			assert.Equal(t, tt.code, body.Error.Code)
		})
	}
}

func TestRouter_ValidationFields(t *testing.T) {
	env := newAPIEnv(t, nil)

	status, body := env.do(t, env.alice, http.MethodPost, "/api/v1/messages/send",
		map[string]any{"receiverId": env.bob, "content": "x", "messageType": "video"})
	require.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, body.Error)
	assert.Contains(t, body.Error.Fields, "messageType")
}

func TestRouter_RateLimit(t *testing.T) {
	env := newAPIEnv(t, func(c *config.Config) {
		c.RateLimit = config.RateLimitConfig{Requests: 2, Window: time.Minute}
	})

	for i := 0; i < 2; i++ {
		status, _ := env.do(t, env.alice, http.MethodGet, "/api/v1/messages/unread-count", nil)
		require.Equal(t, http.StatusOK, status)
	}
	status, body := env.do(t, env.alice, http.MethodGet, "/api/v1/messages/unread-count", nil)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "RATE_LIMITED", body.Error.Code)

	// Limits are per user.
	status, _ = env.do(t, env.bob, http.MethodGet, "/api/v1/messages/unread-count", nil)
	assert.Equal(t, http.StatusOK, status)
}
