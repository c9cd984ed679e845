package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/vedran77/pulsedm/internal/config"
	"github.com/vedran77/pulsedm/internal/domain"
	"github.com/vedran77/pulsedm/internal/logging"
	"github.com/vedran77/pulsedm/internal/metrics"
	"github.com/vedran77/pulsedm/internal/presence"
	"github.com/vedran77/pulsedm/internal/service"
	"github.com/vedran77/pulsedm/internal/transport/http/middleware"
	"nhooyr.io/websocket"
)

// StatusAuthenticationFailed closes connections that never authenticated.
const StatusAuthenticationFailed websocket.StatusCode = 4001

// Authenticator resolves a session token to an active user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.User, error)
}

// Gateway upgrades HTTP requests to WebSocket connections and routes their
// events to the DM service and the presence registry.
type Gateway struct {
	registry *presence.Registry
	dm       *service.DMService
	auth     Authenticator
	cfg      config.RealtimeConfig
}

func NewGateway(registry *presence.Registry, dm *service.DMService, auth Authenticator, cfg config.RealtimeConfig) *Gateway {
	return &Gateway{
		registry: registry,
		dm:       dm,
		auth:     auth,
		cfg:      cfg,
	}
}

// ServeHTTP handles GET /ws. A token may come as ?token= (rejected with 401
// before the upgrade when invalid) or as an authenticate event sent first.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var user *domain.User
	if token := r.URL.Query().Get("token"); token != "" {
		u, err := g.auth.Authenticate(r.Context(), token)
		if err != nil {
			metrics.RealtimeAuthFailures.WithLabelValues("query").Inc()
			if domain.Kind(err) != "UNAUTHORIZED" {
				logging.Ctx(r.Context()).Error().Err(err).Msg("ws: authentication lookup failed")
			}
			middleware.WriteUnauthorized(w, middleware.InvalidTokenMessage)
			return
		}
		user = u
	}

	opts := &websocket.AcceptOptions{OriginPatterns: g.cfg.AllowedOrigins}
	if len(g.cfg.AllowedOrigins) == 0 {
		opts.InsecureSkipVerify = true
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("ws: upgrade failed")
		return
	}
	conn.SetReadLimit(g.cfg.MaxMessageSize)

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	if user == nil {
		user, err = g.handshake(ctx, conn)
		if err != nil {
			metrics.RealtimeAuthFailures.WithLabelValues("handshake").Inc()
			conn.Close(StatusAuthenticationFailed, domain.Kind(err))
			return
		}
	}

	g.serve(ctx, cancel, conn, user)
}

func (g *Gateway) serve(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, user *domain.User) {
	c := newClient(g, conn, user, g.cfg)
	ctx = logging.ContextWithUserID(ctx, user.ID)

	g.registry.Register(ctx, user.ID, c)
	c.Send(EventAuthenticated, AuthenticatedPayload{UserID: user.ID})
	c.log.Debug().Msg("ws: client connected")

	go c.writePump()
	go func() {
		<-c.done
		cancel()
	}()

	c.readPump(ctx)

	for _, room := range c.joinedRooms() {
		c.leave(room)
	}
	g.registry.Unregister(context.WithoutCancel(ctx), user.ID, c)
	c.shutdown()
}

// handshake waits for an authenticate event. The read runs in its own
// goroutine because a context deadline on Read would close the connection
// before we could send the close code.
func (g *Gateway) handshake(ctx context.Context, conn *websocket.Conn) (*domain.User, error) {
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		_, data, err := conn.Read(ctx)
		ch <- result{data: data, err: err}
	}()

	timer := time.NewTimer(g.cfg.AuthTimeout)
	defer timer.Stop()

	var res result
	select {
	case res = <-ch:
	case <-timer.C:
		return nil, domain.ErrMissingCredential
	}
	if res.err != nil {
		return nil, res.err
	}

	var event Event
	if err := json.Unmarshal(res.data, &event); err != nil || event.Type != EventAuthenticate {
		return nil, domain.ErrMissingCredential
	}
	var p AuthenticatePayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return nil, domain.ErrMissingCredential
	}

	authCtx, cancel := context.WithTimeout(ctx, g.cfg.HandlerTimeout)
	defer cancel()
	return g.auth.Authenticate(authCtx, p.Token)
}

func (g *Gateway) handleEvent(ctx context.Context, c *Client, event *Event) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.HandlerTimeout)
	defer cancel()

	switch event.Type {
	case EventTypingStart, EventTypingStop:
		g.handleTyping(c, event)
	case EventSendMessage:
		g.handleSendMessage(ctx, c, event)
	case EventMarkMessagesRead:
		g.handleMarkRead(ctx, c, event)
	case EventJoinConversation:
		g.handleJoin(c, event)
	case EventLeaveConversation:
		g.handleLeave(c, event)
	case EventPing:
		c.Send(EventPong, nil)
	case EventAuthenticate:
		// Already authenticated; nothing to do.
	default:
		c.sendProtocolError(event.Type, "UNKNOWN_EVENT", "unknown event type")
	}
}

// handleTyping forwards typing indicators to the receiver. Failures are
// dropped silently.
func (g *Gateway) handleTyping(c *Client, event *Event) {
	var p TypingPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil || p.ReceiverID == uuid.Nil {
		return
	}
	if p.ReceiverID == c.user.ID {
		return
	}

	out := EventUserTyping
	if event.Type == EventTypingStop {
		out = EventUserStopTyping
	}
	convID := p.ConversationID
	if convID == "" {
		convID = domain.PairKey(c.user.ID, p.ReceiverID)
	}
	g.registry.SendToUser(p.ReceiverID, out, TypingEventPayload{
		UserID:         c.user.ID,
		ConversationID: convID,
	})
}

func (g *Gateway) handleSendMessage(ctx context.Context, c *Client, event *Event) {
	var p SendMessagePayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		c.sendProtocolError(event.Type, "VALIDATION_ERROR", "invalid payload")
		return
	}
	if _, err := g.dm.SendDirect(ctx, c.user.ID, p, service.PathRealtime); err != nil {
		c.sendError(event.Type, err)
	}
}

func (g *Gateway) handleMarkRead(ctx context.Context, c *Client, event *Event) {
	var p MarkReadPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil || p.PeerUserID == uuid.Nil {
		c.sendProtocolError(event.Type, "VALIDATION_ERROR", "peerUserId is required")
		return
	}
	if _, err := g.dm.MarkRead(ctx, c.user.ID, p.PeerUserID); err != nil {
		c.sendError(event.Type, err)
	}
}

// handleJoin only lets participants of a direct conversation into its room.
func (g *Gateway) handleJoin(c *Client, event *Event) {
	var p ConversationPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil || p.ConversationID == "" {
		c.sendProtocolError(event.Type, "VALIDATION_ERROR", "conversationId is required")
		return
	}
	a, b, ok := domain.ParsePairKey(p.ConversationID)
	if !ok {
		c.sendError(event.Type, domain.ErrGroupConversation)
		return
	}
	if a != c.user.ID && b != c.user.ID {
		c.sendError(event.Type, domain.ErrNotParticipant)
		return
	}
	c.join(p.ConversationID)
}

func (g *Gateway) handleLeave(c *Client, event *Event) {
	var p ConversationPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return
	}
	c.leave(p.ConversationID)
}
