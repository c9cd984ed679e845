package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vedran77/pulsedm/internal/config"
	"github.com/vedran77/pulsedm/internal/domain"
	"github.com/vedran77/pulsedm/internal/logging"
	"github.com/vedran77/pulsedm/internal/metrics"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
)

// Client represents a single authenticated WebSocket connection. A user with
// several devices has one Client per device.
type Client struct {
	id      string
	gateway *Gateway
	conn    *websocket.Conn
	user    *domain.User
	cfg     config.RealtimeConfig
	log     zerolog.Logger

	limiter *rate.Limiter

	// rooms tracks joined conversation channels.
	rooms map[string]struct{}
	mu    sync.Mutex

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(g *Gateway, conn *websocket.Conn, user *domain.User, cfg config.RealtimeConfig) *Client {
	id := uuid.NewString()
	return &Client{
		id:      id,
		gateway: g,
		conn:    conn,
		user:    user,
		cfg:     cfg,
		log: logging.WithComponent("ws").With().
			Str("user_id", user.ID.String()).
			Str("conn_id", id).
			Logger(),
		limiter: rate.NewLimiter(rate.Limit(cfg.EventsPerSecond), cfg.EventBurst),
		rooms:   make(map[string]struct{}),
		send:    make(chan []byte, cfg.SendBuffer),
		done:    make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) UserID() uuid.UUID { return c.user.ID }

// Send queues an event without blocking. A client whose buffer is full is
// too slow to keep up and gets disconnected.
func (c *Client) Send(event string, payload any) bool {
	data, err := encodeEvent(event, payload)
	if err != nil {
		c.log.Error().Err(err).Str("event", event).Msg("ws: marshal error")
		return false
	}

	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		metrics.RecordEvent("out", event)
		return true
	case <-c.done:
		return false
	default:
		c.log.Warn().Str("event", event).Msg("ws: send buffer full, disconnecting")
		c.shutdown()
		return false
	}
}

func (c *Client) sendError(event string, err error) {
	code := domain.Kind(err)
	msg := err.Error()
	if code == "INTERNAL" {
		c.log.Error().Err(err).Str("event", event).Msg("ws: handler failed")
		msg = "Something went wrong"
	}
	c.Send(EventMessageError, ErrorPayload{Code: code, Message: msg, Event: event})
}

func (c *Client) sendProtocolError(event, code, message string) {
	c.Send(EventMessageError, ErrorPayload{Code: code, Message: message, Event: event})
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) join(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[room] = struct{}{}
}

func (c *Client) leave(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, room)
}

func (c *Client) joinedRooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	return out
}

// readPump reads frames until the connection fails or ctx ends. It runs on
// the handler goroutine.
func (c *Client) readPump(ctx context.Context) {
	defer c.shutdown()

	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				c.log.Debug().Msg("ws: client disconnected")
			} else {
				c.log.Debug().Err(err).Msg("ws: read error")
			}
			return
		}

		if typ != websocket.MessageText {
			c.sendProtocolError("", "INVALID_PAYLOAD", "expected a text frame")
			continue
		}

		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			c.sendProtocolError("", "INVALID_PAYLOAD", "invalid event envelope")
			continue
		}

		if !c.limiter.Allow() {
			c.sendProtocolError(event.Type, "RATE_LIMITED", "too many events")
			continue
		}

		metrics.RecordEvent("in", metricLabel(event.Type))
		c.gateway.registry.Touch(c.user.ID)
		c.gateway.handleEvent(ctx, c, &event)
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.shutdown()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case message := <-c.send:
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteWait)
			err := c.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				c.log.Debug().Err(err).Msg("ws: write error")
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteWait)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				c.log.Debug().Err(err).Msg("ws: ping error")
				return
			}

		case <-c.done:
			return
		}
	}
}
