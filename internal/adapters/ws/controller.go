// Package ws is the WebSocket transport adapter: it upgrades
// connections, frames envelopes and feeds the router. All signaling
// semantics live behind the router; this package only moves bytes.
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/castbeam/relay/internal/app/relay"
	"github.com/castbeam/relay/internal/config"
	"github.com/castbeam/relay/internal/domain"
	"github.com/castbeam/relay/internal/signal"
)

var ErrBackpressure = errors.New("backpressure")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled upstream.
		return true
	},
}

type Controller struct {
	router     *relay.Router
	readLimit  int64
	pingPeriod time.Duration
	limiter    *EventLimiter
}

func NewController(router *relay.Router, cfg *config.Config) *Controller {
	return &Controller{
		router:     router,
		readLimit:  cfg.ReadLimit,
		pingPeriod: cfg.PingPeriod,
		limiter:    NewEventLimiter(120, time.Minute),
	}
}

// Conn wraps one websocket with a buffered outbound channel. It is the
// relay.Peer handed to the router; Send never blocks.
type Conn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *Conn) Send(env signal.Envelope) error {
	b, err := signal.Encode(env)
	if err != nil {
		return err
	}
	return c.trySend(b)
}

func (c *Conn) trySend(b []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- b:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// Handle upgrades the request and starts the pumps. The connection
// identity is the client token cookie so a reconnecting browser keeps
// its host/viewer standing; requests without one get a throwaway ID.
func (ctl *Controller) Handle(ctx context.Context, c *gin.Context) {
	connID := domain.ConnID(c.GetString("client_token"))
	if connID == "" {
		connID = domain.ConnID(uuid.NewString())
	}
	log.Info().Str("module", "ws").Str("conn", string(connID)).Msg("new WS connection")

	socket, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("ws upgrade")
		return
	}

	conn := &Conn{
		conn: socket,
		send: make(chan []byte, 32),
	}
	ctl.router.Attach(connID, conn)

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, connID, conn)
}
