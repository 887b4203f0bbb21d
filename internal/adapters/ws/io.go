package ws

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/castbeam/relay/internal/domain"
	"github.com/castbeam/relay/internal/signal"
)

const writeWait = 5 * time.Second

func (ctl *Controller) writePump(ctx context.Context, c *Conn) {
	ticker := time.NewTicker(ctl.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, connID domain.ConnID, c *Conn) {
	defer func() {
		log.Info().Str("module", "ws").Str("conn", string(connID)).Msg("readPump closing")
		cancel()
		c.Close()
		ctl.limiter.Forget(connID)
		ctl.router.Disconnect(connID)
	}()

	pongWait := ctl.pingPeriod + 10*time.Second
	c.conn.SetReadLimit(ctl.readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Error().Err(err).Str("module", "ws").Str("conn", string(connID)).Msg("readPump read error")
				}
				return
			}
			ctl.dispatch(connID, c, data)
		}
	}
}

func (ctl *Controller) dispatch(connID domain.ConnID, c *Conn, data []byte) {
	env, err := signal.Parse(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "ws").Str("conn", string(connID)).Msg("bad envelope")
		ctl.reject(c, signal.Envelope{Type: signal.KindError, Code: "bad-payload", Message: err.Error()})
		return
	}

	if !ctl.limiter.Allow(connID) {
		ctl.reject(c, signal.Envelope{
			Type: signal.KindError, SessionID: env.SessionID,
			Code: "rate-limited", Message: "too many signaling events",
		})
		return
	}

	sid := domain.SessionID(env.SessionID)
	switch env.Type {
	case signal.KindJoin:
		role, _ := domain.ParseRole(env.Role)
		err = ctl.router.Join(sid, connID, role)
	case signal.KindOffer:
		if desc, derr := env.SDP.ToPion(); derr != nil {
			err = derr
		} else {
			err = ctl.router.Offer(sid, connID, desc)
		}
	case signal.KindAnswer:
		if desc, derr := env.SDP.ToPion(); derr != nil {
			err = derr
		} else {
			err = ctl.router.Answer(sid, connID, desc)
		}
	case signal.KindCandidate:
		err = ctl.router.Candidate(sid, connID, *env.Candidate)
	}

	if err != nil {
		ctl.reject(c, signal.NewError(sid, err))
	}
}

func (ctl *Controller) reject(c *Conn, env signal.Envelope) {
	if err := c.Send(env); err != nil {
		log.Warn().Err(err).Str("module", "ws").Msg("reject send failed")
	}
}
