package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/duocast/internal/app/orch"
	"github.com/dkeye/duocast/internal/core"
	"github.com/dkeye/duocast/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Client to server events.
const (
	EventJoinRoom         = "join-room"
	EventLeaveRoom        = "leave-room"
	EventGetRoomState     = "get-room-state"
	EventCreateTransport  = "create-transport"
	EventConnectTransport = "connect-transport"
	EventProduce          = "produce"
	EventConsume          = "consume"
	EventCloseProducer    = "close-producer"
	EventGetProducers     = "get-producers"
	EventWhoAmI           = "whoami"
	EventPing             = "ping"

	typeResponse = "response"
	typePong     = "pong"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping failed")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, sess *orch.Session, c *WsSignalConn) {
	id := sess.ID()
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(id)).Msg("readPump closing")
		sess.Disconnect()
		ctl.Limiter.Forget(id)
		c.Close()
	}()

	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("conn", string(id)).Msg("readPump ctx done")
			return
		default:
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
		ctl.handleSignal(ctx, sess, c, data)
	}
}

// handleSignal processes one request. Requests of a connection are handled in receipt order.
func (ctl *SignalWSController) handleSignal(ctx context.Context, sess *orch.Session, c *WsSignalConn, data []byte) {
	var env core.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(sess.ID())).Msg("bad json")
		ctl.reply(c, nil, failure(domain.ErrBadRequest))
		return
	}

	if env.Type != EventLeaveRoom && !ctl.Limiter.Allow(sess.ID()) {
		ctl.reply(c, env.ID, failure(domain.ErrRateLimited))
		return
	}

	log.Debug().Str("module", "signal").Str("conn", string(sess.ID())).Str("type", env.Type).Msg("request")

	reqCtx, cancel := context.WithTimeout(ctx, ctl.opts.RequestTimeout)
	defer cancel()

	switch env.Type {
	case EventJoinRoom:
		ctl.handleJoin(sess, c, env)
	case EventLeaveRoom:
		ctl.handleLeave(sess)
	case EventGetRoomState:
		ctl.reply(c, env.ID, sess.RoomState())
	case EventWhoAmI:
		ctl.handleWhoAmI(sess, c, env)
	case EventCreateTransport:
		ctl.handleCreateTransport(reqCtx, sess, c, env)
	case EventConnectTransport:
		ctl.handleConnectTransport(reqCtx, sess, c, env)
	case EventProduce:
		ctl.handleProduce(reqCtx, sess, c, env)
	case EventConsume:
		ctl.handleConsume(reqCtx, sess, c, env)
	case EventCloseProducer:
		ctl.handleCloseProducer(sess, c, env)
	case EventGetProducers:
		ctl.reply(c, env.ID, producersResponse{Producers: sess.Producers()})
	case EventPing:
		ctl.handlePing(c, env)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		ctl.reply(c, env.ID, failure(domain.ErrBadRequest))
	}
}

// decode unmarshals a request payload, replying bad_request on failure.
func (ctl *SignalWSController) decode(c *WsSignalConn, env core.Envelope, v any) bool {
	if len(env.Data) == 0 {
		ctl.reply(c, env.ID, failure(domain.ErrBadRequest))
		return false
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("type", env.Type).Msg("bad payload")
		ctl.reply(c, env.ID, failure(domain.ErrBadRequest))
		return false
	}
	return true
}

func (ctl *SignalWSController) reply(c *WsSignalConn, id *int64, v any) {
	frame, err := core.EncodeEnvelope(id, typeResponse, v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("reply marshal")
		return
	}
	if err := c.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("reply dropped")
	}
}
