package signal

import (
	"context"

	"github.com/dkeye/duocast/internal/app/orch"
	"github.com/dkeye/duocast/internal/core"
	"github.com/dkeye/duocast/internal/domain"
	"github.com/rs/zerolog/log"
)

type createTransportPayload struct {
	Direction string `json:"direction"`
}

type createTransportResponse struct {
	result
	Transport *core.TransportParams `json:"transport,omitempty"`
}

type connectTransportPayload struct {
	TransportID string                  `json:"transportId"`
	Description core.SessionDescription `json:"description"`
}

type connectTransportResponse struct {
	result
	Description *core.SessionDescription `json:"description,omitempty"`
}

type producePayload struct {
	TransportID string `json:"transportId"`
	Kind        string `json:"kind"`
}

type produceResponse struct {
	result
	ProducerID domain.ProducerID `json:"producerId,omitempty"`
}

type consumePayload struct {
	TransportID string `json:"transportId"`
	ProducerID  string `json:"producerId"`
}

type consumeResponse struct {
	result
	Consumer *core.ConsumerParams `json:"consumer,omitempty"`
}

func (ctl *SignalWSController) handleCreateTransport(ctx context.Context, sess *orch.Session, c *WsSignalConn, env core.Envelope) {
	var p createTransportPayload
	if !ctl.decode(c, env, &p) {
		return
	}
	dir, err := domain.ParseDirection(p.Direction)
	if err != nil {
		ctl.reply(c, env.ID, createTransportResponse{result: failure(err)})
		return
	}
	params, err := sess.CreateTransport(ctx, dir)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(sess.ID())).Str("direction", string(dir)).Msg("create transport failed")
		ctl.reply(c, env.ID, createTransportResponse{result: failure(err)})
		return
	}
	ctl.reply(c, env.ID, createTransportResponse{result: result{Success: true}, Transport: &params})
}

func (ctl *SignalWSController) handleConnectTransport(ctx context.Context, sess *orch.Session, c *WsSignalConn, env core.Envelope) {
	var p connectTransportPayload
	if !ctl.decode(c, env, &p) {
		return
	}
	answer, err := sess.ConnectTransport(ctx, domain.TransportID(p.TransportID), p.Description)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(sess.ID())).Str("transport", p.TransportID).Msg("connect transport failed")
		ctl.reply(c, env.ID, connectTransportResponse{result: failure(err)})
		return
	}
	ctl.reply(c, env.ID, connectTransportResponse{result: result{Success: true}, Description: answer})
}

func (ctl *SignalWSController) handleProduce(ctx context.Context, sess *orch.Session, c *WsSignalConn, env core.Envelope) {
	var p producePayload
	if !ctl.decode(c, env, &p) {
		return
	}
	kind, err := domain.ParseMediaKind(p.Kind)
	if err != nil {
		ctl.reply(c, env.ID, produceResponse{result: failure(err)})
		return
	}
	pid, err := sess.Produce(ctx, domain.TransportID(p.TransportID), kind)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(sess.ID())).Msg("produce failed")
		ctl.reply(c, env.ID, produceResponse{result: failure(err)})
		return
	}
	ctl.reply(c, env.ID, produceResponse{result: result{Success: true}, ProducerID: pid})
}

func (ctl *SignalWSController) handleConsume(ctx context.Context, sess *orch.Session, c *WsSignalConn, env core.Envelope) {
	var p consumePayload
	if !ctl.decode(c, env, &p) {
		return
	}
	params, err := sess.Consume(ctx, domain.TransportID(p.TransportID), domain.ProducerID(p.ProducerID))
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(sess.ID())).Str("producer", p.ProducerID).Msg("consume failed")
		ctl.reply(c, env.ID, consumeResponse{result: failure(err)})
		return
	}
	ctl.reply(c, env.ID, consumeResponse{result: result{Success: true}, Consumer: &params})
}

func (ctl *SignalWSController) handleCloseProducer(sess *orch.Session, c *WsSignalConn, env core.Envelope) {
	ctl.reply(c, env.ID, resultOf(sess.CloseProducer()))
}
