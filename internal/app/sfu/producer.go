package sfu

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/duocast/internal/core"
	"github.com/dkeye/duocast/internal/domain"
	"github.com/pion/webrtc/v4"
)

var ErrProducerClosed = errors.New("producer closed")

// Producer is one streamer track. Its relay starts once the remote track arrives.
type Producer struct {
	id        domain.ProducerID
	kind      domain.MediaKind
	codec     webrtc.RTPCodecCapability
	transport *Transport
	relay     *Relay
	closeOnce sync.Once
}

var _ core.Producer = (*Producer)(nil)

func newProducer(id domain.ProducerID, kind domain.MediaKind, codec webrtc.RTPCodecCapability, t *Transport) *Producer {
	return &Producer{id: id, kind: kind, codec: codec, transport: t, relay: NewRelay()}
}

func (p *Producer) ID() domain.ProducerID  { return p.id }
func (p *Producer) Kind() domain.MediaKind { return p.kind }

// Codec is the negotiated codec once media flows, the router default before that.
func (p *Producer) Codec() webrtc.RTPCodecCapability {
	if c, ok := p.relay.Codec(); ok {
		return c
	}
	return p.codec
}

func (p *Producer) attach(ctx context.Context, track *webrtc.TrackRemote) {
	logger := p.transport.logger.With().Str("producer", string(p.id)).Logger()
	p.relay.Start(ctx, track, &logger)
}

func (p *Producer) Close() error {
	p.closeOnce.Do(func() {
		p.relay.Stop()
		p.transport.removeProducer(p)
		p.transport.logger.Info().Str("producer", string(p.id)).Msg("producer closed")
	})
	return nil
}
