package sfu

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/duocast/internal/adapters/rtc"
	"github.com/dkeye/duocast/internal/core"
	"github.com/dkeye/duocast/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrWrongDirection  = errors.New("wrong transport direction")
	ErrTransportClosed = errors.New("transport closed")
	ErrForeignProducer = errors.New("producer belongs to another engine")
	ErrUnknownKind     = errors.New("no codec for media kind")
)

// Transport is one PeerConnection owned by one signaling connection.
// Send transports receive a streamer's tracks; receive transports carry consumers out.
type Transport struct {
	id     domain.TransportID
	owner  domain.ConnID
	dir    domain.Direction
	router *Router
	conn   *rtc.Connection
	logger zerolog.Logger

	mu        sync.Mutex
	closed    bool
	producers map[domain.MediaKind]*Producer
	early     map[domain.MediaKind]*webrtc.TrackRemote
	trackCtx  context.Context
	consumers map[domain.ConsumerID]*Consumer
}

var _ core.Transport = (*Transport)(nil)

func newTransport(id domain.TransportID, owner domain.ConnID, dir domain.Direction, router *Router, conn *rtc.Connection) *Transport {
	t := &Transport{
		id:        id,
		owner:     owner,
		dir:       dir,
		router:    router,
		conn:      conn,
		producers: make(map[domain.MediaKind]*Producer),
		early:     make(map[domain.MediaKind]*webrtc.TrackRemote),
		consumers: make(map[domain.ConsumerID]*Consumer),
		logger: log.With().
			Str("module", "sfu").
			Str("conn", string(owner)).
			Str("transport", string(id)).
			Logger(),
	}
	conn.OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		t.onTrack(ctx, track)
	})
	return t
}

func (t *Transport) ID() domain.TransportID      { return t.id }
func (t *Transport) Direction() domain.Direction { return t.dir }

func (t *Transport) Params() core.TransportParams {
	return core.TransportParams{
		ID:         t.id,
		Direction:  t.dir,
		ICEServers: t.router.iceServers(),
	}
}

func (t *Transport) Connect(ctx context.Context, desc core.SessionDescription) (*core.SessionDescription, error) {
	if t.isClosed() {
		return nil, ErrTransportClosed
	}
	switch desc.Type {
	case "offer":
		answer, err := t.conn.ApplyOfferAndCreateAnswer(ctx, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: desc.SDP})
		if err != nil {
			return nil, err
		}
		return &core.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, nil
	case "answer":
		return nil, t.conn.ApplyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: desc.SDP})
	default:
		return nil, fmt.Errorf("unsupported description type %q", desc.Type)
	}
}

// onTrack binds an arriving remote track to the producer of its kind, or keeps it
// until Produce is called for that kind.
func (t *Transport) onTrack(ctx context.Context, track *webrtc.TrackRemote) {
	kind := domain.MediaKind(track.Kind().String())
	t.mu.Lock()
	if t.closed || t.dir != domain.DirectionSend {
		t.mu.Unlock()
		return
	}
	p, ok := t.producers[kind]
	if !ok {
		t.early[kind] = track
		t.trackCtx = ctx
		t.mu.Unlock()
		t.logger.Info().Str("kind", string(kind)).Msg("track arrived before produce")
		return
	}
	t.mu.Unlock()
	p.attach(ctx, track)
}

func (t *Transport) Produce(_ context.Context, kind domain.MediaKind) (core.Producer, error) {
	if t.dir != domain.DirectionSend {
		return nil, ErrWrongDirection
	}
	codec, ok := t.router.codecFor(kind)
	if !ok {
		return nil, ErrUnknownKind
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrTransportClosed
	}
	if _, ok := t.producers[kind]; ok {
		t.mu.Unlock()
		return nil, fmt.Errorf("%s producer already on transport", kind)
	}
	p := newProducer(domain.ProducerID(uuid.NewString()), kind, codec, t)
	t.producers[kind] = p
	early, trackCtx := t.early[kind], t.trackCtx
	delete(t.early, kind)
	t.mu.Unlock()

	if early != nil {
		p.attach(trackCtx, early)
	}
	t.logger.Info().Str("producer", string(p.id)).Str("kind", string(kind)).Msg("producer created")
	return p, nil
}

func (t *Transport) Consume(ctx context.Context, src core.Producer) (core.Consumer, error) {
	if t.dir != domain.DirectionRecv {
		return nil, ErrWrongDirection
	}
	p, ok := src.(*Producer)
	if !ok {
		return nil, ErrForeignProducer
	}
	if t.isClosed() {
		return nil, ErrTransportClosed
	}

	id := domain.ConsumerID(uuid.NewString())
	streamID := string(p.transport.owner)
	local, err := webrtc.NewTrackLocalStaticRTP(p.Codec(), string(id), streamID)
	if err != nil {
		return nil, fmt.Errorf("new local track: %w", err)
	}
	sender, err := t.conn.AddLocalTrack(local)
	if err != nil {
		return nil, fmt.Errorf("add track: %w", err)
	}
	c := &Consumer{
		id:        id,
		producer:  p,
		transport: t,
		sender:    sender,
		params: core.ConsumerParams{
			ID:         id,
			ProducerID: p.id,
			Kind:       p.kind,
			TrackID:    string(id),
			StreamID:   streamID,
		},
	}
	if !p.relay.AddOutTrack(id, local) {
		_ = t.conn.RemoveSender(sender)
		return nil, ErrProducerClosed
	}

	offer, err := t.conn.CreateAndSetOffer(ctx)
	if err != nil {
		p.relay.RemoveOutTrack(id)
		_ = t.conn.RemoveSender(sender)
		return nil, fmt.Errorf("renegotiate: %w", err)
	}
	c.params.Offer = &core.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}

	if err := t.adopt(c); err != nil {
		return nil, err
	}

	t.logger.Info().Str("consumer", string(id)).Str("producer", string(p.id)).Msg("consumer created")
	return c, nil
}

// adopt records a fully negotiated consumer, or undoes it if the transport closed meanwhile.
func (t *Transport) adopt(c *Consumer) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		c.producer.relay.RemoveOutTrack(c.id)
		_ = t.conn.RemoveSender(c.sender)
		return ErrTransportClosed
	}
	t.consumers[c.id] = c
	t.mu.Unlock()
	return nil
}

func (t *Transport) OnClosed(fn func()) { t.conn.OnClosed(fn) }

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) removeProducer(p *Producer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.producers[p.kind] == p {
		delete(t.producers, p.kind)
	}
}

func (t *Transport) removeConsumer(id domain.ConsumerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.consumers, id)
}

// Close stops every producer and consumer on the transport and closes the PeerConnection.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	producers := make([]*Producer, 0, len(t.producers))
	for _, p := range t.producers {
		producers = append(producers, p)
	}
	consumers := make([]*Consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	t.mu.Unlock()

	for _, c := range consumers {
		c.producer.relay.RemoveOutTrack(c.id)
	}
	for _, p := range producers {
		p.relay.Stop()
	}
	t.router.forget(t.id)
	t.logger.Info().Msg("transport closed")
	return t.conn.Close()
}
