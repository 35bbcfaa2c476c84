package sfu

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/duocast/internal/core"
	"github.com/dkeye/duocast/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRouter builds a router without ICE servers, so gathering finishes on host candidates.
func newTestRouter(t *testing.T) *Router {
	t.Helper()
	cr, err := NewEngine(Config{}).CreateRouter(context.Background(), DefaultCodecs())
	require.NoError(t, err)
	r := cr.(*Router)
	r.pcConfig = webrtc.Configuration{}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestDefaultCodecs(t *testing.T) {
	codecs := DefaultCodecs()
	kinds := map[domain.MediaKind]int{}
	for _, c := range codecs {
		kinds[c.Kind]++
	}
	assert.Equal(t, 1, kinds[domain.KindVideo])
	assert.Equal(t, 1, kinds[domain.KindAudio])
	assert.Equal(t, webrtc.MimeTypeVP8, codecs[0].MimeType)
}

func TestCreateRouterRejectsTwoCodecsOfOneKind(t *testing.T) {
	codecs := append(DefaultCodecs(), core.Codec{
		Kind:        domain.KindVideo,
		MimeType:    webrtc.MimeTypeVP9,
		ClockRate:   90000,
		PayloadType: 98,
	})
	_, err := NewEngine(Config{}).CreateRouter(context.Background(), codecs)
	assert.ErrorIs(t, err, ErrDuplicateKind)
}

func TestCreateRouterValidates(t *testing.T) {
	e := NewEngine(Config{})
	_, err := e.CreateRouter(context.Background(), nil)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.CreateRouter(ctx, DefaultCodecs())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCreateRouterICEServers(t *testing.T) {
	e := NewEngine(Config{ICEServers: []core.ICEServer{{
		URLs:       []string{"turn:turn.example.org:3478"},
		Username:   "u",
		Credential: "p",
	}}})
	cr, err := e.CreateRouter(context.Background(), DefaultCodecs())
	require.NoError(t, err)
	defer cr.Close()

	assert.Equal(t, []core.ICEServer{{
		URLs:       []string{"turn:turn.example.org:3478"},
		Username:   "u",
		Credential: "p",
	}}, cr.(*Router).iceServers())
}

func TestTransportDirectionRules(t *testing.T) {
	r := newTestRouter(t)
	ctx := context.Background()

	send, err := r.CreateTransport(ctx, "s", domain.DirectionSend)
	require.NoError(t, err)
	recv, err := r.CreateTransport(ctx, "w", domain.DirectionRecv)
	require.NoError(t, err)
	assert.Equal(t, 2, r.TransportCount())
	assert.Equal(t, domain.DirectionSend, send.Params().Direction)

	_, err = recv.Produce(ctx, domain.KindVideo)
	assert.ErrorIs(t, err, ErrWrongDirection)

	p, err := send.Produce(ctx, domain.KindVideo)
	require.NoError(t, err)
	assert.Equal(t, domain.KindVideo, p.Kind())
	assert.Equal(t, webrtc.MimeTypeVP8, p.(*Producer).Codec().MimeType)

	_, err = send.Produce(ctx, domain.KindVideo)
	assert.Error(t, err)

	_, err = send.Consume(ctx, p)
	assert.ErrorIs(t, err, ErrWrongDirection)
}

func TestConsumeOffersRenegotiation(t *testing.T) {
	r := newTestRouter(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	send, err := r.CreateTransport(ctx, "s", domain.DirectionSend)
	require.NoError(t, err)
	p, err := send.Produce(ctx, domain.KindAudio)
	require.NoError(t, err)

	recv, err := r.CreateTransport(ctx, "w", domain.DirectionRecv)
	require.NoError(t, err)
	c, err := recv.Consume(ctx, p)
	require.NoError(t, err)

	params := c.Params()
	assert.Equal(t, p.ID(), params.ProducerID)
	assert.Equal(t, "s", params.StreamID)
	require.NotNil(t, params.Offer)
	assert.Equal(t, "offer", params.Offer.Type)
	assert.True(t, strings.Contains(params.Offer.SDP, "opus"))
	assert.Equal(t, 1, p.(*Producer).relay.OutTrackCount())

	require.NoError(t, c.Close())
	assert.Zero(t, p.(*Producer).relay.OutTrackCount())

	// a closed producer refuses new consumers
	require.NoError(t, p.Close())
	_, err = recv.Consume(ctx, p)
	assert.ErrorIs(t, err, ErrProducerClosed)
}

func TestConsumeUndoneWhenTransportClosedMidOffer(t *testing.T) {
	r := newTestRouter(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	send, err := r.CreateTransport(ctx, "s", domain.DirectionSend)
	require.NoError(t, err)
	p, err := send.Produce(ctx, domain.KindAudio)
	require.NoError(t, err)
	recv, err := r.CreateTransport(ctx, "w", domain.DirectionRecv)
	require.NoError(t, err)
	c, err := recv.Consume(ctx, p)
	require.NoError(t, err)
	require.Equal(t, 1, p.(*Producer).relay.OutTrackCount())

	// the transport is marked closed after the offer was made but before adoption
	rt := recv.(*Transport)
	cc := c.(*Consumer)
	rt.mu.Lock()
	delete(rt.consumers, cc.id)
	rt.closed = true
	rt.mu.Unlock()

	assert.ErrorIs(t, rt.adopt(cc), ErrTransportClosed)
	assert.Zero(t, p.(*Producer).relay.OutTrackCount())
	assert.Empty(t, rt.consumers)
	require.NoError(t, rt.conn.Close())
}

func TestRouterCloseClosesTransports(t *testing.T) {
	cr, err := NewEngine(Config{}).CreateRouter(context.Background(), DefaultCodecs())
	require.NoError(t, err)
	r := cr.(*Router)
	r.pcConfig = webrtc.Configuration{}

	tr, err := r.CreateTransport(context.Background(), "a", domain.DirectionRecv)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Zero(t, r.TransportCount())

	_, err = tr.Connect(context.Background(), core.SessionDescription{Type: "answer"})
	assert.ErrorIs(t, err, ErrTransportClosed)
	_, err = r.CreateTransport(context.Background(), "a", domain.DirectionRecv)
	assert.ErrorIs(t, err, ErrRouterClosed)
	require.NoError(t, tr.Close())
}
