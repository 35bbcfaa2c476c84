package rtc

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/duocast/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("peer connection closed")

// Connection wraps one PeerConnection used as an SFU transport.
// Negotiation steps are serialized; callbacks must be set before Start.
type Connection struct {
	pc     *webrtc.PeerConnection
	owner  domain.ConnID
	cancel context.CancelFunc

	negotiation sync.Mutex
	closeOnce   sync.Once

	onTrack func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)

	closedMu sync.Mutex
	onClosed func()
	ended    bool
}

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

func NewConnection(api *webrtc.API, cfg webrtc.Configuration, owner domain.ConnID) (*Connection, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &Connection{pc: pc, owner: owner}, nil
}

// Start registers PeerConnection callbacks and binds track lifetimes to ctx.
func (c *Connection) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Debug().Str("module", "webrtc").Str("conn", string(c.owner)).Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("conn", string(c.owner)).Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed {
			cancel()
			c.fireClosed()
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("conn", string(c.owner)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if c.onTrack != nil {
			c.onTrack(ctx, track, receiver)
		}
	})
}

// ApplyOfferAndCreateAnswer answers a remote offer once local ICE gathering is complete.
func (c *Connection) ApplyOfferAndCreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	c.negotiation.Lock()
	defer c.negotiation.Unlock()

	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	return c.setLocal(ctx, answer)
}

// CreateAndSetOffer renegotiates after local tracks changed.
func (c *Connection) CreateAndSetOffer(ctx context.Context) (*webrtc.SessionDescription, error) {
	c.negotiation.Lock()
	defer c.negotiation.Unlock()

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	return c.setLocal(ctx, offer)
}

func (c *Connection) setLocal(ctx context.Context, desc webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(desc); err != nil {
		return nil, err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return c.pc.LocalDescription(), nil
}

func (c *Connection) ApplyAnswer(answer webrtc.SessionDescription) error {
	c.negotiation.Lock()
	defer c.negotiation.Unlock()
	return c.pc.SetRemoteDescription(answer)
}

// AddLocalTrack attaches a local static RTP track and drains RTCP from its sender.
func (c *Connection) AddLocalTrack(track *webrtc.TrackLocalStaticRTP) (*webrtc.RTPSender, error) {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return sender, nil
}

func (c *Connection) RemoveSender(sender *webrtc.RTPSender) error {
	if c.pc.ConnectionState() == webrtc.PeerConnectionStateClosed {
		return nil
	}
	return c.pc.RemoveTrack(sender)
}

// OnTrack sets application-level callback for remote tracks.
func (c *Connection) OnTrack(fn func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	c.onTrack = fn
}

// OnClosed sets application-level callback for a failed or closed peer connection.
// It runs once; if the connection has already ended it runs immediately.
func (c *Connection) OnClosed(fn func()) {
	c.closedMu.Lock()
	if c.ended {
		c.closedMu.Unlock()
		fn()
		return
	}
	c.onClosed = fn
	c.closedMu.Unlock()
}

func (c *Connection) fireClosed() {
	c.closedMu.Lock()
	if c.ended {
		c.closedMu.Unlock()
		return
	}
	c.ended = true
	fn := c.onClosed
	c.closedMu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		if err = c.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "webrtc").Str("conn", string(c.owner)).Msg("close error")
			return
		}
		log.Info().Str("module", "webrtc").Str("conn", string(c.owner)).Msg("closed")
	})
	c.fireClosed()
	return err
}
