package sfu

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/dkeye/duocast/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// outTrack is the local track one consumer receives a producer's packets on.
// A retired outTrack is dropped by the forwarding loop on its next packet.
type outTrack struct {
	track   *webrtc.TrackLocalStaticRTP
	retired atomic.Bool
}

// Relay copies packets from a producer's remote track to the local track of every consumer.
type Relay struct {
	mu        sync.RWMutex
	src       *webrtc.TrackRemote
	outTracks map[domain.ConsumerID]*outTrack
	cancel    context.CancelFunc
	stopped   bool
}

func NewRelay() *Relay {
	return &Relay{outTracks: make(map[domain.ConsumerID]*outTrack)}
}

// Start begins forwarding from src. It is a no-op once started or stopped.
func (r *Relay) Start(ctx context.Context, src *webrtc.TrackRemote, logger *zerolog.Logger) bool {
	r.mu.Lock()
	if r.src != nil || r.stopped {
		r.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(ctx)
	r.src = src
	r.cancel = cancel
	r.mu.Unlock()

	logger.Info().Msg("starting relay loop")
	go r.loop(ctx, src, logger)
	return true
}

// Codec returns the source codec, if the source track has arrived.
func (r *Relay) Codec() (webrtc.RTPCodecCapability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.src == nil {
		return webrtc.RTPCodecCapability{}, false
	}
	return r.src.Codec().RTPCodecCapability, true
}

func (r *Relay) loop(ctx context.Context, src *webrtc.TrackRemote, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done, marking all out tracks for delete")
			r.markAllDelete()
			return
		default:
		}
		pkt, _, err := src.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("relay read RTP stopped")
			r.markAllDelete()
			return
		}
		r.forward(pkt, logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := maps.Clone(r.outTracks)
	r.mu.RUnlock()

	dirty := make([]domain.ConsumerID, 0, len(snapshot))
	for dst, ot := range snapshot {
		if ot.retired.Load() {
			dirty = append(dirty, dst)
			continue
		}
		if err := ot.track.WriteRTP(pkt); err != nil {
			logger.Error().
				Err(err).
				Str("consumer", string(dst)).
				Msg("relay write RTP error, retiring consumer track")
			ot.retired.Store(true)
			dirty = append(dirty, dst)
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []domain.ConsumerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range dirty {
		delete(r.outTracks, id)
	}
}

func (r *Relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ot := range r.outTracks {
		ot.retired.Store(true)
	}
}

// AddOutTrack subscribes dst. It reports false once the relay is stopped.
func (r *Relay) AddOutTrack(dst domain.ConsumerID, track *webrtc.TrackLocalStaticRTP) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	r.outTracks[dst] = &outTrack{track: track}
	return true
}

// RemoveOutTrack retires dst; the forwarding loop drops it.
func (r *Relay) RemoveOutTrack(dst domain.ConsumerID) {
	r.mu.RLock()
	ot, ok := r.outTracks[dst]
	r.mu.RUnlock()
	if ok {
		ot.retired.Store(true)
	}
}

func (r *Relay) OutTrackCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, ot := range r.outTracks {
		if !ot.retired.Load() {
			n++
		}
	}
	return n
}

func (r *Relay) Stop() {
	r.mu.Lock()
	r.stopped = true
	cancel := r.cancel
	for _, ot := range r.outTracks {
		ot.retired.Store(true)
	}
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
