// Package sfu is the pion/webrtc media engine: a router per process, one
// PeerConnection per transport, and RTP relays from producers to consumers.
package sfu

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/duocast/internal/adapters/rtc"
	"github.com/dkeye/duocast/internal/core"
	"github.com/dkeye/duocast/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const DefaultPLIInterval = 3 * time.Second

var ErrDuplicateKind = errors.New("more than one codec for media kind")

type Config struct {
	ICEServers  []core.ICEServer
	PLIInterval time.Duration
}

type Engine struct {
	cfg Config
}

var _ core.MediaEngine = (*Engine)(nil)

func NewEngine(cfg Config) *Engine {
	if cfg.PLIInterval <= 0 {
		cfg.PLIInterval = DefaultPLIInterval
	}
	return &Engine{cfg: cfg}
}

// DefaultCodecs is VP8 and Opus. A router offers exactly one codec per kind, so
// every consumer track is built with the codec its producer was negotiated with.
func DefaultCodecs() []core.Codec {
	return []core.Codec{
		{Kind: domain.KindVideo, MimeType: webrtc.MimeTypeVP8, ClockRate: 90000, PayloadType: 96},
		{
			Kind:        domain.KindAudio,
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
			PayloadType: 111,
		},
	}
}

func (e *Engine) CreateRouter(ctx context.Context, codecs []core.Codec) (core.Router, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(codecs) == 0 {
		return nil, fmt.Errorf("no codecs")
	}

	m := &webrtc.MediaEngine{}
	seen := make(map[domain.MediaKind]bool, len(codecs))
	for _, c := range codecs {
		if seen[c.Kind] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKind, c.Kind)
		}
		seen[c.Kind] = true
		if err := m.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: capability(c),
			PayloadType:        webrtc.PayloadType(c.PayloadType),
		}, codecType(c.Kind)); err != nil {
			return nil, fmt.Errorf("register codec %s: %w", c.MimeType, err)
		}
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register default interceptors: %w", err)
	}
	intervalPli, err := intervalpli.NewReceiverInterceptor(
		intervalpli.GeneratorInterval(e.cfg.PLIInterval),
	)
	if err != nil {
		return nil, fmt.Errorf("new interval pli: %w", err)
	}
	i.Add(intervalPli)

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i))

	pcConfig := rtc.DefaultWebRTCConfig()
	if len(e.cfg.ICEServers) > 0 {
		pcConfig.ICEServers = make([]webrtc.ICEServer, 0, len(e.cfg.ICEServers))
		for _, s := range e.cfg.ICEServers {
			pcConfig.ICEServers = append(pcConfig.ICEServers, webrtc.ICEServer{
				URLs:       s.URLs,
				Username:   s.Username,
				Credential: s.Credential,
			})
		}
	}

	log.Info().Str("module", "sfu").Int("codecs", len(codecs)).Int("ice_servers", len(pcConfig.ICEServers)).Msg("router created")
	return newRouter(api, pcConfig, codecs), nil
}

func capability(c core.Codec) webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{
		MimeType:    c.MimeType,
		ClockRate:   c.ClockRate,
		Channels:    c.Channels,
		SDPFmtpLine: c.SDPFmtpLine,
	}
}

func codecType(k domain.MediaKind) webrtc.RTPCodecType {
	if k == domain.KindAudio {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}
