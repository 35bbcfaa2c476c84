package sfu

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/duocast/internal/adapters/rtc"
	"github.com/dkeye/duocast/internal/core"
	"github.com/dkeye/duocast/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

var ErrRouterClosed = errors.New("router closed")

type Router struct {
	api      *webrtc.API
	pcConfig webrtc.Configuration
	codecs   []core.Codec

	mu         sync.Mutex
	transports map[domain.TransportID]*Transport
	closed     bool
}

var _ core.Router = (*Router)(nil)

func newRouter(api *webrtc.API, pcConfig webrtc.Configuration, codecs []core.Codec) *Router {
	return &Router{
		api:        api,
		pcConfig:   pcConfig,
		codecs:     codecs,
		transports: make(map[domain.TransportID]*Transport),
	}
}

func (r *Router) CreateTransport(ctx context.Context, owner domain.ConnID, dir domain.Direction) (core.Transport, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, ErrRouterClosed
	}

	conn, err := rtc.NewConnection(r.api, r.pcConfig, owner)
	if err != nil {
		return nil, err
	}
	t := newTransport(domain.TransportID(uuid.NewString()), owner, dir, r, conn)
	// Track lifetimes are not tied to the request context.
	conn.Start(context.WithoutCancel(ctx))

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		_ = conn.Close()
		return nil, ErrRouterClosed
	}
	r.transports[t.id] = t
	return t, nil
}

// codecFor returns the registered codec of kind.
func (r *Router) codecFor(kind domain.MediaKind) (webrtc.RTPCodecCapability, bool) {
	for _, c := range r.codecs {
		if c.Kind == kind {
			return capability(c), true
		}
	}
	return webrtc.RTPCodecCapability{}, false
}

func (r *Router) iceServers() []core.ICEServer {
	out := make([]core.ICEServer, 0, len(r.pcConfig.ICEServers))
	for _, s := range r.pcConfig.ICEServers {
		srv := core.ICEServer{URLs: s.URLs, Username: s.Username}
		if cred, ok := any(s.Credential).(string); ok {
			srv.Credential = cred
		}
		out = append(out, srv)
	}
	return out
}

func (r *Router) forget(id domain.TransportID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.transports, id)
}

func (r *Router) TransportCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transports)
}

func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	ts := make([]*Transport, 0, len(r.transports))
	for _, t := range r.transports {
		ts = append(ts, t)
	}
	r.transports = make(map[domain.TransportID]*Transport)
	r.mu.Unlock()

	var errs []error
	for _, t := range ts {
		errs = append(errs, t.Close())
	}
	return errors.Join(errs...)
}
