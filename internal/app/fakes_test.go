package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/duocast/internal/core"
	"github.com/dkeye/duocast/internal/domain"
)

var (
	_ core.MediaEngine      = (*fakeEngine)(nil)
	_ core.Router           = (*fakeRouter)(nil)
	_ core.Transport        = (*fakeTransport)(nil)
	_ core.Producer         = (*fakeProducer)(nil)
	_ core.Consumer         = (*fakeConsumer)(nil)
	_ core.SignalConnection = (*fakeConn)(nil)
	_ core.EventSink        = (*fakeSink)(nil)
	_ RouterSource          = (*fixedRouter)(nil)
	_ RoleLookup            = (*Registry)(nil)
)

var errEngineDown = errors.New("engine down")

var seq atomic.Int64

func nextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, seq.Add(1))
}

type fakeEngine struct {
	router core.Router
	err    error
	block  chan struct{}
}

func (e *fakeEngine) CreateRouter(ctx context.Context, _ []core.Codec) (core.Router, error) {
	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.err != nil {
		return nil, e.err
	}
	return e.router, nil
}

type fakeRouter struct {
	mu         sync.Mutex
	transports []*fakeTransport
	closed     bool
	// block, when set, holds CreateTransport until it is closed; entered is
	// signaled first.
	block   chan struct{}
	entered chan struct{}
}

func (r *fakeRouter) CreateTransport(_ context.Context, owner domain.ConnID, dir domain.Direction) (core.Transport, error) {
	if r.block != nil {
		if r.entered != nil {
			r.entered <- struct{}{}
		}
		<-r.block
	}
	t := &fakeTransport{id: domain.TransportID(nextID("t")), owner: owner, dir: dir}
	r.mu.Lock()
	r.transports = append(r.transports, t)
	r.mu.Unlock()
	return t, nil
}

func (r *fakeRouter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

type fakeTransport struct {
	id    domain.TransportID
	owner domain.ConnID
	dir   domain.Direction

	// consumeStarted and consumeRelease let a test interleave with an in-flight Consume.
	consumeStarted chan struct{}
	consumeRelease chan struct{}

	closed atomic.Bool
}

func (t *fakeTransport) ID() domain.TransportID      { return t.id }
func (t *fakeTransport) Direction() domain.Direction { return t.dir }

func (t *fakeTransport) Params() core.TransportParams {
	return core.TransportParams{ID: t.id, Direction: t.dir}
}

func (t *fakeTransport) Connect(_ context.Context, desc core.SessionDescription) (*core.SessionDescription, error) {
	if desc.Type == "offer" {
		return &core.SessionDescription{Type: "answer", SDP: "v=0"}, nil
	}
	return nil, nil
}

func (t *fakeTransport) Produce(_ context.Context, kind domain.MediaKind) (core.Producer, error) {
	return &fakeProducer{id: domain.ProducerID(nextID("p")), kind: kind}, nil
}

func (t *fakeTransport) Consume(_ context.Context, src core.Producer) (core.Consumer, error) {
	if t.consumeStarted != nil {
		close(t.consumeStarted)
		<-t.consumeRelease
	}
	return &fakeConsumer{id: domain.ConsumerID(nextID("c")), producer: src.ID(), kind: src.Kind()}, nil
}

// OnClosed is not driven by the ledger; the orchestrator registers it.
func (t *fakeTransport) OnClosed(func()) {}

func (t *fakeTransport) Close() error {
	t.closed.Store(true)
	return nil
}

type fakeProducer struct {
	id     domain.ProducerID
	kind   domain.MediaKind
	closed atomic.Bool
}

func (p *fakeProducer) ID() domain.ProducerID  { return p.id }
func (p *fakeProducer) Kind() domain.MediaKind { return p.kind }
func (p *fakeProducer) Close() error {
	p.closed.Store(true)
	return nil
}

type fakeConsumer struct {
	id       domain.ConsumerID
	producer domain.ProducerID
	kind     domain.MediaKind
	closed   atomic.Bool
}

func (c *fakeConsumer) ID() domain.ConsumerID         { return c.id }
func (c *fakeConsumer) ProducerID() domain.ProducerID { return c.producer }
func (c *fakeConsumer) Params() core.ConsumerParams {
	return core.ConsumerParams{ID: c.id, ProducerID: c.producer, Kind: c.kind}
}
func (c *fakeConsumer) Close() error {
	c.closed.Store(true)
	return nil
}

type fixedRouter struct {
	router core.Router
	err    error
}

func (f *fixedRouter) Router() (core.Router, error) { return f.router, f.err }

// fakeConn records frames; once full it reports backpressure.
type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	limit  int
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	if c.limit > 0 && len(c.frames) >= c.limit {
		return errors.New("full")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		env, err := decodeFrame(f)
		if err != nil {
			out = append(out, "!"+err.Error())
			continue
		}
		out = append(out, env.Type)
	}
	return out
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeSink struct {
	mu     sync.Mutex
	events []core.RoomEvent
	got    chan struct{}
}

func (s *fakeSink) Publish(_ context.Context, ev core.RoomEvent) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	if s.got != nil {
		s.got <- struct{}{}
	}
	return nil
}
