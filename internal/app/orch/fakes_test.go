package orch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/duocast/internal/app"
	"github.com/dkeye/duocast/internal/core"
	"github.com/dkeye/duocast/internal/domain"
)

var (
	_ core.Router           = (*fakeRouter)(nil)
	_ core.Transport        = (*fakeTransport)(nil)
	_ core.SignalConnection = (*recorder)(nil)
	_ app.RouterSource      = (*fakeRouter)(nil)
)

var ids atomic.Int64

func nextID(prefix string) string { return fmt.Sprintf("%s-%d", prefix, ids.Add(1)) }

// fakeRouter is its own RouterSource; connectErr is returned by every Connect.
type fakeRouter struct {
	connectErr error

	mu         sync.Mutex
	transports map[domain.TransportID]*fakeTransport
}

func (r *fakeRouter) Router() (core.Router, error) { return r, nil }

func (r *fakeRouter) CreateTransport(_ context.Context, _ domain.ConnID, dir domain.Direction) (core.Transport, error) {
	t := &fakeTransport{id: domain.TransportID(nextID("t")), dir: dir, connectErr: r.connectErr}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.transports == nil {
		r.transports = make(map[domain.TransportID]*fakeTransport)
	}
	r.transports[t.id] = t
	return t, nil
}

func (r *fakeRouter) transport(id domain.TransportID) *fakeTransport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transports[id]
}

func (r *fakeRouter) Close() error { return nil }

// fakeTransport runs its close callback on fail and on Close, like the pion transport.
type fakeTransport struct {
	id         domain.TransportID
	dir        domain.Direction
	connectErr error

	mu       sync.Mutex
	onClosed func()
	ended    bool
}

func (t *fakeTransport) ID() domain.TransportID      { return t.id }
func (t *fakeTransport) Direction() domain.Direction { return t.dir }
func (t *fakeTransport) Params() core.TransportParams {
	return core.TransportParams{ID: t.id, Direction: t.dir}
}

func (t *fakeTransport) Connect(_ context.Context, desc core.SessionDescription) (*core.SessionDescription, error) {
	if t.connectErr != nil {
		return nil, t.connectErr
	}
	if desc.Type == "offer" {
		return &core.SessionDescription{Type: "answer", SDP: "v=0"}, nil
	}
	return nil, nil
}

func (t *fakeTransport) Produce(_ context.Context, kind domain.MediaKind) (core.Producer, error) {
	return &fakeProducer{id: domain.ProducerID(nextID("p")), kind: kind}, nil
}

func (t *fakeTransport) Consume(_ context.Context, src core.Producer) (core.Consumer, error) {
	return &fakeConsumer{id: domain.ConsumerID(nextID("c")), producer: src.ID(), kind: src.Kind()}, nil
}

func (t *fakeTransport) OnClosed(fn func()) {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		fn()
		return
	}
	t.onClosed = fn
	t.mu.Unlock()
}

// fail reports the transport as failed.
func (t *fakeTransport) fail() {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	t.ended = true
	fn := t.onClosed
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ended
}

func (t *fakeTransport) Close() error {
	t.fail()
	return nil
}

type fakeProducer struct {
	id   domain.ProducerID
	kind domain.MediaKind
}

func (p *fakeProducer) ID() domain.ProducerID  { return p.id }
func (p *fakeProducer) Kind() domain.MediaKind { return p.kind }
func (p *fakeProducer) Close() error           { return nil }

type fakeConsumer struct {
	id       domain.ConsumerID
	producer domain.ProducerID
	kind     domain.MediaKind
}

func (c *fakeConsumer) ID() domain.ConsumerID         { return c.id }
func (c *fakeConsumer) ProducerID() domain.ProducerID { return c.producer }
func (c *fakeConsumer) Params() core.ConsumerParams {
	return core.ConsumerParams{ID: c.id, ProducerID: c.producer, Kind: c.kind}
}
func (c *fakeConsumer) Close() error { return nil }

// recorder keeps every frame pushed to one connection.
type recorder struct {
	mu     sync.Mutex
	frames []core.Envelope
}

func (r *recorder) TrySend(f core.Frame) error {
	var env core.Envelope
	if err := json.Unmarshal(f, &env); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, env)
	return nil
}

func (r *recorder) Close() {}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.frames))
	for _, env := range r.frames {
		out = append(out, env.Type)
	}
	return out
}

// last returns the data of the most recent push of type typ.
func (r *recorder) last(typ string) (json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.frames) - 1; i >= 0; i-- {
		if r.frames[i].Type == typ {
			return r.frames[i].Data, nil
		}
	}
	return nil, errors.New("no " + typ + " push")
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = nil
}
