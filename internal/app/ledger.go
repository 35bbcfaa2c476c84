package app

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/dkeye/duocast/internal/core"
	"github.com/dkeye/duocast/internal/domain"
	"github.com/rs/zerolog/log"
)

// RoleLookup tells the ledger which role a connection currently holds.
type RoleLookup interface {
	RoleOf(id domain.ConnID) (domain.Role, bool)
}

// RouterSource hands out the router once the media engine is ready.
type RouterSource interface {
	Router() (core.Router, error)
}

type producerEntry struct {
	owner     domain.ConnID
	producer  core.Producer
	consumers map[domain.ConsumerID]*consumerEntry
}

type consumerEntry struct {
	owner    domain.ConnID
	consumer core.Consumer
	source   *producerEntry
}

// connEntry is the arena slot of one connection. A released connection's slot is
// removed from the ledger, so pointer identity tells in-flight calls whether they lost the race.
type connEntry struct {
	transports map[domain.Direction]core.Transport
	pending    map[domain.Direction]bool
	producer   *producerEntry
	producing  bool
	consumers  map[domain.ConsumerID]*consumerEntry
}

// ClosedConsumer is a consumer torn down because its source producer went away.
type ClosedConsumer struct {
	Owner      domain.ConnID
	ID         domain.ConsumerID
	ProducerID domain.ProducerID
}

// Release lists what a cascading removal tore down that other parties care about.
// The engine objects themselves are closed by Close, which must not run under a lock
// that engine callbacks take.
type Release struct {
	Producer *domain.ProducerInfo
	// Orphans are consumers of still-present connections that were closed with it.
	Orphans []ClosedConsumer

	closers []closer
	conn    domain.ConnID
}

// Close closes every detached engine object. Only the first call does anything.
func (r *Release) Close() {
	if len(r.closers) == 0 {
		return
	}
	runClosers(r.closers)
	log.Info().Str("module", "app.ledger").Str("conn", string(r.conn)).Int("released", len(r.closers)).Msg("resources released")
	r.closers = nil
}

// Holdings counts the resources recorded for a connection.
type Holdings struct {
	Transports int
	Producer   bool
	Consumers  int
}

// Ledger tracks the SFU resources of every connection.
// Engine calls run outside the lock; results are recorded only if the owner is still
// present, otherwise they are torn down immediately.
type Ledger struct {
	mu        sync.Mutex
	roles     RoleLookup
	routers   RouterSource
	conns     map[domain.ConnID]*connEntry
	producers map[domain.ProducerID]*producerEntry
}

func NewLedger(roles RoleLookup, routers RouterSource) *Ledger {
	return &Ledger{
		roles:     roles,
		routers:   routers,
		conns:     make(map[domain.ConnID]*connEntry),
		producers: make(map[domain.ProducerID]*producerEntry),
	}
}

// Open creates the slot for id. Resources can only be created for open connections.
func (l *Ledger) Open(id domain.ConnID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.conns[id]; ok {
		return
	}
	l.conns[id] = &connEntry{
		transports: make(map[domain.Direction]core.Transport),
		pending:    make(map[domain.Direction]bool),
		consumers:  make(map[domain.ConsumerID]*consumerEntry),
	}
}

func (l *Ledger) CreateTransport(ctx context.Context, id domain.ConnID, dir domain.Direction) (core.Transport, error) {
	l.mu.Lock()
	e, ok := l.conns[id]
	if !ok {
		l.mu.Unlock()
		return nil, domain.ErrNotJoined
	}
	if dir == domain.DirectionSend {
		if role, _ := l.roles.RoleOf(id); role != domain.RoleStreamer {
			l.mu.Unlock()
			return nil, domain.ErrNotAStreamer
		}
	}
	if e.transports[dir] != nil || e.pending[dir] {
		l.mu.Unlock()
		return nil, domain.ErrDuplicateTransport
	}
	router, err := l.routers.Router()
	if err != nil {
		l.mu.Unlock()
		return nil, err
	}
	e.pending[dir] = true
	l.mu.Unlock()

	t, err := router.CreateTransport(ctx, id, dir)

	l.mu.Lock()
	delete(e.pending, dir)
	if err != nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: create transport: %v", domain.ErrEngine, err)
	}
	if l.conns[id] != e {
		l.mu.Unlock()
		closeQuietly("transport", string(t.ID()), t.Close)
		return nil, domain.ErrSessionClosed
	}
	e.transports[dir] = t
	l.mu.Unlock()

	log.Info().Str("module", "app.ledger").Str("conn", string(id)).Str("transport", string(t.ID())).Str("direction", string(dir)).Msg("transport created")
	return t, nil
}

// Transport looks up a transport of id by its transport id.
func (l *Ledger) Transport(id domain.ConnID, tid domain.TransportID) (core.Transport, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.conns[id]
	if !ok {
		return nil, domain.ErrNotJoined
	}
	return e.transport(tid)
}

func (e *connEntry) transport(tid domain.TransportID) (core.Transport, error) {
	for _, t := range e.transports {
		if t.ID() == tid {
			return t, nil
		}
	}
	return nil, domain.ErrTransportNotFound
}

func (l *Ledger) RegisterProducer(ctx context.Context, id domain.ConnID, tid domain.TransportID, kind domain.MediaKind) (core.Producer, error) {
	l.mu.Lock()
	e, ok := l.conns[id]
	if !ok {
		l.mu.Unlock()
		return nil, domain.ErrNotJoined
	}
	if role, _ := l.roles.RoleOf(id); role != domain.RoleStreamer {
		l.mu.Unlock()
		return nil, domain.ErrNotAStreamer
	}
	if e.producer != nil || e.producing {
		l.mu.Unlock()
		return nil, domain.ErrProducerAlreadyExists
	}
	t, err := e.transport(tid)
	if err != nil || t.Direction() != domain.DirectionSend {
		l.mu.Unlock()
		return nil, domain.ErrTransportNotFound
	}
	e.producing = true
	l.mu.Unlock()

	p, err := t.Produce(ctx, kind)

	l.mu.Lock()
	e.producing = false
	if err != nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: produce: %v", domain.ErrEngine, err)
	}
	if l.conns[id] != e {
		l.mu.Unlock()
		closeQuietly("producer", string(p.ID()), p.Close)
		return nil, domain.ErrSessionClosed
	}
	pe := &producerEntry{owner: id, producer: p, consumers: make(map[domain.ConsumerID]*consumerEntry)}
	e.producer = pe
	l.producers[p.ID()] = pe
	l.mu.Unlock()

	log.Info().Str("module", "app.ledger").Str("conn", string(id)).Str("producer", string(p.ID())).Str("kind", string(kind)).Msg("producer registered")
	return p, nil
}

// RegisterConsumer subscribes id to a producer. The producer is re-checked after the
// engine call under the same lock that removes producers, so a consumer is never
// recorded against a producer that is gone.
func (l *Ledger) RegisterConsumer(ctx context.Context, id domain.ConnID, tid domain.TransportID, pid domain.ProducerID) (core.Consumer, error) {
	l.mu.Lock()
	e, ok := l.conns[id]
	if !ok {
		l.mu.Unlock()
		return nil, domain.ErrNotJoined
	}
	t, err := e.transport(tid)
	if err != nil || t.Direction() != domain.DirectionRecv {
		l.mu.Unlock()
		return nil, domain.ErrTransportNotFound
	}
	pe, ok := l.producers[pid]
	if !ok {
		l.mu.Unlock()
		return nil, domain.ErrProducerNotFound
	}
	l.mu.Unlock()

	c, err := t.Consume(ctx, pe.producer)

	l.mu.Lock()
	if err != nil {
		gone := l.producers[pid] != pe
		l.mu.Unlock()
		if gone {
			return nil, domain.ErrProducerNotFound
		}
		return nil, fmt.Errorf("%w: consume: %v", domain.ErrEngine, err)
	}
	switch {
	case l.conns[id] != e:
		l.mu.Unlock()
		closeQuietly("consumer", string(c.ID()), c.Close)
		return nil, domain.ErrSessionClosed
	case l.producers[pid] != pe:
		l.mu.Unlock()
		closeQuietly("consumer", string(c.ID()), c.Close)
		return nil, domain.ErrProducerNotFound
	}
	ce := &consumerEntry{owner: id, consumer: c, source: pe}
	e.consumers[c.ID()] = ce
	pe.consumers[c.ID()] = ce
	l.mu.Unlock()

	log.Info().Str("module", "app.ledger").Str("conn", string(id)).Str("consumer", string(c.ID())).Str("producer", string(pid)).Msg("consumer registered")
	return c, nil
}

// CloseProducer removes the producer of id and every consumer that references it.
func (l *Ledger) CloseProducer(id domain.ConnID) (Release, error) {
	rel, err := l.DetachProducer(id)
	rel.Close()
	return rel, err
}

// DetachProducer unlinks the producer of id and its consumers, leaving them for the
// caller to Close.
func (l *Ledger) DetachProducer(id domain.ConnID) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.conns[id]
	if !ok {
		return Release{}, domain.ErrNotJoined
	}
	if e.producer == nil {
		return Release{}, domain.ErrProducerNotFound
	}
	rel := Release{conn: id}
	l.detachProducer(e, &rel)
	return rel, nil
}

// ReleaseConnection tears down, in order, the consumers of id, its producer together
// with every consumer elsewhere that references it, and its transports.
// Only the first call for an id does anything.
func (l *Ledger) ReleaseConnection(id domain.ConnID) Release {
	rel := l.DetachConnection(id)
	rel.Close()
	return rel
}

// DetachConnection removes the slot of id and unlinks everything ReleaseConnection
// would close, leaving the closing to the caller.
func (l *Ledger) DetachConnection(id domain.ConnID) Release {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.conns[id]
	if !ok {
		return Release{}
	}
	delete(l.conns, id)

	rel := Release{conn: id}
	for _, cid := range slices.Sorted(maps.Keys(e.consumers)) {
		ce := e.consumers[cid]
		delete(ce.source.consumers, cid)
		rel.closers = append(rel.closers, closer{"consumer", string(cid), ce.consumer.Close})
	}
	e.consumers = nil

	if e.producer != nil {
		l.detachProducer(e, &rel)
	}
	for _, dir := range []domain.Direction{domain.DirectionRecv, domain.DirectionSend} {
		if t := e.transports[dir]; t != nil {
			rel.closers = append(rel.closers, closer{"transport", string(t.ID()), t.Close})
		}
	}
	e.transports = nil
	return rel
}

// DetachTransport drops a transport the engine reported as failed. Losing the send
// transport takes the producer and its consumers with it; losing the receive transport
// takes the connection's own consumers, which are reported as Orphans. It reports
// false when the transport is no longer recorded.
func (l *Ledger) DetachTransport(id domain.ConnID, tid domain.TransportID) (Release, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.conns[id]
	if !ok {
		return Release{}, false
	}
	t, err := e.transport(tid)
	if err != nil {
		return Release{}, false
	}
	delete(e.transports, t.Direction())

	rel := Release{conn: id}
	switch t.Direction() {
	case domain.DirectionSend:
		if e.producer != nil {
			l.detachProducer(e, &rel)
		}
	case domain.DirectionRecv:
		for _, cid := range slices.Sorted(maps.Keys(e.consumers)) {
			ce := e.consumers[cid]
			delete(ce.source.consumers, cid)
			rel.Orphans = append(rel.Orphans, ClosedConsumer{Owner: id, ID: cid, ProducerID: ce.source.producer.ID()})
			rel.closers = append(rel.closers, closer{"consumer", string(cid), ce.consumer.Close})
		}
		clear(e.consumers)
	}
	rel.closers = append(rel.closers, closer{"transport", string(tid), t.Close})
	log.Warn().Str("module", "app.ledger").Str("conn", string(id)).Str("transport", string(tid)).Str("direction", string(t.Direction())).Msg("transport lost")
	return rel, true
}

// detachProducer unlinks e's producer and its consumers into rel. Caller holds l.mu.
func (l *Ledger) detachProducer(e *connEntry, rel *Release) {
	pe := e.producer
	e.producer = nil
	delete(l.producers, pe.producer.ID())

	rel.Producer = &domain.ProducerInfo{ID: pe.producer.ID(), Kind: pe.producer.Kind(), Owner: pe.owner}
	for _, cid := range slices.Sorted(maps.Keys(pe.consumers)) {
		ce := pe.consumers[cid]
		if owner, ok := l.conns[ce.owner]; ok {
			delete(owner.consumers, cid)
		}
		rel.Orphans = append(rel.Orphans, ClosedConsumer{Owner: ce.owner, ID: cid, ProducerID: pe.producer.ID()})
		rel.closers = append(rel.closers, closer{"consumer", string(cid), ce.consumer.Close})
	}
	pe.consumers = nil
	rel.closers = append(rel.closers, closer{"producer", string(pe.producer.ID()), pe.producer.Close})
}

func (l *Ledger) Producers() []domain.ProducerInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.ProducerInfo, 0, len(l.producers))
	for _, pid := range slices.Sorted(maps.Keys(l.producers)) {
		pe := l.producers[pid]
		out = append(out, domain.ProducerInfo{ID: pid, Kind: pe.producer.Kind(), Owner: pe.owner})
	}
	return out
}

func (l *Ledger) HasProducer(pid domain.ProducerID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.producers[pid]
	return ok
}

func (l *Ledger) Holdings(id domain.ConnID) (Holdings, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.conns[id]
	if !ok {
		return Holdings{}, false
	}
	return Holdings{Transports: len(e.transports), Producer: e.producer != nil, Consumers: len(e.consumers)}, true
}

type closer struct {
	kind string
	id   string
	fn   func() error
}

func runClosers(cs []closer) {
	for _, c := range cs {
		closeQuietly(c.kind, c.id, c.fn)
	}
}

func closeQuietly(kind, id string, fn func() error) {
	if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Str("module", "app.ledger").Str(kind, id).Msg("close failed")
	}
}
