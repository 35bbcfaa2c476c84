package app

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/dkeye/duocast/internal/core"
	"github.com/dkeye/duocast/internal/domain"
	"github.com/rs/zerolog/log"
)

// Server push event names.
const (
	EventRoomStateChanged  = "room-state-changed"
	EventStreamAvailable   = "stream-available"
	EventStreamUnavailable = "stream-unavailable"
	EventProducerAdded     = "producer-added"
	EventProducerClosed    = "producer-closed"
	EventConsumerClosed    = "consumer-closed"
)

type ProducerClosedPayload struct {
	ProducerID domain.ProducerID `json:"producerId"`
}

type ConsumerClosedPayload struct {
	ConsumerID domain.ConsumerID `json:"consumerId"`
	ProducerID domain.ProducerID `json:"producerId"`
}

type ProducerAddedPayload struct {
	ProducerID domain.ProducerID `json:"producerId"`
	Kind       domain.MediaKind  `json:"kind"`
	Owner      domain.ConnID     `json:"owner"`
}

// PublishResult reports delivery stats/backpressure of one push.
type PublishResult struct {
	SendTo  int
	Dropped []domain.ConnID
}

// Broadcaster pushes room notifications to attached connections.
// Callers serialize calls so that every member sees pushes in mutation order.
type Broadcaster struct {
	mu        sync.Mutex
	conns     map[domain.ConnID]core.SignalConnection
	policy    Policy
	mirror    *EventMirror
	available bool
}

func NewBroadcaster(policy Policy, mirror *EventMirror) *Broadcaster {
	return &Broadcaster{
		conns:  make(map[domain.ConnID]core.SignalConnection),
		policy: policy,
		mirror: mirror,
	}
}

func (b *Broadcaster) Attach(id domain.ConnID, conn core.SignalConnection) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conns[id] = conn
}

func (b *Broadcaster) Detach(id domain.ConnID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conns, id)
}

// RoomChanged pushes the snapshot to every member, and stream availability when it
// flipped. joined, if set, is a member that just arrived and gets the current
// availability even without a flip.
func (b *Broadcaster) RoomChanged(snap domain.RoomSnapshot, joined domain.ConnID) {
	members := append(append([]domain.ConnID{}, snap.Streamers...), snap.Watchers...)
	b.Broadcast(members, EventRoomStateChanged, snap)

	b.mu.Lock()
	flipped := b.available != snap.StreamAvailable()
	b.available = snap.StreamAvailable()
	b.mu.Unlock()

	event := EventStreamUnavailable
	if snap.StreamAvailable() {
		event = EventStreamAvailable
	}
	switch {
	case flipped:
		log.Info().Str("module", "app.notify").Str("event", event).Msg("stream availability changed")
		b.Broadcast(members, event, nil)
	case joined != "":
		b.Push([]domain.ConnID{joined}, event, nil)
	}
}

// Available reports the last pushed stream availability.
func (b *Broadcaster) Available() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.available
}

// Push sends one event to each target that is attached.
func (b *Broadcaster) Push(targets []domain.ConnID, event string, data any) PublishResult {
	frame, err := core.EncodeEnvelope(nil, event, data)
	if err != nil {
		log.Error().Err(err).Str("module", "app.notify").Str("event", event).Msg("encode push")
		return PublishResult{}
	}

	res := PublishResult{}
	b.mu.Lock()
	for _, id := range targets {
		conn, ok := b.conns[id]
		if !ok {
			continue
		}
		if err := conn.TrySend(frame); err != nil {
			res.Dropped = append(res.Dropped, id)
			continue
		}
		res.SendTo++
	}
	b.mu.Unlock()

	for _, id := range res.Dropped {
		b.onBackPressure(id)
	}
	log.Debug().Str("module", "app.notify").Str("event", event).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("push result")
	return res
}

// Broadcast pushes a room-wide event to members and mirrors it to the event sink.
func (b *Broadcaster) Broadcast(members []domain.ConnID, event string, data any) PublishResult {
	res := b.Push(members, event, data)
	if b.mirror != nil {
		var payload json.RawMessage
		if data != nil {
			payload, _ = json.Marshal(data)
		}
		b.mirror.Mirror(core.RoomEvent{Type: event, Room: domain.RoomName, Payload: payload, Timestamp: time.Now()})
	}
	return res
}

func (b *Broadcaster) onBackPressure(id domain.ConnID) {
	if b.policy == nil {
		return
	}
	switch b.policy.OnBackPressure(id) {
	case KickMember:
		b.mu.Lock()
		conn, ok := b.conns[id]
		delete(b.conns, id)
		b.mu.Unlock()
		if ok {
			log.Warn().Str("module", "app.notify").Str("conn", string(id)).Msg("slow member kicked")
			conn.Close()
		}
	case DropFrame, NoAction:
	}
}
