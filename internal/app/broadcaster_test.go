package app

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/dkeye/duocast/internal/core"
	"github.com/dkeye/duocast/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeFrame(f core.Frame) (core.Envelope, error) {
	var env core.Envelope
	err := json.Unmarshal(f, &env)
	return env, err
}

func TestBroadcasterAvailabilityOnlyOnFlip(t *testing.T) {
	b := NewBroadcaster(SimplePolicy{}, nil)
	s, w := &fakeConn{}, &fakeConn{}
	b.Attach("s", s)
	b.Attach("w", w)

	// a watcher joins an empty room: it still learns availability
	b.RoomChanged(domain.RoomSnapshot{Streamers: []domain.ConnID{}, Watchers: []domain.ConnID{"w"}}, "w")
	assert.Equal(t, []string{EventRoomStateChanged, EventStreamUnavailable}, w.types())

	// first streamer flips availability for everyone
	snap := domain.RoomSnapshot{Streamers: []domain.ConnID{"s"}, Watchers: []domain.ConnID{"w"}}
	b.RoomChanged(snap, "s")
	assert.Equal(t, []string{EventRoomStateChanged, EventStreamAvailable}, s.types())
	assert.Equal(t, []string{EventRoomStateChanged, EventStreamUnavailable, EventRoomStateChanged, EventStreamAvailable}, w.types())
	assert.True(t, b.Available())

	// no flip: only the snapshot goes out
	b.RoomChanged(snap, "")
	assert.Equal(t, []string{EventRoomStateChanged, EventStreamAvailable, EventRoomStateChanged}, s.types())

	// streamer leaves: flip back
	b.RoomChanged(domain.RoomSnapshot{Streamers: []domain.ConnID{}, Watchers: []domain.ConnID{"w"}}, "")
	assert.Equal(t, EventStreamUnavailable, w.types()[len(w.types())-1])
	assert.False(t, b.Available())
}

func TestBroadcasterJoinerGetsCurrentAvailability(t *testing.T) {
	b := NewBroadcaster(SimplePolicy{}, nil)
	s, w := &fakeConn{}, &fakeConn{}
	b.Attach("s", s)
	b.Attach("w", w)

	b.RoomChanged(domain.RoomSnapshot{Streamers: []domain.ConnID{"s"}, Watchers: []domain.ConnID{}}, "s")
	b.RoomChanged(domain.RoomSnapshot{Streamers: []domain.ConnID{"s"}, Watchers: []domain.ConnID{"w"}}, "w")

	assert.Equal(t, []string{EventRoomStateChanged, EventStreamAvailable}, w.types())
	assert.Equal(t, []string{EventRoomStateChanged, EventStreamAvailable, EventRoomStateChanged}, s.types())
}

func TestBroadcasterSnapshotPayload(t *testing.T) {
	b := NewBroadcaster(SimplePolicy{}, nil)
	c := &fakeConn{}
	b.Attach("w", c)

	b.RoomChanged(domain.RoomSnapshot{Streamers: []domain.ConnID{"s"}, Watchers: []domain.ConnID{"w"}}, "")

	env, err := decodeFrame(c.frames[0])
	require.NoError(t, err)
	assert.Nil(t, env.ID)
	assert.JSONEq(t, `{"streamers":["s"],"watchers":["w"]}`, string(env.Data))
}

func TestBroadcasterSkipsDetached(t *testing.T) {
	b := NewBroadcaster(SimplePolicy{}, nil)
	c := &fakeConn{}
	b.Attach("a", c)
	b.Detach("a")

	res := b.Push([]domain.ConnID{"a", "unknown"}, EventProducerClosed, ProducerClosedPayload{ProducerID: "p"})
	assert.Zero(t, res.SendTo)
	assert.Empty(t, res.Dropped)
	assert.Empty(t, c.types())
}

func TestBroadcasterKicksSlowMember(t *testing.T) {
	b := NewBroadcaster(SimplePolicy{}, nil)
	slow, fast := &fakeConn{limit: 1}, &fakeConn{}
	b.Attach("slow", slow)
	b.Attach("fast", fast)
	targets := []domain.ConnID{"slow", "fast"}

	b.Push(targets, EventProducerAdded, nil)
	res := b.Push(targets, EventProducerClosed, nil)

	assert.Equal(t, 1, res.SendTo)
	assert.Equal(t, []domain.ConnID{"slow"}, res.Dropped)
	assert.True(t, slow.isClosed())
	assert.False(t, fast.isClosed())

	// kicked connections receive nothing more
	res = b.Push(targets, EventProducerAdded, nil)
	assert.Equal(t, 1, res.SendTo)
	assert.Empty(t, res.Dropped)
}

type dropPolicy struct{}

func (dropPolicy) OnBackPressure(domain.ConnID) BackpressureAction { return DropFrame }

func TestBroadcasterDropPolicyKeepsMember(t *testing.T) {
	b := NewBroadcaster(dropPolicy{}, nil)
	slow := &fakeConn{limit: 1}
	b.Attach("slow", slow)

	b.Push([]domain.ConnID{"slow"}, EventProducerAdded, nil)
	res := b.Push([]domain.ConnID{"slow"}, EventProducerAdded, nil)
	assert.Equal(t, []domain.ConnID{"slow"}, res.Dropped)
	assert.False(t, slow.isClosed())
}

func TestBroadcastMirrorsRoomEvents(t *testing.T) {
	sink := &fakeSink{got: make(chan struct{}, 8)}
	mirror := NewEventMirror(sink, 8)
	ctx, cancel := context.WithCancel(context.Background())
	go mirror.Run(ctx)
	defer func() {
		cancel()
		<-mirror.Done()
	}()

	b := NewBroadcaster(SimplePolicy{}, mirror)
	b.Broadcast(nil, EventProducerClosed, ProducerClosedPayload{ProducerID: "p1"})
	// direct pushes are not mirrored
	b.Push(nil, EventConsumerClosed, ConsumerClosedPayload{ConsumerID: "c1", ProducerID: "p1"})
	b.Broadcast(nil, EventStreamUnavailable, nil)

	for range 2 {
		select {
		case <-sink.got:
		case <-time.After(time.Second):
			t.Fatal("event not mirrored")
		}
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.events, 2)
	assert.Equal(t, EventProducerClosed, sink.events[0].Type)
	assert.Equal(t, domain.RoomName, sink.events[0].Room)
	assert.JSONEq(t, `{"producerId":"p1"}`, string(sink.events[0].Payload))
	assert.Equal(t, EventStreamUnavailable, sink.events[1].Type)
	assert.Empty(t, sink.events[1].Payload)
}

func TestEventMirrorDropsWhenFull(t *testing.T) {
	sink := &fakeSink{}
	m := NewEventMirror(sink, 1)

	m.Mirror(core.RoomEvent{Type: "a"})
	m.Mirror(core.RoomEvent{Type: "b"})

	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)
	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.events) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-m.Done()

	assert.Equal(t, "a", sink.events[0].Type)
}
