package app

import (
	"context"
	"sync"

	"github.com/dkeye/duocast/internal/core"
	"github.com/rs/zerolog/log"
)

// EventMirror forwards room events to an external sink from a single goroutine,
// so the sink sees them in push order. Events are dropped when the queue is full.
type EventMirror struct {
	sink  core.EventSink
	queue chan core.RoomEvent
	done  chan struct{}
	once  sync.Once
}

func NewEventMirror(sink core.EventSink, size int) *EventMirror {
	if size <= 0 {
		size = 256
	}
	return &EventMirror{
		sink:  sink,
		queue: make(chan core.RoomEvent, size),
		done:  make(chan struct{}),
	}
}

// Run drains the queue until ctx is done.
func (m *EventMirror) Run(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.queue:
			if err := m.sink.Publish(ctx, ev); err != nil {
				log.Warn().Err(err).Str("module", "app.mirror").Str("event", ev.Type).Msg("mirror publish failed")
			}
		}
	}
}

// Done is closed when Run returns.
func (m *EventMirror) Done() <-chan struct{} { return m.done }

func (m *EventMirror) Mirror(ev core.RoomEvent) {
	select {
	case m.queue <- ev:
	default:
		m.once.Do(func() {
			log.Warn().Str("module", "app.mirror").Msg("mirror queue full, dropping events")
		})
	}
}
