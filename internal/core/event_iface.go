package core

import (
	"context"
	"encoding/json"
	"time"
)

// RoomEvent is a server push as mirrored to external observers.
type RoomEvent struct {
	Type      string          `json:"type"`
	Room      string          `json:"room"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// EventSink receives room events in the order they were pushed.
type EventSink interface {
	Publish(ctx context.Context, ev RoomEvent) error
}
