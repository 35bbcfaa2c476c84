package domain

const (
	RoomName = "main-room"
	// MaxStreamers is the default streamer capacity of the room.
	MaxStreamers = 2
)

// RoomSnapshot is a read-only view of membership in insertion order.
type RoomSnapshot struct {
	Streamers []ConnID `json:"streamers"`
	Watchers  []ConnID `json:"watchers"`
}

// StreamAvailable is true iff at least one streamer is present.
func (s RoomSnapshot) StreamAvailable() bool { return len(s.Streamers) > 0 }

// ProducerInfo describes a live producer for clients that want to consume it.
type ProducerInfo struct {
	ID    ProducerID `json:"id"`
	Kind  MediaKind  `json:"kind"`
	Owner ConnID     `json:"owner"`
}
