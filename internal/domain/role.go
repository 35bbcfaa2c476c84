// Package domain contains entity without logic, just meta-data
package domain

import "fmt"

// ConnID is assigned by the signaling channel, one per connection.
type ConnID string

type Role string

const (
	RoleStreamer Role = "streamer"
	RoleWatcher  Role = "watcher"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleStreamer, RoleWatcher:
		return r, nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrBadRequest, s)
}

type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case DirectionSend, DirectionRecv:
		return d, nil
	}
	return "", fmt.Errorf("%w: unknown direction %q", ErrBadRequest, s)
}

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

func ParseMediaKind(s string) (MediaKind, error) {
	switch k := MediaKind(s); k {
	case KindAudio, KindVideo:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown media kind %q", ErrBadRequest, s)
}

type (
	TransportID string
	ProducerID  string
	ConsumerID  string
)
