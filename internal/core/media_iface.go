package core

import (
	"context"

	"github.com/dkeye/duocast/internal/domain"
)

// Codec is a codec capability the router is created with.
type Codec struct {
	Kind        domain.MediaKind
	MimeType    string
	ClockRate   uint32
	Channels    uint16
	SDPFmtpLine string
	PayloadType uint8
}

type ICEServer struct {
	URLs       []string `json:"urls" mapstructure:"urls"`
	Username   string   `json:"username,omitempty" mapstructure:"username"`
	Credential string   `json:"credential,omitempty" mapstructure:"credential"`
}

// SessionDescription is an SDP blob exchanged over signaling.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// TransportParams is what a client needs to set up its side of a transport.
type TransportParams struct {
	ID         domain.TransportID `json:"id"`
	Direction  domain.Direction   `json:"direction"`
	ICEServers []ICEServer        `json:"iceServers"`
}

// ConsumerParams is what a client needs to render a consumed track.
// Offer carries a renegotiation offer for the receive transport, when the engine needs one.
type ConsumerParams struct {
	ID         domain.ConsumerID   `json:"id"`
	ProducerID domain.ProducerID   `json:"producerId"`
	Kind       domain.MediaKind    `json:"kind"`
	TrackID    string              `json:"trackId"`
	StreamID   string              `json:"streamId"`
	Offer      *SessionDescription `json:"offer,omitempty"`
}

// MediaEngine is the external SFU. Every call may block and may fail.
type MediaEngine interface {
	CreateRouter(ctx context.Context, codecs []Codec) (Router, error)
}

type Router interface {
	CreateTransport(ctx context.Context, owner domain.ConnID, dir domain.Direction) (Transport, error)
	Close() error
}

type Transport interface {
	ID() domain.TransportID
	Direction() domain.Direction
	Params() TransportParams
	// Connect applies a remote description. An offer yields an answer; an answer yields nil.
	Connect(ctx context.Context, desc SessionDescription) (*SessionDescription, error)
	Produce(ctx context.Context, kind domain.MediaKind) (Producer, error)
	Consume(ctx context.Context, src Producer) (Consumer, error)
	// OnClosed registers fn to run once when the engine reports the transport failed
	// or closed. fn runs at once if that already happened.
	OnClosed(fn func())
	Close() error
}

type Producer interface {
	ID() domain.ProducerID
	Kind() domain.MediaKind
	Close() error
}

type Consumer interface {
	ID() domain.ConsumerID
	ProducerID() domain.ProducerID
	Params() ConsumerParams
	Close() error
}
