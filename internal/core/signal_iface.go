package core

import "encoding/json"

// Frame is a raw encoded signaling message.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Envelope is the wire shape of every signaling message.
// Requests and their responses carry the same ID; server pushes carry none.
type Envelope struct {
	ID   *int64          `json:"id,omitempty"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// EncodeEnvelope marshals data into an envelope frame.
func EncodeEnvelope(id *int64, typ string, data any) (Frame, error) {
	env := Envelope{ID: id, Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}
	return json.Marshal(env)
}
