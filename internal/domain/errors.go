package domain

import "errors"

var (
	ErrCapacityExceeded      = errors.New("streamer limit reached")
	ErrAlreadyJoined         = errors.New("already joined")
	ErrNotAStreamer          = errors.New("not a streamer")
	ErrProducerAlreadyExists = errors.New("producer already exists")
	ErrProducerNotFound      = errors.New("producer not found")
	ErrDuplicateTransport    = errors.New("transport already exists")
	ErrEngineUnavailable     = errors.New("media engine unavailable")

	ErrEngine            = errors.New("media engine error")
	ErrNotJoined         = errors.New("not joined")
	ErrSessionClosed     = errors.New("session closed")
	ErrTransportNotFound = errors.New("transport not found")
	ErrBadRequest        = errors.New("bad request")
	ErrRateLimited       = errors.New("rate limited")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrCapacityExceeded, "capacity_exceeded"},
	{ErrAlreadyJoined, "already_joined"},
	{ErrNotAStreamer, "not_a_streamer"},
	{ErrProducerAlreadyExists, "producer_already_exists"},
	{ErrProducerNotFound, "producer_not_found"},
	{ErrDuplicateTransport, "duplicate_transport"},
	{ErrEngineUnavailable, "engine_unavailable"},
	{ErrNotJoined, "not_joined"},
	{ErrSessionClosed, "session_closed"},
	{ErrTransportNotFound, "transport_not_found"},
	{ErrBadRequest, "bad_request"},
	{ErrRateLimited, "rate_limited"},
	{ErrEngine, "engine_error"},
}

// Code maps an error to its stable wire code. Unknown errors are engine errors.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "engine_error"
}
