package orch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/duocast/internal/core"
	"github.com/dkeye/duocast/internal/domain"
	"github.com/rs/zerolog/log"
)

type State int

const (
	StateConnected State = iota
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "connected"
	}
}

// Session is the signaling state machine of one connection:
// Connected -> Joined -> Closed, where Closed is terminal.
// Requests of one connection are expected to arrive one at a time, in order.
type Session struct {
	id    domain.ConnID
	orch  *Orchestrator
	mu    sync.Mutex
	state State
	role  domain.Role
}

func (s *Session) ID() domain.ConnID { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Role() domain.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// Join claims role in the room. On failure the session stays Connected.
func (s *Session) Join(role domain.Role) error {
	return s.JoinAck(role, nil)
}

// JoinAck is Join that reports the outcome through ack before the room hears of the
// join, so a joiner's response precedes the pushes the join causes.
func (s *Session) JoinAck(role domain.Role, ack func(error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	switch s.state {
	case StateClosed:
		err = domain.ErrSessionClosed
	case StateJoined:
		err = domain.ErrAlreadyJoined
	default:
		err = s.orch.join(s.id, role, func() {
			s.state = StateJoined
			s.role = role
			if ack != nil {
				ack(nil)
			}
		})
	}
	if err != nil && ack != nil {
		ack(err)
	}
	return err
}

// Leave ends the session; the connection itself may stay open.
func (s *Session) Leave() {
	s.close("leave")
}

// Disconnect is Leave triggered by the channel closing. It also detaches the connection.
func (s *Session) Disconnect() {
	s.close("disconnect")
	s.orch.Notifier.Detach(s.id)
}

func (s *Session) close(reason string) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.mu.Unlock()

	wasMember := s.orch.leave(s.id)
	log.Info().Str("module", "orch").Str("conn", string(s.id)).Str("reason", reason).Bool("was_member", wasMember).Msg("session closed")
}

func (s *Session) RoomState() domain.RoomSnapshot {
	return s.orch.RoomState()
}

func (s *Session) Producers() []domain.ProducerInfo {
	return s.orch.Producers()
}

// requireJoined gates resource requests. The lock is not held across engine calls,
// so a concurrent Disconnect can race them; the ledger resolves that race.
func (s *Session) requireJoined() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateJoined:
		return nil
	case StateClosed:
		return domain.ErrSessionClosed
	default:
		return domain.ErrNotJoined
	}
}

func (s *Session) CreateTransport(ctx context.Context, dir domain.Direction) (core.TransportParams, error) {
	if err := s.requireJoined(); err != nil {
		return core.TransportParams{}, err
	}
	return s.orch.createTransport(ctx, s.id, dir)
}

func (s *Session) ConnectTransport(ctx context.Context, tid domain.TransportID, desc core.SessionDescription) (*core.SessionDescription, error) {
	if err := s.requireJoined(); err != nil {
		return nil, err
	}
	return s.orch.connectTransport(ctx, s.id, tid, desc)
}

func (s *Session) Produce(ctx context.Context, tid domain.TransportID, kind domain.MediaKind) (domain.ProducerID, error) {
	if err := s.requireJoined(); err != nil {
		return "", err
	}
	return s.orch.produce(ctx, s.id, tid, kind)
}

func (s *Session) Consume(ctx context.Context, tid domain.TransportID, pid domain.ProducerID) (core.ConsumerParams, error) {
	if err := s.requireJoined(); err != nil {
		return core.ConsumerParams{}, err
	}
	return s.orch.consume(ctx, s.id, tid, pid)
}

func (s *Session) CloseProducer() error {
	if err := s.requireJoined(); err != nil {
		return err
	}
	return s.orch.closeProducer(s.id)
}

func wrapEngine(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", domain.ErrEngineUnavailable, op, err)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrEngine, op, err)
}
