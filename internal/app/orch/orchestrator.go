package orch

import (
	"sync"

	"github.com/dkeye/duocast/internal/app"
	"github.com/dkeye/duocast/internal/core"
	"github.com/dkeye/duocast/internal/domain"
	"github.com/rs/zerolog/log"
)

// Orchestrator wires the room registry, the resource ledger and the broadcaster.
// mu linearizes every membership change together with the push it causes.
type Orchestrator struct {
	mu       sync.Mutex
	Registry *app.Registry
	Ledger   *app.Ledger
	Notifier *app.Broadcaster
}

func New(reg *app.Registry, ledger *app.Ledger, notifier *app.Broadcaster) *Orchestrator {
	return &Orchestrator{Registry: reg, Ledger: ledger, Notifier: notifier}
}

// Connect attaches a new signaling connection and returns its session.
func (o *Orchestrator) Connect(id domain.ConnID, conn core.SignalConnection) *Session {
	o.Notifier.Attach(id, conn)
	log.Info().Str("module", "orch").Str("conn", string(id)).Msg("connected")
	return &Session{id: id, orch: o}
}

func (o *Orchestrator) RoomState() domain.RoomSnapshot {
	return o.Registry.Snapshot()
}

func (o *Orchestrator) Producers() []domain.ProducerInfo {
	return o.Ledger.Producers()
}
