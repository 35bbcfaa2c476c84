package orch

import (
	"github.com/dkeye/duocast/internal/app"
	"github.com/dkeye/duocast/internal/domain"
	"github.com/rs/zerolog/log"
)

// join admits id and runs joined before the room is told, while o.mu is still held.
func (o *Orchestrator) join(id domain.ConnID, role domain.Role, joined func()) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.Registry.Join(id, role); err != nil {
		return err
	}
	o.Ledger.Open(id)
	joined()
	o.Notifier.RoomChanged(o.Registry.Snapshot(), id)
	return nil
}

// leave drops membership and every resource of id. It reports whether id was a member.
// Engine objects are closed after o.mu is released, since their close callbacks take it.
func (o *Orchestrator) leave(id domain.ConnID) bool {
	o.mu.Lock()
	role, wasMember := o.Registry.Leave(id)
	rel := o.Ledger.DetachConnection(id)
	o.announceRelease(rel)
	if wasMember {
		o.Notifier.RoomChanged(o.Registry.Snapshot(), "")
	}
	o.mu.Unlock()

	rel.Close()
	if wasMember {
		log.Info().Str("module", "orch").Str("conn", string(id)).Str("role", string(role)).Msg("left room")
	}
	return wasMember
}

// transportClosed handles the engine reporting a transport of id failed or closed.
func (o *Orchestrator) transportClosed(id domain.ConnID, tid domain.TransportID) {
	o.mu.Lock()
	rel, ok := o.Ledger.DetachTransport(id, tid)
	if ok {
		o.announceRelease(rel)
	}
	o.mu.Unlock()
	rel.Close()
}

// announceRelease tells the room a producer is gone and tells owners of orphaned
// consumers which of theirs were closed. Caller holds o.mu.
func (o *Orchestrator) announceRelease(rel app.Release) {
	if rel.Producer != nil {
		o.Notifier.Broadcast(o.Registry.Members(), app.EventProducerClosed, app.ProducerClosedPayload{ProducerID: rel.Producer.ID})
	}
	for _, c := range rel.Orphans {
		o.Notifier.Push([]domain.ConnID{c.Owner}, app.EventConsumerClosed, app.ConsumerClosedPayload{
			ConsumerID: c.ID,
			ProducerID: c.ProducerID,
		})
	}
}
