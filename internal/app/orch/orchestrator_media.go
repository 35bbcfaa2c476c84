package orch

import (
	"context"

	"github.com/dkeye/duocast/internal/app"
	"github.com/dkeye/duocast/internal/core"
	"github.com/dkeye/duocast/internal/domain"
)

func (o *Orchestrator) createTransport(ctx context.Context, id domain.ConnID, dir domain.Direction) (core.TransportParams, error) {
	t, err := o.Ledger.CreateTransport(ctx, id, dir)
	if err != nil {
		return core.TransportParams{}, err
	}
	tid := t.ID()
	t.OnClosed(func() { o.transportClosed(id, tid) })
	return t.Params(), nil
}

func (o *Orchestrator) connectTransport(ctx context.Context, id domain.ConnID, tid domain.TransportID, desc core.SessionDescription) (*core.SessionDescription, error) {
	if desc.Type != "offer" && desc.Type != "answer" {
		return nil, domain.ErrBadRequest
	}
	t, err := o.Ledger.Transport(id, tid)
	if err != nil {
		return nil, err
	}
	answer, err := t.Connect(ctx, desc)
	if err != nil {
		return nil, wrapEngine("connect transport", err)
	}
	return answer, nil
}

func (o *Orchestrator) produce(ctx context.Context, id domain.ConnID, tid domain.TransportID, kind domain.MediaKind) (domain.ProducerID, error) {
	p, err := o.Ledger.RegisterProducer(ctx, id, tid, kind)
	if err != nil {
		return "", err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	// The owner may have left while the engine call ran; then the producer is already gone.
	if o.Ledger.HasProducer(p.ID()) {
		o.Notifier.Broadcast(o.Registry.Members(), app.EventProducerAdded, app.ProducerAddedPayload{
			ProducerID: p.ID(),
			Kind:       p.Kind(),
			Owner:      id,
		})
	}
	return p.ID(), nil
}

func (o *Orchestrator) consume(ctx context.Context, id domain.ConnID, tid domain.TransportID, pid domain.ProducerID) (core.ConsumerParams, error) {
	c, err := o.Ledger.RegisterConsumer(ctx, id, tid, pid)
	if err != nil {
		return core.ConsumerParams{}, err
	}
	return c.Params(), nil
}

func (o *Orchestrator) closeProducer(id domain.ConnID) error {
	o.mu.Lock()
	rel, err := o.Ledger.DetachProducer(id)
	if err == nil {
		o.announceRelease(rel)
	}
	o.mu.Unlock()
	if err != nil {
		return err
	}
	rel.Close()
	return nil
}
