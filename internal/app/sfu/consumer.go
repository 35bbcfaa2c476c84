package sfu

import (
	"sync"

	"github.com/dkeye/duocast/internal/core"
	"github.com/dkeye/duocast/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Consumer is one producer's track added to a receive transport.
type Consumer struct {
	id        domain.ConsumerID
	producer  *Producer
	transport *Transport
	sender    *webrtc.RTPSender
	params    core.ConsumerParams
	closeOnce sync.Once
}

var _ core.Consumer = (*Consumer)(nil)

func (c *Consumer) ID() domain.ConsumerID         { return c.id }
func (c *Consumer) ProducerID() domain.ProducerID { return c.producer.id }
func (c *Consumer) Params() core.ConsumerParams   { return c.params }

func (c *Consumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.producer.relay.RemoveOutTrack(c.id)
		c.transport.removeConsumer(c.id)
		err = c.transport.conn.RemoveSender(c.sender)
		c.transport.logger.Info().Str("consumer", string(c.id)).Msg("consumer closed")
	})
	return err
}
