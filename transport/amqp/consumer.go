package amqp

import (
	"context"

	"emperror.dev/errors"
	amqp091 "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/mrjvadi/tentacle/broker"
)

// Consumer reads a worker queue with manual acknowledgement. Deliveries left
// unsettled when the connection closes are requeued by the server.
type Consumer struct {
	url      string
	prefetch int
	logger   *zap.Logger
}

var _ broker.Consumer = (*Consumer)(nil)

func NewConsumer(url string, opts ...Option) *Consumer {
	o := applyOptions(opts)
	return &Consumer{url: url, prefetch: o.prefetch, logger: o.logger}
}

// Consume declares the durable queue, bound to a direct exchange of the same
// name under the queue name, and streams its deliveries until ctx ends or the
// connection drops.
func (c *Consumer) Consume(ctx context.Context, queue string) (<-chan broker.Delivery, error) {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return nil, errors.WrapIf(err, "dial")
	}
	msgs, err := c.setup(conn, queue)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	log := c.logger.With(zap.String("queue", queue))
	out := make(chan broker.Delivery)
	go func() {
		defer close(out)
		defer func() {
			if err := conn.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
				log.Warn("Close connection", zap.Error(err))
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					log.Warn("Delivery channel closed")
					return
				}
				select {
				case out <- toDelivery(d, acknowledger{d}):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (c *Consumer) setup(conn *amqp091.Connection, queue string) (<-chan amqp091.Delivery, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.WrapIf(err, "open channel")
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, errors.WrapIf(err, "qos")
	}
	if err := declareExchange(ch, queue); err != nil {
		return nil, errors.WrapIfWithDetails(err, "declare exchange", "exchange", queue)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, errors.WrapIfWithDetails(err, "declare queue", "queue", queue)
	}
	if err := ch.QueueBind(queue, queue, queue, false, nil); err != nil {
		return nil, errors.WrapIfWithDetails(err, "bind queue", "queue", queue)
	}
	msgs, err := ch.Consume(queue, broker.ConsumerTag(), false, false, false, false, nil)
	if err != nil {
		return nil, errors.WrapIfWithDetails(err, "consume", "queue", queue)
	}
	return msgs, nil
}
