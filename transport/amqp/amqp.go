// Package amqp carries the broker protocol over RabbitMQ.
//
// Exchanges are direct and durable and are declared on first use. Reply
// queues are exclusive and auto-deleting, so the server removes them with the
// connection even if Delete is never reached.
package amqp

import (
	"context"
	"sync"
	"time"

	"emperror.dev/errors"
	amqp091 "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/mrjvadi/tentacle/broker"
)

var ErrClosed = errors.NewPlain("amqp channel closed")

type options struct {
	logger   *zap.Logger
	prefetch int
}

type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithPrefetch bounds unacknowledged deliveries per consumer. Defaults to 10.
func WithPrefetch(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.prefetch = n
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{logger: zap.NewNop(), prefetch: 10}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Transport opens one AMQP connection per Dial.
type Transport struct {
	logger *zap.Logger
}

var _ broker.Transport = (*Transport)(nil)

func New(opts ...Option) *Transport {
	o := applyOptions(opts)
	return &Transport{logger: o.logger}
}

func (t *Transport) Dial(ctx context.Context, url string) (broker.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := amqp091.Dial(url)
	if err != nil {
		return nil, errors.WrapIf(err, "dial")
	}
	ch, err := c.Channel()
	if err != nil {
		_ = c.Close()
		return nil, errors.WrapIf(err, "open channel")
	}
	return &conn{c: c, ch: ch, exchanges: make(map[string]bool), logger: t.logger}, nil
}

type conn struct {
	c      *amqp091.Connection
	ch     *amqp091.Channel
	logger *zap.Logger

	mu        sync.Mutex
	exchanges map[string]bool
}

func declareExchange(ch *amqp091.Channel, name string) error {
	return ch.ExchangeDeclare(
		name,     // name
		"direct", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
}

func (c *conn) ensureExchange(name string) error {
	if name == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exchanges[name] {
		return nil
	}
	if err := declareExchange(c.ch, name); err != nil {
		return errors.WrapIfWithDetails(err, "declare exchange", "exchange", name)
	}
	c.exchanges[name] = true
	return nil
}

func toPublishing(msg broker.Publishing) amqp091.Publishing {
	mode := amqp091.Transient
	if msg.Persistent {
		mode = amqp091.Persistent
	}
	return amqp091.Publishing{
		ContentType:     msg.ContentType,
		ContentEncoding: msg.ContentEncoding,
		CorrelationId:   msg.CorrelationID,
		ReplyTo:         msg.ReplyTo,
		DeliveryMode:    mode,
		Timestamp:       time.Now(),
		Body:            msg.Body,
	}
}

func (c *conn) Publish(ctx context.Context, msg broker.Publishing) error {
	if err := c.ensureExchange(msg.Exchange); err != nil {
		return err
	}
	err := c.ch.PublishWithContext(ctx, msg.Exchange, msg.RoutingKey, false, false, toPublishing(msg))
	return errors.WrapIf(err, "publish")
}

func (c *conn) DeclareReplyQueue(ctx context.Context, exchange, name string) (broker.ReplyQueue, error) {
	if err := c.ensureExchange(exchange); err != nil {
		return nil, err
	}
	if _, err := c.ch.QueueDeclare(
		name,  // name
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	); err != nil {
		return nil, errors.WrapIfWithDetails(err, "declare queue", "queue", name)
	}
	if exchange != "" {
		if err := c.ch.QueueBind(name, name, exchange, false, nil); err != nil {
			return nil, errors.WrapIfWithDetails(err, "bind queue", "queue", name, "exchange", exchange)
		}
	}
	tag := broker.ConsumerTag()
	msgs, err := c.ch.Consume(name, tag, true, true, false, false, nil)
	if err != nil {
		return nil, errors.WrapIfWithDetails(err, "consume", "queue", name)
	}
	return &replyQueue{ch: c.ch, name: name, tag: tag, msgs: msgs}, nil
}

func (c *conn) Close() error {
	if err := c.ch.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
		c.logger.Debug("Close channel", zap.Error(err))
	}
	if err := c.c.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
		return errors.WrapIf(err, "close connection")
	}
	return nil
}

type replyQueue struct {
	ch   *amqp091.Channel
	name string
	tag  string
	msgs <-chan amqp091.Delivery

	once sync.Once
}

func (r *replyQueue) Name() string { return r.name }

func (r *replyQueue) Drain(ctx context.Context, timeout time.Duration) (broker.Delivery, error) {
	if timeout <= 0 {
		return broker.Delivery{}, broker.ErrDrainTimeout
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case d, ok := <-r.msgs:
		if !ok {
			return broker.Delivery{}, ErrClosed
		}
		return toDelivery(d, nil), nil
	case <-t.C:
		return broker.Delivery{}, broker.ErrDrainTimeout
	case <-ctx.Done():
		return broker.Delivery{}, ctx.Err()
	}
}

func (r *replyQueue) Delete() error {
	var err error
	r.once.Do(func() {
		if cerr := r.ch.Cancel(r.tag, false); cerr != nil && !errors.Is(cerr, amqp091.ErrClosed) {
			err = errors.WrapIf(cerr, "cancel consumer")
			return
		}
		if _, derr := r.ch.QueueDelete(r.name, false, false, false); derr != nil && !errors.Is(derr, amqp091.ErrClosed) {
			err = errors.WrapIf(derr, "delete queue")
		}
	})
	return err
}

type acknowledger struct{ d amqp091.Delivery }

func (a acknowledger) Ack() error                { return a.d.Ack(false) }
func (a acknowledger) Reject(requeue bool) error { return a.d.Reject(requeue) }

func toDelivery(d amqp091.Delivery, ack broker.Acknowledger) broker.Delivery {
	return broker.Delivery{
		Body:          d.Body,
		ContentType:   d.ContentType,
		CorrelationID: d.CorrelationId,
		ReplyTo:       d.ReplyTo,
		RoutingKey:    d.RoutingKey,
		Acknowledger:  ack,
	}
}
