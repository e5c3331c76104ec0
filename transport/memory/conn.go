package memory

import (
	"context"
	"sync"
	"time"

	"emperror.dev/errors"

	"github.com/mrjvadi/tentacle/broker"
)

var _ broker.Transport = (*Broker)(nil)

// Dial opens a connection. The URL is recorded but not interpreted.
func (b *Broker) Dial(ctx context.Context, url string) (broker.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.urls = append(b.urls, url)
	b.mu.Unlock()
	return &conn{b: b, owned: make(map[string]*replyQueue)}, nil
}

type conn struct {
	b *Broker

	mu     sync.Mutex
	owned  map[string]*replyQueue
	closed bool
}

func (c *conn) DeclareReplyQueue(ctx context.Context, exchange, name string) (broker.ReplyQueue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	c.b.mu.Lock()
	if _, ok := c.b.queues[name]; ok {
		c.b.mu.Unlock()
		return nil, errors.WithDetails(ErrQueueExists, "queue", name)
	}
	q := newQueue(name, false, true)
	c.b.queues[name] = q
	if exchange != "" {
		c.b.bindLocked(exchange, name, name)
	}
	c.b.mu.Unlock()

	rq := &replyQueue{b: c.b, q: q}
	c.owned[name] = rq
	return rq, nil
}

func (c *conn) Publish(ctx context.Context, msg broker.Publishing) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	c.b.Publish(msg)
	return nil
}

// Close deletes every reply queue declared on the connection.
func (c *conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for name, rq := range c.owned {
		_ = rq.Delete()
		delete(c.owned, name)
	}
	return nil
}

type replyQueue struct {
	b *Broker
	q *queue
}

func (r *replyQueue) Name() string { return r.q.name }

func (r *replyQueue) Drain(ctx context.Context, timeout time.Duration) (broker.Delivery, error) {
	if timeout <= 0 {
		return broker.Delivery{}, broker.ErrDrainTimeout
	}
	m, err := r.q.pop(ctx, timeout)
	if err != nil {
		return broker.Delivery{}, err
	}
	return toDelivery(m, nil), nil
}

func (r *replyQueue) Delete() error {
	r.b.deleteQueue(r.q.name)
	return nil
}
