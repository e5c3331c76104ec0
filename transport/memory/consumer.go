package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/mrjvadi/tentacle/broker"
)

var _ broker.Consumer = (*Broker)(nil)

// Consume declares queue, bound to an exchange of the same name under the
// queue name, and streams its messages. Deliveries still unsettled when ctx
// ends are requeued, as a broker does when a consumer's channel closes.
func (b *Broker) Consume(ctx context.Context, queueName string) (<-chan broker.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.DeclareQueue(queueName, queueName, queueName)
	b.mu.Lock()
	q := b.queues[queueName]
	b.mu.Unlock()

	c := &consumer{b: b, q: q, pending: make(map[*acker]struct{})}
	out := make(chan broker.Delivery)
	go func() {
		defer close(out)
		defer c.requeuePending()
		for {
			m, err := q.pop(ctx, 0)
			if err != nil {
				return
			}
			a := c.track(m)
			select {
			case out <- toDelivery(m, a):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

type consumer struct {
	b *Broker
	q *queue

	mu      sync.Mutex
	pending map[*acker]struct{}
}

func (c *consumer) track(m *message) *acker {
	a := &acker{c: c, m: m}
	c.mu.Lock()
	c.pending[a] = struct{}{}
	c.mu.Unlock()
	return a
}

func (c *consumer) forget(a *acker) {
	c.mu.Lock()
	delete(c.pending, a)
	c.mu.Unlock()
}

func (c *consumer) requeuePending() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[*acker]struct{})
	c.mu.Unlock()
	for a := range pending {
		if a.settled.CompareAndSwap(false, true) {
			a.m.redelivered = true
			c.q.push(a.m)
		}
	}
}

type acker struct {
	c       *consumer
	m       *message
	settled atomic.Bool
}

func (a *acker) Ack() error {
	if !a.settled.CompareAndSwap(false, true) {
		return ErrSettled
	}
	a.c.forget(a)
	a.c.q.mu.Lock()
	a.c.q.acked++
	a.c.q.mu.Unlock()
	return nil
}

func (a *acker) Reject(requeue bool) error {
	if !a.settled.CompareAndSwap(false, true) {
		return ErrSettled
	}
	a.c.forget(a)
	a.c.q.mu.Lock()
	a.c.q.rejected++
	a.c.q.mu.Unlock()
	if requeue {
		a.m.redelivered = true
		a.c.q.push(a.m)
		return nil
	}
	a.c.b.mu.Lock()
	a.c.b.dead = append(a.c.b.dead, toDelivery(a.m, nil))
	a.c.b.mu.Unlock()
	return nil
}
