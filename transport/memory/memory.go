// Package memory implements an in-process broker with direct exchanges,
// durable and auto-deleting queues, and explicit ack/reject. It satisfies
// broker.Transport and broker.Consumer.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"emperror.dev/errors"

	"github.com/mrjvadi/tentacle/broker"
)

var (
	ErrQueueExists  = errors.NewPlain("queue already declared")
	ErrQueueDeleted = errors.NewPlain("queue deleted")
	ErrClosed       = errors.NewPlain("connection closed")
	ErrSettled      = errors.NewPlain("delivery already settled")
)

// Broker is an in-process message broker. The zero value is not usable; call
// New.
type Broker struct {
	mu       sync.Mutex
	queues   map[string]*queue
	bindings map[string]map[string]map[string]bool // exchange → key → queue set
	dead     []broker.Delivery
	urls     []string
}

// New returns an empty broker.
func New() *Broker {
	return &Broker{
		queues:   make(map[string]*queue),
		bindings: make(map[string]map[string]map[string]bool),
	}
}

type message struct {
	pub         broker.Publishing
	redelivered bool
}

type queue struct {
	name       string
	durable    bool
	autoDelete bool

	mu      sync.Mutex
	items   []*message
	notify  chan struct{}
	deleted bool

	acked    int
	rejected int
}

func newQueue(name string, durable, autoDelete bool) *queue {
	return &queue{name: name, durable: durable, autoDelete: autoDelete, notify: make(chan struct{}, 1)}
}

func (q *queue) push(m *message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deleted {
		return
	}
	q.items = append(q.items, m)
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop waits for the next message until timeout (if positive) or ctx ends.
func (q *queue) pop(ctx context.Context, timeout time.Duration) (*message, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	for {
		q.mu.Lock()
		if q.deleted {
			q.mu.Unlock()
			return nil, ErrQueueDeleted
		}
		if len(q.items) > 0 {
			m := q.items[0]
			q.items = q.items[1:]
			if len(q.items) > 0 {
				select {
				case q.notify <- struct{}{}:
				default:
				}
			}
			q.mu.Unlock()
			return m, nil
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-expired:
			return nil, broker.ErrDrainTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *queue) markDeleted() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deleted = true
	q.items = nil
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// DeclareQueue declares a durable queue bound to exchange under key. An empty
// exchange binds nothing beyond the default exchange, which routes by queue
// name. Redeclaring a queue adds the binding.
func (b *Broker) DeclareQueue(name, exchange, key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queues[name]; !ok {
		b.queues[name] = newQueue(name, true, false)
	}
	if exchange != "" {
		b.bindLocked(exchange, key, name)
	}
}

func (b *Broker) bindLocked(exchange, key, name string) {
	keys, ok := b.bindings[exchange]
	if !ok {
		keys = make(map[string]map[string]bool)
		b.bindings[exchange] = keys
	}
	if keys[key] == nil {
		keys[key] = make(map[string]bool)
	}
	keys[key][name] = true
}

func (b *Broker) deleteQueue(name string) {
	b.mu.Lock()
	q, ok := b.queues[name]
	if ok {
		delete(b.queues, name)
		for _, keys := range b.bindings {
			for _, set := range keys {
				delete(set, name)
			}
		}
	}
	b.mu.Unlock()
	if ok {
		q.markDeleted()
	}
}

// Publish routes msg. Messages nobody is bound to are dropped, like an
// unroutable, non-mandatory AMQP publish.
func (b *Broker) Publish(msg broker.Publishing) {
	b.mu.Lock()
	var targets []*queue
	if msg.Exchange == "" {
		if q, ok := b.queues[msg.RoutingKey]; ok {
			targets = append(targets, q)
		}
	} else {
		for name := range b.bindings[msg.Exchange][msg.RoutingKey] {
			targets = append(targets, b.queues[name])
		}
	}
	b.mu.Unlock()

	for _, q := range targets {
		m := msg
		m.Body = append([]byte(nil), msg.Body...)
		q.push(&message{pub: m})
	}
}

// Queues returns the names of all declared queues, sorted.
func (b *Broker) Queues() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.queues))
	for name := range b.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len reports the number of ready messages in the named queue.
func (b *Broker) Len(name string) int {
	b.mu.Lock()
	q, ok := b.queues[name]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stats reports how many deliveries from the named queue were acked and
// rejected.
func (b *Broker) Stats(name string) (acked, rejected int) {
	b.mu.Lock()
	q, ok := b.queues[name]
	b.mu.Unlock()
	if !ok {
		return 0, 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.acked, q.rejected
}

// DeadLetters returns deliveries rejected without requeue.
func (b *Broker) DeadLetters() []broker.Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]broker.Delivery(nil), b.dead...)
}

// URLs returns the URLs passed to Dial, in order.
func (b *Broker) URLs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.urls...)
}

func toDelivery(m *message, ack broker.Acknowledger) broker.Delivery {
	return broker.Delivery{
		Body:          m.pub.Body,
		ContentType:   m.pub.ContentType,
		CorrelationID: m.pub.CorrelationID,
		ReplyTo:       m.pub.ReplyTo,
		RoutingKey:    m.pub.RoutingKey,
		Acknowledger:  ack,
	}
}
