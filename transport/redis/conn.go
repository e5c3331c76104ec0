package redis

import (
	"context"
	"sync"
	"time"

	"emperror.dev/errors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/mrjvadi/tentacle/broker"
)

type conn struct {
	t *Transport

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

	n, err := declareReplyLua.Run(ctx, c.t.rdb, []string{bindingsKey(exchange), name}, name).Int()
	if err != nil {
		return nil, errors.WrapIf(err, "declare reply queue")
	}
	if n == 0 {
		return nil, errors.WithDetails(ErrQueueExists, "queue", name)
	}

	rq := &replyQueue{rdb: c.t.rdb, exchange: exchange, name: name, lastID: "0"}
	c.owned[name] = rq
	return rq, nil
}

func (c *conn) Publish(ctx context.Context, msg broker.Publishing) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return c.t.Publish(ctx, msg)
}

// Close deletes every reply queue declared on the connection.
func (c *conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	var errs []error
	for name, rq := range c.owned {
		errs = append(errs, rq.Delete())
		delete(c.owned, name)
	}
	return errors.Combine(errs...)
}

type replyQueue struct {
	rdb      *goredis.Client
	exchange string
	name     string

	mu      sync.Mutex
	lastID  string
	deleted bool
}

func (r *replyQueue) Name() string { return r.name }

func (r *replyQueue) Drain(ctx context.Context, timeout time.Duration) (broker.Delivery, error) {
	// XREAD blocks in whole milliseconds and treats 0 as forever.
	if timeout < time.Millisecond {
		return broker.Delivery{}, broker.ErrDrainTimeout
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.rdb.XRead(ctx, &goredis.XReadArgs{
		Streams: []string{r.name, r.lastID},
		Count:   1,
		Block:   timeout,
	}).Result()
	if errors.Is(err, goredis.Nil) {
		return broker.Delivery{}, broker.ErrDrainTimeout
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return broker.Delivery{}, ctxErr
		}
		return broker.Delivery{}, errors.WrapIf(err, "xread")
	}
	for _, s := range res {
		for _, m := range s.Messages {
			r.lastID = m.ID
			return toDelivery(m.Values, nil), nil
		}
	}
	return broker.Delivery{}, broker.ErrDrainTimeout
}

func (r *replyQueue) Delete() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleted {
		return nil
	}
	r.deleted = true
	ctx := context.Background()
	_, err := r.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, r.name)
		pipe.HDel(ctx, bindingsKey(r.exchange), r.name)
		return nil
	})
	return errors.WrapIf(err, "delete reply queue")
}
