package redis

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"emperror.dev/errors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mrjvadi/tentacle/broker"
)

var ErrSettled = errors.NewPlain("delivery already settled")

func isGroupExists(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// Consume binds queue to the exchange of the same name, joins the consumer
// group and streams entries. Entries idle in other consumers' pending lists
// are claimed first; they are delivered together with the entries still
// pending under this consumer name from an earlier run, before new ones.
// Unsettled entries stay in the group's pending list when ctx ends.
func (t *Transport) Consume(ctx context.Context, queue string) (<-chan broker.Delivery, error) {
	if err := t.Bind(ctx, queue, queue, queue); err != nil {
		return nil, errors.WrapIf(err, "bind queue")
	}
	if err := t.rdb.XGroupCreateMkStream(ctx, queue, t.group, "0").Err(); err != nil && !isGroupExists(err) {
		return nil, errors.WrapIf(err, "create group")
	}

	consumer := t.consumer
	if consumer == "" {
		consumer = broker.ConsumerTag()
	}
	log := t.logger.With(zap.String("queue", queue), zap.String("consumer", consumer))
	if err := t.claim(ctx, queue, consumer, log); err != nil {
		return nil, err
	}
	out := make(chan broker.Delivery)
	go func() {
		defer close(out)
		// "0" and later ids walk this consumer's pending history; ">" asks
		// for new entries.
		cursor := "0"
		for ctx.Err() == nil {
			res, err := t.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
				Group:    t.group,
				Consumer: consumer,
				Streams:  []string{queue, cursor},
				Count:    16,
				Block:    t.pollBlock,
			}).Result()
			if errors.Is(err, goredis.Nil) {
				continue
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn("XREADGROUP failed", zap.Error(err))
				time.Sleep(150 * time.Millisecond)
				continue
			}

			n := 0
			for _, s := range res {
				for _, m := range s.Messages {
					n++
					if cursor != ">" {
						cursor = m.ID
					}
					a := &acker{t: t, queue: queue, id: m.ID, values: m.Values}
					select {
					case out <- toDelivery(m.Values, a):
					case <-ctx.Done():
						return
					}
				}
			}
			if cursor != ">" && n == 0 {
				cursor = ">"
			}
		}
	}()
	return out, nil
}

// claim moves entries idle for at least claimIdle into consumer's pending
// list, where the replay from cursor "0" picks them up.
func (t *Transport) claim(ctx context.Context, queue, consumer string, log *zap.Logger) error {
	if t.claimIdle <= 0 {
		return nil
	}
	start, total := "0-0", 0
	for {
		msgs, next, err := t.rdb.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
			Stream:   queue,
			Group:    t.group,
			Consumer: consumer,
			MinIdle:  t.claimIdle,
			Start:    start,
			Count:    100,
		}).Result()
		if err != nil {
			return errors.WrapIfWithDetails(err, "xautoclaim", "queue", queue)
		}
		total += len(msgs)
		if next == "0-0" || next == "" {
			break
		}
		start = next
	}
	if total > 0 {
		log.Info("Claimed idle entries", zap.Int("count", total))
	}
	return nil
}

type acker struct {
	t       *Transport
	queue   string
	id      string
	values  map[string]any
	settled atomic.Bool
}

func (a *acker) Ack() error {
	if !a.settled.CompareAndSwap(false, true) {
		return ErrSettled
	}
	return errors.WrapIf(a.t.rdb.XAck(context.Background(), a.queue, a.t.group, a.id).Err(), "xack")
}

func (a *acker) Reject(requeue bool) error {
	if !a.settled.CompareAndSwap(false, true) {
		return ErrSettled
	}
	target := a.queue + deadSuffix
	if requeue {
		target = a.queue
	}
	args := []any{a.t.group, a.id}
	for k, v := range a.values {
		args = append(args, k, v)
	}
	err := settleLua.Run(context.Background(), a.t.rdb, []string{a.queue, target}, args...).Err()
	return errors.WrapIf(err, "reject")
}
