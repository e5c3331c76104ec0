package memory

import (
	"context"

	"github.com/mrjvadi/tentacle/broker"
)

// A ReplyFunc maps one decoded request to the replies sent back to its
// reply_to queue, in order.
type ReplyFunc func(req broker.Envelope) []any

// Respond plays a remote service: it consumes queue and answers each request
// through exchange until ctx ends. Requests without a reply_to are acked and
// dropped. Replies carry the request's correlation id.
func (b *Broker) Respond(ctx context.Context, queue, exchange string, codec broker.Codec, fn ReplyFunc) error {
	b.DeclareQueue(queue, exchange, queue)
	deliveries, err := b.Consume(ctx, queue)
	if err != nil {
		return err
	}
	go func() {
		for d := range deliveries {
			v, err := codec.Decode(d.Body)
			if err != nil {
				_ = d.Reject(false)
				continue
			}
			_ = d.Ack()
			if d.ReplyTo == "" {
				continue
			}
			req, _ := v.(map[string]any)
			for _, reply := range fn(broker.Envelope(req)) {
				body, err := codec.Encode(reply)
				if err != nil {
					continue
				}
				b.Publish(broker.Publishing{
					Exchange:      exchange,
					RoutingKey:    d.ReplyTo,
					Body:          body,
					ContentType:   codec.ContentType(),
					CorrelationID: d.CorrelationID,
				})
			}
		}
	}()
	return nil
}
