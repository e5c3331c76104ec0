// Package redis carries the broker protocol over Redis streams.
//
// Every queue is a stream. An exchange is a hash mapping routing keys to the
// stream bound under them, so publishing is a lookup followed by XADD, done in
// one script. Consumers read through a consumer group and settle entries with
// XACK; rejected entries are re-appended to the queue or to "<queue>:dead".
// Reply queues are plain streams read with XREAD and removed on Delete.
package redis

import (
	"context"
	"time"

	"emperror.dev/errors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mrjvadi/tentacle/broker"
)

const (
	fieldBody            = "body"
	fieldContentType     = "content_type"
	fieldContentEncoding = "content_encoding"
	fieldCorrelationID   = "correlation_id"
	fieldReplyTo         = "reply_to"
	fieldRoutingKey      = "routing_key"

	deadSuffix = ":dead"
)

var (
	ErrQueueExists = errors.NewPlain("queue already declared")
	ErrClosed      = errors.NewPlain("connection closed")
)

// Transport implements broker.Transport and broker.Consumer on one Redis
// client.
type Transport struct {
	rdb          *goredis.Client
	group        string
	consumer     string
	pollBlock    time.Duration
	claimIdle    time.Duration
	streamMaxLen int64
	logger       *zap.Logger
}

var (
	_ broker.Transport = (*Transport)(nil)
	_ broker.Consumer  = (*Transport)(nil)
)

type Option func(*Transport)

// WithGroup names the consumer group. Defaults to "tentacle".
func WithGroup(name string) Option {
	return func(t *Transport) {
		if name != "" {
			t.group = name
		}
	}
}

// WithConsumerName fixes the group consumer name so that a restarted worker
// picks up its own pending entries. Defaults to a process-unique tag, whose
// leftovers only come back through claiming (see WithClaimIdle).
func WithConsumerName(name string) Option {
	return func(t *Transport) {
		t.consumer = name
	}
}

// WithPollBlock bounds each blocking XREADGROUP.
func WithPollBlock(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.pollBlock = d
		}
	}
}

// WithClaimIdle sets how long an entry must sit unacknowledged in another
// consumer's pending list before Consume takes it over. Zero disables
// claiming. Defaults to one minute.
func WithClaimIdle(d time.Duration) Option {
	return func(t *Transport) {
		if d >= 0 {
			t.claimIdle = d
		}
	}
}

// WithStreamLength caps queue streams, approximately, at n entries.
func WithStreamLength(n int64) Option {
	return func(t *Transport) {
		t.streamMaxLen = n
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.logger = l
		}
	}
}

// New wraps client. The client is owned by the caller.
func New(client *goredis.Client, opts ...Option) *Transport {
	t := &Transport{
		rdb:       client,
		group:     "tentacle",
		pollBlock: 2 * time.Second,
		claimIdle: time.Minute,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func bindingsKey(exchange string) string { return "bindings:" + exchange }

// Bind routes messages published to exchange under key into queue.
func (t *Transport) Bind(ctx context.Context, queue, exchange, key string) error {
	return t.rdb.HSet(ctx, bindingsKey(exchange), key, queue).Err()
}

// Publish routes msg. Unroutable messages are dropped.
func (t *Transport) Publish(ctx context.Context, msg broker.Publishing) error {
	direct := "0"
	if msg.Exchange == "" {
		direct = "1"
	}
	args := []any{
		msg.RoutingKey, direct, t.streamMaxLen,
		fieldBody, msg.Body,
		fieldContentType, msg.ContentType,
		fieldContentEncoding, msg.ContentEncoding,
		fieldCorrelationID, msg.CorrelationID,
		fieldReplyTo, msg.ReplyTo,
		fieldRoutingKey, msg.RoutingKey,
	}
	err := publishLua.Run(ctx, t.rdb, []string{bindingsKey(msg.Exchange)}, args...).Err()
	if errors.Is(err, goredis.Nil) {
		t.logger.Debug("Dropping unroutable message",
			zap.String("exchange", msg.Exchange), zap.String("routing_key", msg.RoutingKey))
		return nil
	}
	return errors.WrapIf(err, "xadd")
}

// Dial checks the server is reachable. The URL is ignored; the client
// already knows where to connect.
func (t *Transport) Dial(ctx context.Context, _ string) (broker.Conn, error) {
	if err := t.rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.WrapIf(err, "ping")
	}
	return &conn{t: t, owned: make(map[string]*replyQueue)}, nil
}

func toPublishing(values map[string]any) broker.Publishing {
	str := func(k string) string {
		s, _ := values[k].(string)
		return s
	}
	return broker.Publishing{
		RoutingKey:      str(fieldRoutingKey),
		Body:            []byte(str(fieldBody)),
		ContentType:     str(fieldContentType),
		ContentEncoding: str(fieldContentEncoding),
		CorrelationID:   str(fieldCorrelationID),
		ReplyTo:         str(fieldReplyTo),
	}
}

func toDelivery(values map[string]any, ack broker.Acknowledger) broker.Delivery {
	p := toPublishing(values)
	return broker.Delivery{
		Body:          p.Body,
		ContentType:   p.ContentType,
		CorrelationID: p.CorrelationID,
		ReplyTo:       p.ReplyTo,
		RoutingKey:    p.RoutingKey,
		Acknowledger:  ack,
	}
}
