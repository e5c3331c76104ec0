package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mrjvadi/tentacle/broker"
)

func TestToDelivery(t *testing.T) {
	d := toDelivery(map[string]any{
		fieldBody:          `{"status":"OK"}`,
		fieldContentType:   "application/json",
		fieldCorrelationID: "c-1",
		fieldReplyTo:       "c-1",
		fieldRoutingKey:    "svc",
		"unrelated":        7,
	}, nil)
	assert.Equal(t, broker.Delivery{
		Body:          []byte(`{"status":"OK"}`),
		ContentType:   "application/json",
		CorrelationID: "c-1",
		ReplyTo:       "c-1",
		RoutingKey:    "svc",
	}, d)
}

func TestIsGroupExists(t *testing.T) {
	assert.True(t, isGroupExists(fmt.Errorf("BUSYGROUP Consumer Group name already exists")))
	assert.False(t, isGroupExists(fmt.Errorf("ERR wrong type")))
	assert.False(t, isGroupExists(nil))
}

// newTransport connects to REDIS_ADDR, using REDIS_DB (default 15), and
// skips the test when no server is configured.
func newTransport(t *testing.T, opts ...Option) (*Transport, string) {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	db := 15
	if v := os.Getenv("REDIS_DB"); v != "" {
		_, _ = fmt.Sscanf(v, "%d", &db)
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr, DB: db})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(context.Background()).Err())

	prefix := fmt.Sprintf("test:%d", time.Now().UnixNano())
	opts = append([]Option{WithLogger(zaptest.NewLogger(t)), WithPollBlock(100 * time.Millisecond)}, opts...)
	return New(rdb, opts...), prefix
}

func TestReplyQueueRoundTrip(t *testing.T) {
	tr, prefix := newTransport(t)
	ctx := context.Background()
	exchange, name := prefix+":svc", prefix+":corr"

	c, err := tr.Dial(ctx, "ignored")
	require.NoError(t, err)
	rq, err := c.DeclareReplyQueue(ctx, exchange, name)
	require.NoError(t, err)
	_, err = c.DeclareReplyQueue(ctx, exchange, name)
	require.ErrorIs(t, err, ErrQueueExists)

	_, err = rq.Drain(ctx, 50*time.Millisecond)
	require.ErrorIs(t, err, broker.ErrDrainTimeout)

	for _, body := range []string{"first", "second"} {
		require.NoError(t, c.Publish(ctx, broker.Publishing{Exchange: exchange, RoutingKey: name, Body: []byte(body), CorrelationID: "corr"}))
	}
	d, err := rq.Drain(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "first", string(d.Body))
	d, err = rq.Drain(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "second", string(d.Body))

	require.NoError(t, c.Close())
	n, err := tr.rdb.Exists(ctx, name).Result()
	require.NoError(t, err)
	assert.Zero(t, n, "reply stream must be deleted")
	bound, err := tr.rdb.HExists(ctx, bindingsKey(exchange), name).Result()
	require.NoError(t, err)
	assert.False(t, bound)

	// Unroutable publishes are dropped silently.
	require.NoError(t, tr.Publish(ctx, broker.Publishing{Exchange: exchange, RoutingKey: name, Body: []byte("late")}))
	n, err = tr.rdb.Exists(ctx, name).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConsumeAndSettle(t *testing.T) {
	tr, prefix := newTransport(t)
	queue := prefix + ":work"

	ctx, cancel := context.WithCancel(context.Background())
	deliveries, err := tr.Consume(ctx, queue)
	require.NoError(t, err)

	for _, body := range []string{"ack", "requeue", "dead"} {
		require.NoError(t, tr.Publish(ctx, broker.Publishing{Exchange: queue, RoutingKey: queue, Body: []byte(body)}))
	}

	next := func() broker.Delivery {
		select {
		case d := <-deliveries:
			return d
		case <-time.After(2 * time.Second):
			t.Fatal("no delivery")
			return broker.Delivery{}
		}
	}
	d := next()
	assert.Equal(t, "ack", string(d.Body))
	require.NoError(t, d.Ack())
	require.ErrorIs(t, d.Ack(), ErrSettled)

	d = next()
	require.NoError(t, d.Reject(true))
	d = next()
	assert.Equal(t, "dead", string(d.Body))
	require.NoError(t, d.Reject(false))

	d = next()
	assert.Equal(t, "requeue", string(d.Body), "requeued entry comes back")
	require.NoError(t, d.Ack())

	cancel()
	for range deliveries {
	}

	bg := context.Background()
	dead, err := tr.rdb.XRange(bg, queue+deadSuffix, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "dead", dead[0].Values[fieldBody])

	pending, err := tr.rdb.XPending(bg, queue, tr.group).Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
}

func TestConsumeRedeliversPending(t *testing.T) {
	tr, prefix := newTransport(t, WithConsumerName("fixed"))
	queue := prefix + ":pending"

	ctx, cancel := context.WithCancel(context.Background())
	deliveries, err := tr.Consume(ctx, queue)
	require.NoError(t, err)
	require.NoError(t, tr.Publish(ctx, broker.Publishing{Exchange: queue, RoutingKey: queue, Body: []byte("unsettled")}))
	d := <-deliveries
	assert.Equal(t, "unsettled", string(d.Body))
	cancel()
	for range deliveries {
	}

	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	deliveries, err = tr.Consume(ctx, queue)
	require.NoError(t, err)
	select {
	case d := <-deliveries:
		assert.Equal(t, "unsettled", string(d.Body))
		require.NoError(t, d.Ack())
	case <-time.After(2 * time.Second):
		t.Fatal("pending entry was not redelivered")
	}
	cancel()
	for range deliveries {
	}
}

func TestConsumeClaimsIdleEntriesOfOtherConsumers(t *testing.T) {
	first, prefix := newTransport(t, WithConsumerName("worker-1"))
	queue := prefix + ":claim"

	ctx, cancel := context.WithCancel(context.Background())
	deliveries, err := first.Consume(ctx, queue)
	require.NoError(t, err)
	require.NoError(t, first.Publish(ctx, broker.Publishing{Exchange: queue, RoutingKey: queue, Body: []byte("orphan")}))
	d := <-deliveries
	assert.Equal(t, "orphan", string(d.Body))
	// worker-1 goes away without settling.
	cancel()
	for range deliveries {
	}

	const idle = 50 * time.Millisecond
	time.Sleep(2 * idle)

	second := New(first.rdb,
		WithConsumerName("worker-2"),
		WithClaimIdle(idle),
		WithPollBlock(100*time.Millisecond),
		WithLogger(zaptest.NewLogger(t)),
	)
	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	deliveries, err = second.Consume(ctx, queue)
	require.NoError(t, err)
	select {
	case d := <-deliveries:
		assert.Equal(t, "orphan", string(d.Body))
		require.NoError(t, d.Ack())
	case <-time.After(2 * time.Second):
		t.Fatal("idle entry was not claimed")
	}
	cancel()
	for range deliveries {
	}

	pending, err := second.rdb.XPending(context.Background(), queue, second.group).Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
}

func TestClaimIdleDisabled(t *testing.T) {
	tr := New(nil, WithClaimIdle(0))
	assert.Zero(t, tr.claimIdle)
	require.NoError(t, tr.claim(context.Background(), "q", "c", tr.logger))
	assert.Equal(t, time.Minute, New(nil).claimIdle)
}
