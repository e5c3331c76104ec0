package broker

import (
	"context"
	"time"
)

// HandlerFunc runs one routed task. It executes on the worker pool, never on
// the delivery loop.
type HandlerFunc func(c *Context) error

// Envelope field names shared by the request and response shapes.
const (
	fieldAction  = "action"
	fieldMethod  = "method"
	fieldTask    = "task"
	fieldID      = "id"
	fieldKwargs  = "kwargs"
	fieldParams  = "params"
	fieldJSONRPC = "jsonrpc"
	fieldStatus  = "status"

	jsonRPCVersion = "2.0"

	// StatusRetry marks a progress notice from a remote that is still working.
	StatusRetry = "RETRY"
)

// An Acknowledger settles a delivery with the broker.
type Acknowledger interface {
	Ack() error
	Reject(requeue bool) error
}

// A Delivery is one message received from a queue.
type Delivery struct {
	Body          []byte
	ContentType   string
	CorrelationID string
	ReplyTo       string
	RoutingKey    string

	Acknowledger Acknowledger
}

// Ack acknowledges the delivery. A delivery without an acknowledger (for
// example one drained from an auto-ack reply queue) acknowledges trivially.
func (d Delivery) Ack() error {
	if d.Acknowledger == nil {
		return nil
	}
	return d.Acknowledger.Ack()
}

// Reject hands the delivery back to the broker, which requeues or
// dead-letters it according to requeue and its own policy.
func (d Delivery) Reject(requeue bool) error {
	if d.Acknowledger == nil {
		return nil
	}
	return d.Acknowledger.Reject(requeue)
}

// A Publishing is one message to send through an exchange.
type Publishing struct {
	Exchange        string
	RoutingKey      string
	Body            []byte
	ContentType     string
	ContentEncoding string
	CorrelationID   string
	ReplyTo         string

	// Persistent asks the broker to keep the message across a restart.
	Persistent bool
}

// A Transport opens broker connections.
type Transport interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// A Conn is an open broker connection. Close releases every queue the
// connection declared.
type Conn interface {
	// DeclareReplyQueue declares an exclusive, auto-deleting queue bound to
	// exchange under the routing key name.
	DeclareReplyQueue(ctx context.Context, exchange, name string) (ReplyQueue, error)
	Publish(ctx context.Context, msg Publishing) error
	Close() error
}

// A ReplyQueue is a private queue owned by a single call.
type ReplyQueue interface {
	Name() string

	// Drain blocks until the next delivery arrives, timeout elapses
	// (ErrDrainTimeout) or ctx ends.
	Drain(ctx context.Context, timeout time.Duration) (Delivery, error)

	Delete() error
}

// A Consumer streams deliveries from a durable, named queue. The returned
// channel is closed when ctx ends or the underlying connection is lost.
type Consumer interface {
	Consume(ctx context.Context, queue string) (<-chan Delivery, error)
}
