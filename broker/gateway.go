package broker

import (
	"context"

	"emperror.dev/errors"
	"go.uber.org/zap"
)

// A Resolver finds the handler for an action name.
type Resolver interface {
	Resolve(action string) (HandlerFunc, error)
	Names() []string
}

// A Gateway consumes one queue and routes each message to the handler named by
// its action. A message is acknowledged only after its handler has been
// resolved and submitted to the worker pool; handler completion is not
// awaited.
type Gateway struct {
	consumer Consumer
	queue    string
	resolver Resolver
	decoder  *Decoder
	pool     *pool
	requeue  bool
	logger   *zap.Logger
}

// NewGateway builds a gateway reading queue through consumer.
func NewGateway(consumer Consumer, queue string, resolver Resolver, opts ...Option) (*Gateway, error) {
	s := applyOptions(opts)
	dec, err := NewDecoder(s.serializer)
	if err != nil {
		return nil, err
	}
	logger := s.logger.With(zap.String("queue", queue))
	return &Gateway{
		consumer: consumer,
		queue:    queue,
		resolver: resolver,
		decoder:  dec,
		pool:     newPool(s.maxJobs, logger),
		requeue:  s.rejectRequeue,
		logger:   logger,
	}, nil
}

// Run consumes until ctx ends, then waits for running handlers. It returns
// early with an error on an unresolvable action or a lost consumer. On every
// return the consumer is stopped before handlers are awaited, so deliveries it
// still holds unsettled go back to the broker.
func (g *Gateway) Run(ctx context.Context) error {
	if s, ok := g.resolver.(interface{ Seal() }); ok {
		s.Seal()
	}
	consumeCtx, stopConsumer := context.WithCancel(ctx)
	deliveries, err := g.consumer.Consume(consumeCtx, g.queue)
	if err != nil {
		stopConsumer()
		return errors.WrapIf(err, "consume")
	}
	defer g.pool.wait()
	defer stopConsumer()

	g.logger.Info("Gateway listening", zap.Strings("handlers", g.resolver.Names()))
	for {
		select {
		case <-ctx.Done():
			g.logger.Info("Gateway stopping")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrConsumerClosed
			}
			if err := g.Handle(ctx, d); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				var derr *DecodeError
				if !errors.As(err, &derr) {
					g.logger.Error("Routing failed", zap.Error(err))
					return err
				}
				g.logger.Error("Undecodable message", zap.Error(err))
				if err := d.Reject(false); err != nil {
					g.logger.Warn("Reject failed", zap.Error(err))
				}
			}
		}
	}
}

// Handle processes a single delivery. It returns a *DecodeError without
// settling the delivery, rejects messages without an action, and reports
// ErrHandlerNotFound for unknown actions, again without settling.
func (g *Gateway) Handle(ctx context.Context, d Delivery) error {
	env, err := g.decoder.Decode(d.Body)
	if err != nil {
		return err
	}
	action, ok := env.Action()
	if !ok {
		g.logger.Info("Received msg with no action. Rejecting it.")
		return errors.WrapIf(d.Reject(g.requeue), "reject")
	}

	h, err := g.resolver.Resolve(action)
	if err != nil {
		return err
	}
	c := NewContext(ctx, action, env.Task(), g.logger)
	if err := g.pool.submit(ctx, action, func() error { return h(c) }); err != nil {
		return errors.WithDetails(errors.Wrap(err, "submit"), "action", action)
	}
	if err := d.Ack(); err != nil {
		return errors.WithDetails(errors.Wrap(err, "ack"), "action", action)
	}

	g.logger.Info("Routed message", zap.String("action", action), zap.String("task_id", c.TaskID()))
	if ce := g.logger.Check(zap.DebugLevel, "Active handlers"); ce != nil {
		ce.Write(zap.Strings("handlers", g.resolver.Names()))
	}
	return nil
}
