package broker

import (
	"context"
	"runtime/debug"

	"emperror.dev/errors"
	"github.com/creachadair/taskgroup"
	"go.uber.org/zap"
)

// pool runs handlers with bounded concurrency.
type pool struct {
	sem    chan struct{}
	tasks  *taskgroup.Group
	logger *zap.Logger
}

func newPool(maxJobs int, logger *zap.Logger) *pool {
	return &pool{
		sem:    make(chan struct{}, maxJobs),
		tasks:  taskgroup.New(nil),
		logger: logger,
	}
}

// submit blocks until a slot is free or ctx ends, then starts fn. A nil
// result means fn has been accepted; it says nothing about fn's outcome.
func (p *pool) submit(ctx context.Context, name string, fn func() error) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.tasks.Go(func() error {
		defer func() { <-p.sem }()
		if err := p.run(fn); err != nil {
			p.logger.Error("Handler failed", zap.String("handler", name), zap.Error(err))
		}
		return nil
	})
	return nil
}

func (p *pool) run(fn func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = errors.Errorf("handler panic: %v\n%s", v, debug.Stack())
		}
	}()
	return fn()
}

// wait blocks until every started handler has returned.
func (p *pool) wait() { p.tasks.Wait() }
