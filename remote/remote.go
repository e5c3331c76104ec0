// Package remote knows the two services tentacle talks to, Kraken and
// Nautilus, and routes calls to them by exchange name.
package remote

import (
	"context"
	"sort"
	"sync"

	"emperror.dev/errors"
	"go.uber.org/zap"

	"github.com/mrjvadi/tentacle/broker"
)

const (
	Kraken   = "kraken"
	Nautilus = "nautilus"

	// KrakenTask is the celery task Kraken runs for every JSON-RPC call.
	KrakenTask = "kraken.tasks.RPCTask"
)

var ErrUnknownExchange = errors.NewPlain("no publisher for exchange")

// KrakenTarget returns Kraken's default target: exchange and routing key
// "kraken", fire-and-forget.
func KrakenTarget(creds broker.Credentials) broker.Target {
	return broker.Target{Name: "Kraken", Exchange: Kraken, RoutingKey: Kraken, Credentials: creds}
}

// NautilusTarget returns Nautilus's default target: exchange and routing key
// "nautilus", fire-and-forget.
func NautilusTarget(creds broker.Credentials) broker.Target {
	return broker.Target{Name: "Nautilus", Exchange: Nautilus, RoutingKey: Nautilus, Credentials: creds}
}

// NewKraken wraps every method in a call to KrakenTask.
func NewKraken(target broker.Target, tr broker.Transport, opts ...broker.Option) (*broker.Publisher, error) {
	return broker.NewPublisher(target, tr, broker.JSONRPCEnvelope(KrakenTask), opts...)
}

// NewNautilus sends every method as its own task.
func NewNautilus(target broker.Target, tr broker.Transport, opts ...broker.Option) (*broker.Publisher, error) {
	return broker.NewPublisher(target, tr, broker.TaskEnvelope, opts...)
}

// Hit logs the call and issues it.
func Hit(ctx context.Context, log *zap.Logger, p *broker.Publisher, method string, params broker.Params) (broker.Response, error) {
	log.Info("Hitting "+p.Target().Name,
		zap.String("method", method),
		zap.Stringer("params", params),
	)
	return p.Call(ctx, method, params)
}

// Router dispatches calls to the publisher registered for an exchange.
type Router struct {
	logger *zap.Logger

	mu   sync.RWMutex
	pubs map[string]*broker.Publisher
}

func NewRouter(logger *zap.Logger, pubs ...*broker.Publisher) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{logger: logger, pubs: make(map[string]*broker.Publisher)}
	for _, p := range pubs {
		r.Add(p)
	}
	return r
}

// Add registers p under its target's exchange, replacing any earlier one.
func (r *Router) Add(p *broker.Publisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pubs[p.Target().Exchange] = p
}

func (r *Router) Publisher(exchange string) (*broker.Publisher, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pubs[exchange]
	return p, ok
}

// Exchanges lists the routed exchanges, sorted.
func (r *Router) Exchanges() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.pubs))
	for name := range r.pubs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Router) Dispatch(ctx context.Context, exchange, method string, params broker.Params) (broker.Response, error) {
	p, ok := r.Publisher(exchange)
	if !ok {
		return nil, errors.WithDetails(ErrUnknownExchange, "exchange", exchange, "known", r.Exchanges())
	}
	return Hit(ctx, r.logger, p, method, params)
}
