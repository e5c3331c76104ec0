// Package endpointtasks holds the actions the gateway routes into the
// "tentacle.endpointtasks" namespace. They maintain the periodic task store
// and trigger tasks on the remote services.
package endpointtasks

import (
	"context"
	"time"

	"emperror.dev/errors"
	"go.uber.org/zap"

	"github.com/mrjvadi/tentacle/broker"
	"github.com/mrjvadi/tentacle/schedule"
)

const Namespace = "tentacle.endpointtasks"

var (
	ErrBadPayload   = errors.NewPlain("payload is not a task mapping")
	ErrTaskDisabled = errors.NewPlain("task is disabled")
	ErrTaskExpired  = errors.NewPlain("task expired")
)

// A Dispatcher publishes a method call to the service behind exchange.
type Dispatcher interface {
	Dispatch(ctx context.Context, exchange, method string, params broker.Params) (broker.Response, error)
}

// Handlers implements the endpoint actions over a Store.
type Handlers struct {
	store      *Store
	dispatcher Dispatcher
	now        func() time.Time
}

func NewHandlers(store *Store, dispatcher Dispatcher) *Handlers {
	return &Handlers{store: store, dispatcher: dispatcher, now: time.Now}
}

// Register adds create, update, delete and run to reg.
func (h *Handlers) Register(reg *broker.Registry) error {
	for action, fn := range map[string]broker.HandlerFunc{
		"create": h.Create,
		"update": h.Update,
		"delete": h.Delete,
		"run":    h.Run,
	} {
		if err := reg.Handle(action, fn); err != nil {
			return err
		}
	}
	return nil
}

// Register adds the endpoint actions over store to reg.
func Register(reg *broker.Registry, store *Store, dispatcher Dispatcher) error {
	return NewHandlers(store, dispatcher).Register(reg)
}

// TaskName is the payload of delete and run.
type TaskName struct {
	Name string `json:"name"`
}

func taskFromPayload(c *broker.Context) (*schedule.Task, error) {
	m, ok := c.Payload().(map[string]any)
	if !ok {
		return nil, ErrBadPayload
	}
	return schedule.TaskFromMap(m)
}

func nameFromPayload(c *broker.Context) (string, error) {
	var p TaskName
	if err := c.Bind(&p); err != nil {
		return "", errors.WrapIf(err, "bind payload")
	}
	if p.Name == "" {
		return "", schedule.ErrMissingName
	}
	return p.Name, nil
}

func (h *Handlers) Create(c *broker.Context) error {
	t, err := taskFromPayload(c)
	if err != nil {
		return err
	}
	now := h.now()
	t.DateChanged = &now
	if err := h.store.Create(t); err != nil {
		return err
	}
	c.Logger().Info("Task created", zap.Stringer("task", t))
	return nil
}

func (h *Handlers) Update(c *broker.Context) error {
	t, err := taskFromPayload(c)
	if err != nil {
		return err
	}
	now := h.now()
	t.DateChanged = &now
	if err := h.store.Update(t); err != nil {
		return err
	}
	c.Logger().Info("Task updated", zap.Stringer("task", t))
	return nil
}

func (h *Handlers) Delete(c *broker.Context) error {
	name, err := nameFromPayload(c)
	if err != nil {
		return err
	}
	if err := h.store.Delete(name); err != nil {
		return err
	}
	c.Logger().Info("Task deleted", zap.String("name", name))
	return nil
}

// Run calls the stored task's method on the service bound to its exchange
// and records the run. Disabled and expired tasks are refused.
func (h *Handlers) Run(c *broker.Context) error {
	name, err := nameFromPayload(c)
	if err != nil {
		return err
	}
	t, err := h.store.Get(name)
	if err != nil {
		return err
	}
	now := h.now()
	switch {
	case !t.Enabled:
		return errors.WithDetails(ErrTaskDisabled, "name", name)
	case t.Expired(now):
		return errors.WithDetails(ErrTaskExpired, "name", name)
	}
	params, err := t.Params()
	if err != nil {
		return err
	}
	resp, err := h.dispatcher.Dispatch(c.Ctx(), t.Exchange, t.Task, params)
	if err != nil {
		return errors.WrapIfWithDetails(err, "dispatch", "name", name)
	}
	if err := h.store.RecordRun(name, now); err != nil {
		return err
	}
	c.Logger().Info("Task run", zap.String("name", name), zap.Any("response", resp))
	return nil
}
