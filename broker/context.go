package broker

import (
	"context"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
)

// Context carries a routed task and helpers for its handler.
type Context struct {
	ctx     context.Context
	action  string
	taskID  string
	payload any
	logger  *zap.Logger
}

// NewContext builds a handler context. The gateway builds these itself; the
// constructor exists for invoking handlers directly.
func NewContext(ctx context.Context, action string, payload any, logger *zap.Logger) *Context {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Context{ctx: ctx, action: action, payload: payload, logger: logger}
	c.taskID = Envelope{fieldTask: payload}.TaskID()
	return c
}

// Bind decodes the payload into v, matching fields by their json tags.
func (c *Context) Bind(v any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           v,
	})
	if err != nil {
		return err
	}
	return dec.Decode(c.payload)
}

// Ctx returns the gateway context.
func (c *Context) Ctx() context.Context { return c.ctx }

// Action returns the action name the task was routed by.
func (c *Context) Action() string { return c.action }

// TaskID returns the payload identifier, or "".
func (c *Context) TaskID() string { return c.taskID }

// Payload returns the raw decoded payload.
func (c *Context) Payload() any { return c.payload }

// Logger returns a logger annotated with the action and task id.
func (c *Context) Logger() *zap.Logger {
	return c.logger.With(zap.String("action", c.action), zap.String("task_id", c.taskID))
}
