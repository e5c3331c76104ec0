package broker

import (
	"fmt"
)

// An Envelope is a decoded message body. A body that decodes to anything other
// than a mapping yields a nil Envelope, which carries no action.
type Envelope map[string]any

// Action reports the action name, falling back to the method field. Only a
// non-empty string counts.
func (e Envelope) Action() (string, bool) {
	for _, key := range []string{fieldAction, fieldMethod} {
		if s, ok := e[key].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

// Task returns the task payload.
func (e Envelope) Task() any { return e[fieldTask] }

// TaskID extracts the identifier of the task payload, if it has one.
func (e Envelope) TaskID() string {
	task, ok := e.Task().(map[string]any)
	if !ok {
		return ""
	}
	switch id := task[fieldID].(type) {
	case nil:
		return ""
	case string:
		return id
	default:
		return fmt.Sprint(id)
	}
}

// A Response is the decoded body of a reply.
type Response map[string]any

// Status returns the status field, or "" when it is absent or not a string.
func (r Response) Status() string {
	s, _ := r[fieldStatus].(string)
	return s
}

// Params carries either positional or keyword arguments of a call, never both.
type Params struct {
	args   []any
	kwargs map[string]any
}

// NewParams validates that at most one of args and kwargs is non-empty.
func NewParams(args []any, kwargs map[string]any) (Params, error) {
	if len(args) > 0 && len(kwargs) > 0 {
		return Params{}, ErrArgsAndKwargs
	}
	return Params{args: args, kwargs: kwargs}, nil
}

// Args builds positional params.
func Args(args ...any) Params { return Params{args: args} }

// Kwargs builds keyword params.
func Kwargs(kwargs map[string]any) Params { return Params{kwargs: kwargs} }

// Value returns the positional arguments, else the keyword arguments, else an
// empty mapping.
func (p Params) Value() any {
	switch {
	case len(p.args) > 0:
		return p.args
	case len(p.kwargs) > 0:
		return p.kwargs
	}
	return map[string]any{}
}

func (p Params) String() string {
	if len(p.args) > 0 {
		return fmt.Sprintf("args=%v", p.args)
	}
	return fmt.Sprintf("kwargs=%v", p.kwargs)
}

// An EnvelopeFunc builds the request body for one remote endpoint.
type EnvelopeFunc func(id, method string, params Params) map[string]any

// JSONRPCEnvelope wraps the method in a JSON-RPC style request addressed to a
// single fixed remote task.
func JSONRPCEnvelope(task string) EnvelopeFunc {
	return func(id, method string, params Params) map[string]any {
		return map[string]any{
			fieldID:   id,
			fieldTask: task,
			fieldKwargs: map[string]any{
				fieldID:      id,
				fieldJSONRPC: jsonRPCVersion,
				fieldMethod:  method,
				fieldParams:  params.Value(),
			},
		}
	}
}

// TaskEnvelope addresses the method directly as the remote task name.
func TaskEnvelope(id, method string, params Params) map[string]any {
	return map[string]any{
		fieldID:   id,
		fieldTask: method,
		fieldKwargs: map[string]any{
			fieldID:      id,
			fieldJSONRPC: jsonRPCVersion,
			fieldParams:  params.Value(),
		},
	}
}
