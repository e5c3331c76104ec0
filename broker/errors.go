package broker

import (
	"emperror.dev/errors"
)

var (
	// ErrTimeout is returned by Publisher.Call when no terminal response
	// arrived within the call timeout.
	ErrTimeout = errors.NewPlain("call timed out")

	// ErrDrainTimeout is returned by ReplyQueue.Drain when nothing arrived in
	// the allotted time.
	ErrDrainTimeout = errors.NewPlain("drain timed out")

	ErrArgsAndKwargs      = errors.NewPlain("provide only args or only kwargs")
	ErrMissingCredentials = errors.NewPlain("missing broker credentials")
	ErrMissingExchange    = errors.NewPlain("missing exchange name")
	ErrMissingRoutingKey  = errors.NewPlain("missing routing key")
	ErrMissingEnvelope    = errors.NewPlain("missing envelope builder")

	ErrHandlerNotFound = errors.NewPlain("no handler registered")
	ErrInvalidHandler  = errors.NewPlain("invalid handler")
	ErrRegistrySealed  = errors.NewPlain("registry is sealed")

	ErrUnknownSerializer = errors.NewPlain("unknown serializer")
	ErrConsumerClosed    = errors.NewPlain("consumer channel closed")
)

// DecodeError reports a message body that the configured codec could not
// parse.
type DecodeError struct {
	Serializer string
	Err        error
}

func (e *DecodeError) Error() string {
	return "decode " + e.Serializer + " message: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }
