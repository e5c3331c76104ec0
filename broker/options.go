package broker

import (
	"time"

	"go.uber.org/zap"
)

const (
	defaultMaxJobs = 10
	defaultTimeout = 5 * time.Second
)

// settings are shared by the gateway and the publisher; each reads the fields
// it needs.
type settings struct {
	logger        *zap.Logger
	serializer    string
	maxJobs       int
	timeout       time.Duration
	rejectRequeue bool
	newID         func() string
}

func defaultSettings() settings {
	return settings{
		logger:     zap.NewNop(),
		serializer: "json",
		maxJobs:    defaultMaxJobs,
		timeout:    defaultTimeout,
		newID:      newCorrelationID,
	}
}

func applyOptions(opts []Option) settings {
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

type Option func(*settings)

func WithLogger(l *zap.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSerializer selects the codec, "json" or "msgpack".
func WithSerializer(name string) Option {
	return func(s *settings) {
		if name != "" {
			s.serializer = name
		}
	}
}

// WithMaxJobs bounds the number of handlers running at once.
func WithMaxJobs(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxJobs = n
		}
	}
}

// WithTimeout sets the wall-clock budget of a call.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithRejectRequeue asks the broker to requeue rejected messages instead of
// dead-lettering them.
func WithRejectRequeue(requeue bool) Option {
	return func(s *settings) {
		s.rejectRequeue = requeue
	}
}

// WithIDGenerator replaces the correlation id source.
func WithIDGenerator(f func() string) Option {
	return func(s *settings) {
		if f != nil {
			s.newID = f
		}
	}
}
