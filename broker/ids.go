package broker

import (
	"os"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

var (
	seq       atomic.Uint64
	tagPrefix = func() string {
		h, _ := os.Hostname()
		if h == "" {
			h = "h"
		}
		return "tentacle-" + h + "-" + strconv.Itoa(os.Getpid()) + "-"
	}()
)

func newCorrelationID() string { return uuid.NewString() }

// ConsumerTag returns a process-unique consumer tag.
func ConsumerTag() string {
	n := seq.Add(1)
	return tagPrefix + strconv.FormatUint(n, 36)
}
