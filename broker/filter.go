package broker

// IsTerminal reports whether r answers a pending call. Only the literal retry
// status is transient; a missing status is terminal.
func IsTerminal(r Response) bool { return r.Status() != StatusRetry }
