package lateral

import "time"

const (
	// DefaultStubQueueCapacity bounds how many mutations a failed peer buffers.
	DefaultStubQueueCapacity = 1000
	// DefaultIdlePeriod is how long the monitor sleeps between repair passes.
	DefaultIdlePeriod = 20 * time.Second

	defaultMaxFailure      = 3
	defaultWaitBeforeRetry = 500 * time.Millisecond
	defaultOpTimeout       = 5 * time.Second
	defaultShutdownWait    = 5 * time.Second
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
