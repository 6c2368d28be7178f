package queue

import "time"

const (
	backoffBase = time.Second
	backoffMax  = 30 * time.Second
)

// brokerBackoff tracks consecutive broker faults.
type brokerBackoff struct {
	base     time.Duration
	max      time.Duration
	failures int
}

func newBrokerBackoff(base, maxDelay time.Duration) *brokerBackoff {
	return &brokerBackoff{base: base, max: maxDelay}
}

// Fail records a fault and returns how long to wait before the next cycle.
func (b *brokerBackoff) Fail() time.Duration {
	b.failures++
	delay := b.base
	for i := 1; i < b.failures; i++ {
		delay *= 2
		if delay >= b.max {
			return b.max
		}
	}
	if delay > b.max {
		return b.max
	}
	return delay
}

// Reset clears the fault counter and returns how many faults preceded it.
func (b *brokerBackoff) Reset() int {
	n := b.failures
	b.failures = 0
	return n
}

// Failures returns the current consecutive fault count.
func (b *brokerBackoff) Failures() int {
	return b.failures
}

// retryDelay is the advisory delay logged for a requeued job.
func retryDelay(retryCount int) time.Duration {
	if retryCount > 16 {
		retryCount = 16
	}
	return time.Duration(1<<uint(retryCount)) * time.Second
}
