package amqp

import (
	"strings"
	"sync/atomic"
	"time"
)

// Circuit breaker states for publishing.
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	// maxFailures consecutive publish failures open the circuit.
	maxFailures = 5
	// openTimeout is how long an open circuit rejects publishes before a
	// trial publish is allowed.
	openTimeout = 30 * time.Second

	maxBackoff = 30 * time.Second
)

type breaker struct {
	state        int32
	failureCount int64
	lastFailure  atomic.Int64 // unix nanos
}

func (b *breaker) isCircuitOpen() bool {
	if atomic.LoadInt32(&b.state) != StateOpen {
		return false
	}
	if time.Since(time.Unix(0, b.lastFailure.Load())) > openTimeout {
		atomic.CompareAndSwapInt32(&b.state, StateOpen, StateHalfOpen)
		return false
	}
	return true
}

func (b *breaker) recordSuccess() {
	atomic.StoreInt64(&b.failureCount, 0)
	atomic.StoreInt32(&b.state, StateClosed)
}

func (b *breaker) recordFailure() {
	b.lastFailure.Store(time.Now().UnixNano())
	n := atomic.AddInt64(&b.failureCount, 1)
	if n >= maxFailures || atomic.LoadInt32(&b.state) == StateHalfOpen {
		atomic.StoreInt32(&b.state, StateOpen)
	}
}

// exponentialBackoff returns 1s, 2s, 4s... capped at 30s.
func exponentialBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// isConnectionError reports whether err looks like a dropped or refused
// broker connection, which is worth a reconnect.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection", "eof", "broken pipe", "channel/connection is not open"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
