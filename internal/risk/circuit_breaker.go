package risk

import (
	"fmt"
	"sync/atomic"
)

// ErrCircuitBreakerOpen means order placement is halted.
var ErrCircuitBreakerOpen = fmt.Errorf("circuit breaker open")

// CircuitBreaker halts new order placement after too many consecutive
// collaborator failures. Hot-path checks are atomic; cancellation of
// existing orders is never gated, only new placements.
//
// A threshold <= 0 disables the consecutive-error trip; manual Halt still works.
type CircuitBreaker struct {
	halted               atomic.Bool
	consecutiveErrors    atomic.Int64
	maxConsecutiveErrors atomic.Int64
}

func NewCircuitBreaker(maxConsecutiveErrors int64) *CircuitBreaker {
	cb := &CircuitBreaker{}
	cb.maxConsecutiveErrors.Store(maxConsecutiveErrors)
	return cb
}

// AllowPlacement reports whether new orders may be placed.
func (cb *CircuitBreaker) AllowPlacement() error {
	if cb == nil {
		return nil
	}
	if cb.halted.Load() {
		return ErrCircuitBreakerOpen
	}
	max := cb.maxConsecutiveErrors.Load()
	if max > 0 && cb.consecutiveErrors.Load() >= max {
		cb.halted.Store(true)
		return ErrCircuitBreakerOpen
	}
	return nil
}

// OnSuccess resets the consecutive error counter.
func (cb *CircuitBreaker) OnSuccess() {
	if cb == nil {
		return
	}
	cb.consecutiveErrors.Store(0)
}

// OnError counts one failed placement/cancel.
func (cb *CircuitBreaker) OnError() {
	if cb == nil {
		return
	}
	cb.consecutiveErrors.Add(1)
}

// Halt trips the breaker manually (operator intervention).
func (cb *CircuitBreaker) Halt() {
	if cb == nil {
		return
	}
	cb.halted.Store(true)
}

// Resume clears the halt and the error counter.
func (cb *CircuitBreaker) Resume() {
	if cb == nil {
		return
	}
	cb.halted.Store(false)
	cb.consecutiveErrors.Store(0)
}

// Open reports whether the breaker is currently tripped.
func (cb *CircuitBreaker) Open() bool {
	return cb != nil && cb.halted.Load()
}
