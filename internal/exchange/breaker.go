package exchange

import (
	"context"
	"sync"
	"time"
)

// BreakerState is the state of a venue circuit breaker
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

// String returns the string representation of the breaker state
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig holds configuration for a circuit breaker
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // half-open successes before closing
	Timeout          time.Duration // time open before a trial call
}

// Breaker stops calling a venue after repeated retryable failures.
// Non-retryable errors (bad symbol, insufficient balance) do not count.
type Breaker struct {
	name   string
	config BreakerConfig
	now    func() time.Time

	mu          sync.Mutex
	state       BreakerState
	failures    int
	successes   int
	nextAttempt time.Time

	onStateChange func(name string, from, to BreakerState)
}

// NewBreaker creates a breaker with defaults for zero fields
func NewBreaker(name string, config BreakerConfig) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &Breaker{name: name, config: config, now: time.Now}
}

// OnStateChange registers a callback invoked synchronously on every change.
// The callback must not call back into the breaker.
func (b *Breaker) OnStateChange(fn func(name string, from, to BreakerState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

// Do runs fn unless the breaker is open
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.allow() {
		return ErrCircuitOpen.WithDetails(b.name)
	}
	err := fn(ctx)
	b.record(err)
	return err
}

// State returns the current state
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset closes the breaker
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.changeState(BreakerClosed)
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != BreakerOpen {
		return true
	}
	if b.now().Before(b.nextAttempt) {
		return false
	}
	b.changeState(BreakerHalfOpen)
	return true
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		if b.state == BreakerHalfOpen {
			b.successes++
			if b.successes >= b.config.SuccessThreshold {
				b.changeState(BreakerClosed)
			}
		}
		return
	}
	if !IsRetryable(err) {
		return
	}

	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= b.config.FailureThreshold {
		b.changeState(BreakerOpen)
	}
}

// changeState must be called with mu held
func (b *Breaker) changeState(to BreakerState) {
	from := b.state
	b.state = to
	b.successes = 0
	switch to {
	case BreakerOpen:
		b.nextAttempt = b.now().Add(b.config.Timeout)
	case BreakerClosed:
		b.failures = 0
	}
	if b.onStateChange != nil && from != to {
		b.onStateChange(b.name, from, to)
	}
}
