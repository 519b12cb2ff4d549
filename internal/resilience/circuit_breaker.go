// Package resilience guards the primary message store so a database outage
// degrades into fallback-cache writes instead of stalling every request.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// State is the breaker position.
type State int32

const (
	// StateClosed lets writes through and counts consecutive failures.
	StateClosed State = iota
	// StateOpen refuses writes until the cooldown elapses.
	StateOpen
	// StateHalfOpen lets a limited number of probe writes through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned for calls refused while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Options configure a Breaker. Non-positive values fall back to the store
// defaults.
type Options struct {
	// Name tags state change notifications.
	Name string

	// FailureThreshold is the consecutive failure count that opens the breaker.
	FailureThreshold int

	// Cooldown is how long the breaker stays open before probing again.
	Cooldown time.Duration

	// ProbeQuota is how many half-open successes close the breaker.
	ProbeQuota int

	// OnStateChange is invoked on every transition.
	OnStateChange func(name string, from, to State)
}

// StoreDefaults returns the breaker settings used for the primary message
// store.
func StoreDefaults(name string) Options {
	return Options{
		Name:             name,
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		ProbeQuota:       3,
	}
}

// Breaker trips after a run of consecutive failures and recovers through a
// half-open probe phase.
type Breaker struct {
	opts Options

	mu         sync.Mutex
	state      State
	failures   int
	probes     int
	lastChange time.Time
}

// NewBreaker creates a breaker, filling unset options from StoreDefaults.
func NewBreaker(opts Options) *Breaker {
	def := StoreDefaults(opts.Name)
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = def.FailureThreshold
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = def.Cooldown
	}
	if opts.ProbeQuota <= 0 {
		opts.ProbeQuota = def.ProbeQuota
	}

	return &Breaker{
		opts:       opts,
		state:      StateClosed,
		lastChange: time.Now(),
	}
}

// Execute runs fn when the breaker admits the call. Every error from fn
// counts as one failure; a refused call returns ErrCircuitOpen.
func (b *Breaker) Execute(fn func() error) error {
	if !b.admit() {
		return ErrCircuitOpen
	}

	if err := fn(); err != nil {
		b.onFailure()
		return err
	}

	b.onSuccess()
	return nil
}

// State returns the current position, folding in a due cooldown transition.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current()
}

// current must be called with b.mu held.
func (b *Breaker) current() State {
	if b.state == StateOpen && time.Since(b.lastChange) >= b.opts.Cooldown {
		b.transition(StateHalfOpen)
	}
	return b.state
}

func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.current() {
	case StateOpen:
		return false
	case StateHalfOpen:
		return b.probes < b.opts.ProbeQuota
	default:
		return true
	}
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.current() {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.probes++
		if b.probes >= b.opts.ProbeQuota {
			b.transition(StateClosed)
		}
	}
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.current() {
	case StateClosed:
		b.failures++
		if b.failures >= b.opts.FailureThreshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		// Any probe failure reopens immediately.
		b.transition(StateOpen)
	}
}

// transition must be called with b.mu held.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}

	from := b.state
	b.state = to
	b.failures = 0
	b.probes = 0
	b.lastChange = time.Now()

	if b.opts.OnStateChange != nil {
		b.opts.OnStateChange(b.opts.Name, from, to)
	}
}
