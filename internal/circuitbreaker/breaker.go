// Package circuitbreaker guards calls to the statistics proxy with a
// per-endpoint closed → open → half-open breaker.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrOpen is returned by Call when the circuit for an endpoint is open.
var ErrOpen = errors.New("circuit open")

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Requests flow through
	StateOpen                  // Requests are rejected
	StateHalfOpen              // One probe request allowed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "logicnet",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Upstream circuit breaker transitions by endpoint, from-state and to-state.",
}, []string{"endpoint", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(transitions)
}

type circuit struct {
	state    State
	failures int
	openedAt time.Time
}

// Breaker tracks consecutive failures per endpoint and trips open when they
// reach the threshold. After cooldown one probe is let through.
type Breaker struct {
	mu        sync.Mutex
	circuits  map[string]*circuit
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

// New creates a breaker that opens after threshold consecutive failures and
// probes again after cooldown.
func New(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		circuits:  make(map[string]*circuit),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a request to endpoint may proceed.
func (b *Breaker) Allow(endpoint string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[endpoint]
	if !ok {
		return true
	}

	switch c.state {
	case StateOpen:
		if b.now().Sub(c.openedAt) >= b.cooldown {
			b.move(endpoint, c, StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		return false
	default:
		return true
	}
}

// Success resets the failure count and closes a half-open circuit.
func (b *Breaker) Success(endpoint string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[endpoint]
	if !ok {
		return
	}
	c.failures = 0
	if c.state != StateClosed {
		b.move(endpoint, c, StateClosed)
	}
}

// Failure counts a failed request and opens the circuit at the threshold.
// A failed half-open probe reopens immediately.
func (b *Breaker) Failure(endpoint string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[endpoint]
	if !ok {
		c = &circuit{}
		b.circuits[endpoint] = c
	}
	c.failures++

	switch {
	case c.state == StateHalfOpen:
		c.openedAt = b.now()
		b.move(endpoint, c, StateOpen)
	case c.state == StateClosed && c.failures >= b.threshold:
		c.openedAt = b.now()
		b.move(endpoint, c, StateOpen)
	}
}

// State returns the state of endpoint's circuit.
func (b *Breaker) State(endpoint string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.circuits[endpoint]; ok {
		return c.state
	}
	return StateClosed
}

// Call runs fn if the circuit allows it and records the outcome. countFailure
// decides whether an error should count against the endpoint; nil counts
// every error.
func (b *Breaker) Call(endpoint string, fn func() error, countFailure func(error) bool) error {
	if !b.Allow(endpoint) {
		return ErrOpen
	}
	err := fn()
	if err == nil {
		b.Success(endpoint)
		return nil
	}
	if countFailure == nil || countFailure(err) {
		b.Failure(endpoint)
	} else {
		b.Success(endpoint)
	}
	return err
}

// caller holds b.mu
func (b *Breaker) move(endpoint string, c *circuit, to State) {
	if c.state == to {
		return
	}
	transitions.WithLabelValues(endpoint, c.state.String(), to.String()).Inc()
	c.state = to
}
