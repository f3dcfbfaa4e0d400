package executors

import (
	"sync"
	"time"

	"github.com/rendis/dataflow/pkg/schema"
)

// CircuitState represents the state of a host circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, rejecting calls
	CircuitHalfOpen                     // Testing recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures per-host circuit breaking for HTTP sources.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before a probe is allowed.
	Cooldown time.Duration
	// HalfOpenMax is the number of probe requests allowed in half-open state.
	HalfOpenMax int
	// OnStateChange, when set, observes every transition.
	OnStateChange func(host string, from, to CircuitState)
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

type hostBreaker struct {
	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	lastFailure         time.Time
	probes              int
}

// HostBreakers tracks one circuit per remote host. A host that keeps failing
// is rejected fast until its cooldown passes. Breakers never retry anything.
type HostBreakers struct {
	mu       sync.Mutex
	breakers map[string]*hostBreaker
	config   BreakerConfig
}

// NewHostBreakers creates a breaker set. Zero config fields take defaults.
func NewHostBreakers(config BreakerConfig) *HostBreakers {
	def := DefaultBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = def.Cooldown
	}
	if config.HalfOpenMax <= 0 {
		config.HalfOpenMax = def.HalfOpenMax
	}
	return &HostBreakers{
		breakers: make(map[string]*hostBreaker),
		config:   config,
	}
}

// Allow reports whether a request to host may proceed. It returns a
// CIRCUIT_OPEN error while the circuit rejects calls.
func (h *HostBreakers) Allow(host string) error {
	b := h.get(host)
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		if time.Since(b.lastFailure) < h.config.Cooldown {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"circuit open for host %q after %d consecutive failures", host, b.consecutiveFailures).
				WithDetails(map[string]any{
					"host":                 host,
					"consecutive_failures": b.consecutiveFailures,
					"cooldown_remaining":   (h.config.Cooldown - time.Since(b.lastFailure)).String(),
				})
		}
		h.transition(host, b, CircuitHalfOpen)
		b.probes = 1
		return nil

	case CircuitHalfOpen:
		if b.probes >= h.config.HalfOpenMax {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"circuit half-open for host %q: probe already in flight", host)
		}
		b.probes++
	}
	return nil
}

// RecordSuccess closes the circuit for host.
func (h *HostBreakers) RecordSuccess(host string) {
	b := h.get(host)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	b.probes = 0
	h.transition(host, b, CircuitClosed)
}

// RecordFailure counts a failure and returns the resulting state.
func (h *HostBreakers) RecordFailure(host string) CircuitState {
	b := h.get(host)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	b.lastFailure = time.Now()

	if b.state == CircuitHalfOpen || b.consecutiveFailures >= h.config.FailureThreshold {
		h.transition(host, b, CircuitOpen)
	}
	return b.state
}

// State returns the current state for host, moving an expired open circuit
// to half-open.
func (h *HostBreakers) State(host string) CircuitState {
	b := h.get(host)
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == CircuitOpen && time.Since(b.lastFailure) >= h.config.Cooldown {
		h.transition(host, b, CircuitHalfOpen)
		b.probes = 0
	}
	return b.state
}

// Stats returns diagnostic information about a host's breaker.
func (h *HostBreakers) Stats(host string) map[string]any {
	b := h.get(host)
	b.mu.Lock()
	defer b.mu.Unlock()

	return map[string]any{
		"host":                 host,
		"state":                b.state.String(),
		"consecutive_failures": b.consecutiveFailures,
		"failure_threshold":    h.config.FailureThreshold,
		"cooldown":             h.config.Cooldown.String(),
	}
}

// transition must be called with b.mu held.
func (h *HostBreakers) transition(host string, b *hostBreaker, to CircuitState) {
	from := b.state
	b.state = to
	if from != to && h.config.OnStateChange != nil {
		h.config.OnStateChange(host, from, to)
	}
}

func (h *HostBreakers) get(host string) *hostBreaker {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.breakers[host]
	if !ok {
		b = &hostBreaker{state: CircuitClosed}
		h.breakers[host] = b
	}
	return b
}
