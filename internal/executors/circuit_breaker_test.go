package executors

import (
	"testing"
	"time"

	"github.com/rendis/dataflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_StartsClosedAllowsRequests(t *testing.T) {
	hb := NewHostBreakers(DefaultBreakerConfig())
	err := hb.Allow("api.example.com")
	assert.NoError(t, err)
	assert.Equal(t, CircuitClosed, hb.State("api.example.com"))
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cfg := BreakerConfig{
		FailureThreshold: 3,
		Cooldown:         10 * time.Second,
		HalfOpenMax:      1,
	}
	hb := NewHostBreakers(cfg)

	// Record 2 failures — still closed.
	hb.RecordFailure("flaky.example.com")
	hb.RecordFailure("flaky.example.com")
	assert.Equal(t, CircuitClosed, hb.State("flaky.example.com"))

	// 3rd failure — opens the circuit.
	state := hb.RecordFailure("flaky.example.com")
	assert.Equal(t, CircuitOpen, state)
	assert.Equal(t, CircuitOpen, hb.State("flaky.example.com"))

	// Requests should now be rejected.
	err := hb.Allow("flaky.example.com")
	require.Error(t, err)
	var dfErr *schema.DataflowError
	require.ErrorAs(t, err, &dfErr)
	assert.Equal(t, schema.ErrCodeCircuitOpen, dfErr.Code)
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cfg := BreakerConfig{
		FailureThreshold: 3,
		Cooldown:         10 * time.Second,
		HalfOpenMax:      1,
	}
	hb := NewHostBreakers(cfg)

	hb.RecordFailure("recovering.example.com")
	hb.RecordFailure("recovering.example.com")
	// 2 failures, then success resets.
	hb.RecordSuccess("recovering.example.com")
	assert.Equal(t, CircuitClosed, hb.State("recovering.example.com"))

	// Need 3 more failures to open.
	hb.RecordFailure("recovering.example.com")
	hb.RecordFailure("recovering.example.com")
	assert.Equal(t, CircuitClosed, hb.State("recovering.example.com"))

	hb.RecordFailure("recovering.example.com")
	assert.Equal(t, CircuitOpen, hb.State("recovering.example.com"))
}

func TestCircuitBreaker_HalfOpenAfterCooldown(t *testing.T) {
	cfg := BreakerConfig{
		FailureThreshold: 2,
		Cooldown:         50 * time.Millisecond,
		HalfOpenMax:      1,
	}
	hb := NewHostBreakers(cfg)

	hb.RecordFailure("cooldown.example.com")
	hb.RecordFailure("cooldown.example.com")
	assert.Equal(t, CircuitOpen, hb.State("cooldown.example.com"))

	// Wait for cooldown.
	time.Sleep(60 * time.Millisecond)

	// Should transition to half-open.
	assert.Equal(t, CircuitHalfOpen, hb.State("cooldown.example.com"))

	// Allow one test request.
	err := hb.Allow("cooldown.example.com")
	assert.NoError(t, err)
}

func TestCircuitBreaker_HalfOpenToClosedOnSuccess(t *testing.T) {
	cfg := BreakerConfig{
		FailureThreshold: 2,
		Cooldown:         50 * time.Millisecond,
		HalfOpenMax:      1,
	}
	hb := NewHostBreakers(cfg)

	// Open the circuit.
	hb.RecordFailure("probe-ok.example.com")
	hb.RecordFailure("probe-ok.example.com")
	assert.Equal(t, CircuitOpen, hb.State("probe-ok.example.com"))

	// Wait for cooldown → half-open.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, CircuitHalfOpen, hb.State("probe-ok.example.com"))

	// Allow request and record success.
	err := hb.Allow("probe-ok.example.com")
	assert.NoError(t, err)
	hb.RecordSuccess("probe-ok.example.com")

	// Should close.
	assert.Equal(t, CircuitClosed, hb.State("probe-ok.example.com"))
}

func TestCircuitBreaker_HalfOpenToOpenOnFailure(t *testing.T) {
	cfg := BreakerConfig{
		FailureThreshold: 2,
		Cooldown:         50 * time.Millisecond,
		HalfOpenMax:      1,
	}
	hb := NewHostBreakers(cfg)

	// Open the circuit.
	hb.RecordFailure("probe-fail.example.com")
	hb.RecordFailure("probe-fail.example.com")

	// Wait for cooldown → half-open.
	time.Sleep(60 * time.Millisecond)
	err := hb.Allow("probe-fail.example.com")
	assert.NoError(t, err)

	// Failure in half-open reopens.
	state := hb.RecordFailure("probe-fail.example.com")
	assert.Equal(t, CircuitOpen, state)
}

func TestCircuitBreaker_HalfOpenMaxRequests(t *testing.T) {
	cfg := BreakerConfig{
		FailureThreshold: 2,
		Cooldown:         50 * time.Millisecond,
		HalfOpenMax:      1,
	}
	hb := NewHostBreakers(cfg)

	hb.RecordFailure("probe-max.example.com")
	hb.RecordFailure("probe-max.example.com")

	time.Sleep(60 * time.Millisecond)

	// First request in half-open is allowed.
	err := hb.Allow("probe-max.example.com")
	assert.NoError(t, err)

	// Second request in half-open is rejected (max reached).
	err = hb.Allow("probe-max.example.com")
	assert.Error(t, err)
}

func TestCircuitBreaker_PerHostIsolation(t *testing.T) {
	cfg := BreakerConfig{
		FailureThreshold: 2,
		Cooldown:         10 * time.Second,
		HalfOpenMax:      1,
	}
	hb := NewHostBreakers(cfg)

	// Open circuit for one host.
	hb.RecordFailure("down.example.com")
	hb.RecordFailure("down.example.com")
	assert.Equal(t, CircuitOpen, hb.State("down.example.com"))

	// Another host stays closed.
	assert.Equal(t, CircuitClosed, hb.State("up.example.com"))
	err := hb.Allow("up.example.com")
	assert.NoError(t, err)
}

func TestCircuitBreaker_GetStats(t *testing.T) {
	hb := NewHostBreakers(DefaultBreakerConfig())
	hb.RecordFailure("stats.example.com")
	hb.RecordFailure("stats.example.com")

	stats := hb.Stats("stats.example.com")
	assert.Equal(t, "stats.example.com", stats["host"])
	assert.Equal(t, "closed", stats["state"])
	assert.Equal(t, 2, stats["consecutive_failures"])
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half_open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(99).String())
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var transitions []string
	hb := NewHostBreakers(BreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Hour,
		OnStateChange: func(host string, from, to CircuitState) {
			transitions = append(transitions, host+":"+from.String()+"->"+to.String())
		},
	})

	hb.RecordFailure("h")
	hb.RecordSuccess("h")

	assert.Equal(t, []string{"h:closed->open", "h:open->closed"}, transitions)
}

func TestNewHostBreakers_Defaults(t *testing.T) {
	hb := NewHostBreakers(BreakerConfig{})
	stats := hb.Stats("x")
	assert.Equal(t, 5, stats["failure_threshold"])
	assert.Equal(t, "30s", stats["cooldown"])
}
