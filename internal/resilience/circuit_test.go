package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = eris.New("boom")

func failing(ctx context.Context) error { return errBoom }
func succeeding(ctx context.Context) error { return nil }

func newTestBreaker(threshold int, reset time.Duration) (*CircuitBreaker, *time.Time) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitConfig{FailureThreshold: threshold, ResetTimeout: reset})
	cb.nowFunc = func() time.Time { return now }
	return cb, &now
}

func TestCircuitOpensAfterThreshold(t *testing.T) {
	ctx := context.Background()
	cb, _ := newTestBreaker(3, time.Minute)

	for range 3 {
		assert.ErrorIs(t, cb.Execute(ctx, failing), errBoom)
	}
	assert.Equal(t, CircuitOpen, cb.State())

	err := cb.Execute(ctx, succeeding)
	assert.ErrorIs(t, err, ErrCircuitOpen, "open circuit rejects without calling through")
}

func TestCircuitSuccessResetsFailureCount(t *testing.T) {
	ctx := context.Background()
	cb, _ := newTestBreaker(3, time.Minute)

	for range 2 {
		_ = cb.Execute(ctx, failing)
	}
	require.NoError(t, cb.Execute(ctx, succeeding))
	for range 2 {
		_ = cb.Execute(ctx, failing)
	}
	assert.Equal(t, CircuitClosed, cb.State(), "interleaved success keeps the circuit closed")
}

func TestCircuitHalfOpenProbe(t *testing.T) {
	ctx := context.Background()

	t.Run("successful probe closes", func(t *testing.T) {
		cb, now := newTestBreaker(2, time.Minute)
		for range 2 {
			_ = cb.Execute(ctx, failing)
		}
		require.Equal(t, CircuitOpen, cb.State())

		*now = now.Add(2 * time.Minute)
		require.Equal(t, CircuitHalfOpen, cb.State())

		require.NoError(t, cb.Execute(ctx, succeeding))
		assert.Equal(t, CircuitClosed, cb.State())
	})

	t.Run("failed probe reopens", func(t *testing.T) {
		cb, now := newTestBreaker(2, time.Minute)
		for range 2 {
			_ = cb.Execute(ctx, failing)
		}
		*now = now.Add(2 * time.Minute)

		assert.ErrorIs(t, cb.Execute(ctx, failing), errBoom)
		assert.Equal(t, CircuitOpen, cb.State())

		err := cb.Execute(ctx, succeeding)
		assert.ErrorIs(t, err, ErrCircuitOpen, "a failed probe restarts the reset clock")
	})
}

func TestCircuitStateChangeCallback(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	var transitions []string
	cb := NewCircuitBreaker(CircuitConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	cb.nowFunc = func() time.Time { return now }

	for range 2 {
		_ = cb.Execute(ctx, failing)
	}
	now = now.Add(2 * time.Minute)
	_ = cb.Execute(ctx, succeeding)

	assert.Equal(t, []string{
		"closed->open",
		"open->half-open",
		"half-open->closed",
	}, transitions)
}

func TestCircuitStateString(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
}
