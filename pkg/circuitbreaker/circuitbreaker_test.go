package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errOutage   = errors.New("503 from backend")
	errRejected = errors.New("duplicate key")
)

func ok(context.Context) error   { return nil }
func fail(context.Context) error { return errOutage }

func fastConfig() Config {
	return Config{
		FailureThreshold:    2,
		SuccessThreshold:    2,
		Timeout:             50 * time.Millisecond,
		MaxRequestsHalfOpen: 3,
	}
}

func TestCircuitBreaker_ClosedState(t *testing.T) {
	cb := New(DefaultConfig())
	ctx := context.Background()

	require.NoError(t, cb.Execute(ctx, ok))

	err := cb.Execute(ctx, fail)
	assert.ErrorIs(t, err, errOutage)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, 1, cb.GetStats().FailureCount)
}

func TestCircuitBreaker_OpenRejectsWithoutCalling(t *testing.T) {
	cb := New(fastConfig())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_ = cb.Execute(ctx, fail)
	}
	require.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_HalfOpenClosesAfterSuccesses(t *testing.T) {
	cb := New(fastConfig())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_ = cb.Execute(ctx, fail)
	}
	time.Sleep(60 * time.Millisecond)

	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateHalfOpen, cb.GetState())
	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := New(fastConfig())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_ = cb.Execute(ctx, fail)
	}
	time.Sleep(60 * time.Millisecond)

	assert.Error(t, cb.Execute(ctx, fail))
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestCircuitBreaker_HalfOpenRequestLimit(t *testing.T) {
	cfg := fastConfig()
	cfg.SuccessThreshold = 10
	cfg.MaxRequestsHalfOpen = 2
	cb := New(cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_ = cb.Execute(ctx, fail)
	}
	time.Sleep(60 * time.Millisecond)

	require.NoError(t, cb.Execute(ctx, ok))
	require.NoError(t, cb.Execute(ctx, ok))
	assert.ErrorIs(t, cb.Execute(ctx, ok), ErrOpen)
}

func TestCircuitBreaker_IsFailureIgnoresCallerErrors(t *testing.T) {
	cfg := fastConfig()
	cfg.IsFailure = func(err error) bool { return errors.Is(err, errOutage) }
	cb := New(cfg)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := cb.Execute(ctx, func(context.Context) error { return errRejected })
		assert.ErrorIs(t, err, errRejected)
	}
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_CancelledContext(t *testing.T) {
	cb := New(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, ok)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecuteWithResult(t *testing.T) {
	cb := New(fastConfig())
	ctx := context.Background()

	v, err := ExecuteWithResult(ctx, cb, func(context.Context) (string, error) { return "row", nil })
	require.NoError(t, err)
	assert.Equal(t, "row", v)

	v, err = ExecuteWithResult(ctx, cb, func(context.Context) (string, error) { return "partial", errOutage })
	assert.ErrorIs(t, err, errOutage)
	assert.Empty(t, v)
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	cb := New(fastConfig())

	var mu sync.Mutex
	var seen []State
	cb.OnStateChange(func(_, to State) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, to)
	})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_ = cb.Execute(ctx, fail)
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0 && seen[0] == StateOpen
	}, time.Second, 10*time.Millisecond)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := New(fastConfig())
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_ = cb.Execute(ctx, fail)
	}
	require.Equal(t, StateOpen, cb.GetState())

	cb.Reset()

	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, 0, cb.GetStats().FailureCount)
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := New(DefaultConfig())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = cb.Execute(ctx, ok)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, 100, cb.GetStats().SuccessCount)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(99).String())
}
