package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grillmaster/grillmaster/internal/errs"
)

func retryable(msg string) error {
	return errs.NewPipeline("test_step", msg, true, nil)
}

func TestDo(t *testing.T) {
	ctx := context.Background()

	t.Run("returns first success", func(t *testing.T) {
		calls := 0
		result, err := Do(ctx, Options{MaxRetries: 3, BaseDelay: time.Millisecond}, func() (string, error) {
			calls++
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", result)
		assert.Equal(t, 1, calls)
	})

	t.Run("retries retryable errors until success", func(t *testing.T) {
		calls := 0
		result, err := Do(ctx, Options{MaxRetries: 3, BaseDelay: time.Millisecond}, func() (int, error) {
			calls++
			if calls < 3 {
				return 0, retryable("transient")
			}
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, result)
		assert.Equal(t, 3, calls)
	})

	t.Run("non-retryable error propagates immediately", func(t *testing.T) {
		calls := 0
		_, err := Do(ctx, Options{MaxRetries: 3, BaseDelay: time.Millisecond}, func() (int, error) {
			calls++
			return 0, errs.NewPipeline("test_step", "fatal", false, nil)
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("plain errors are not retried", func(t *testing.T) {
		calls := 0
		_, err := Do(ctx, Options{MaxRetries: 3, BaseDelay: time.Millisecond}, func() (int, error) {
			calls++
			return 0, errors.New("plain")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("exhausted retries return last error", func(t *testing.T) {
		calls := 0
		_, err := Do(ctx, Options{MaxRetries: 2, BaseDelay: time.Millisecond}, func() (int, error) {
			calls++
			return 0, retryable("still failing")
		})
		require.Error(t, err)
		assert.Equal(t, 3, calls) // first call + 2 retries
		assert.Contains(t, err.Error(), "still failing")
	})

	t.Run("zero retries runs exactly once", func(t *testing.T) {
		calls := 0
		_, err := Do(ctx, Options{}, func() (int, error) {
			calls++
			return 0, retryable("nope")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("context cancellation aborts backoff", func(t *testing.T) {
		cancelCtx, cancel := context.WithCancel(ctx)
		calls := 0
		done := make(chan error, 1)
		go func() {
			_, err := Do(cancelCtx, Options{MaxRetries: 5, BaseDelay: time.Minute}, func() (int, error) {
				calls++
				return 0, retryable("slow")
			})
			done <- err
		}()

		time.Sleep(20 * time.Millisecond)
		cancel()

		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
			assert.Equal(t, 1, calls)
		case <-time.After(2 * time.Second):
			t.Fatal("Do did not return after context cancellation")
		}
	})
}

func TestDelayFor(t *testing.T) {
	opts := Options{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, DisableJitter: true}

	assert.Equal(t, 100*time.Millisecond, delayFor(opts, 0))
	assert.Equal(t, 200*time.Millisecond, delayFor(opts, 1))
	assert.Equal(t, 400*time.Millisecond, delayFor(opts, 2))
	assert.Equal(t, 800*time.Millisecond, delayFor(opts, 3))
	assert.Equal(t, time.Second, delayFor(opts, 4))
	assert.Equal(t, time.Second, delayFor(opts, 10))

	t.Run("jitter stays within bounds", func(t *testing.T) {
		jittered := Options{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
		for i := 0; i < 50; i++ {
			d := delayFor(jittered, 0)
			assert.GreaterOrEqual(t, d, 75*time.Millisecond)
			assert.Less(t, d, 125*time.Millisecond)
		}
	})

	t.Run("floor is one millisecond", func(t *testing.T) {
		d := delayFor(Options{BaseDelay: 0, DisableJitter: true}, 0)
		assert.Equal(t, time.Millisecond, d)
	})
}
