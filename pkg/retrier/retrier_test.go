package retrier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoStopsOnFirstSuccess(t *testing.T) {
	r := New()

	attempts := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDoRecoversWithinBound(t *testing.T) {
	r := New(WithMaxRetries(3), WithInitialInterval(time.Millisecond))

	attempts := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("venue unreachable")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoReturnsLastErrorAfterBound(t *testing.T) {
	r := New(WithMaxRetries(2), WithInitialInterval(time.Millisecond))

	attempts := 0
	last := errors.New("still down")
	err := r.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return last
	})
	assert.ErrorIs(t, err, last)
	assert.Equal(t, 3, attempts) // first attempt plus two retries
}

func TestDoBackoffGrowsExponentially(t *testing.T) {
	r := New(WithMaxRetries(3), WithInitialInterval(20*time.Millisecond))

	var stamps []time.Time
	err := r.Do(context.Background(), func(ctx context.Context) error {
		stamps = append(stamps, time.Now())
		return errors.New("venue unreachable")
	})
	require.Error(t, err)
	require.Len(t, stamps, 4)

	// pauses double each retry: at least 20ms, 40ms, 80ms
	want := 20 * time.Millisecond
	for i := 1; i < len(stamps); i++ {
		gap := stamps[i].Sub(stamps[i-1])
		assert.GreaterOrEqual(t, gap, want, "retry %d fired too early", i)
		want *= 2
	}
}

func TestDoBackoffCapsAtMaxInterval(t *testing.T) {
	r := New(
		WithMaxRetries(3),
		WithInitialInterval(50*time.Millisecond),
		WithMaxInterval(50*time.Millisecond),
	)

	start := time.Now()
	err := r.Do(context.Background(), func(ctx context.Context) error {
		return errors.New("venue unreachable")
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	// three capped pauses of 50ms each; without the cap the pauses
	// would sum to 350ms
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
	assert.Less(t, elapsed, 300*time.Millisecond)
}

func TestDoHonorsContextDuringBackoff(t *testing.T) {
	r := New(WithMaxRetries(5), WithInitialInterval(100*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := r.Do(ctx, func(ctx context.Context) error {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return errors.New("venue unreachable")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, attempts)
}

func TestDoWithData(t *testing.T) {
	r := New(WithMaxRetries(1), WithInitialInterval(time.Millisecond))

	calls := 0
	val, err := DoWithData(r, context.Background(), func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("venue unreachable")
		}
		return "103.5", nil
	})
	assert.NoError(t, err)
	assert.Equal(t, "103.5", val)

	_, err = DoWithData(r, context.Background(), func(ctx context.Context) (int, error) {
		return 0, errors.New("still down")
	})
	assert.Error(t, err)
}
