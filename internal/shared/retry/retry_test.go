package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponential_SuccessImmediate(t *testing.T) {
	err := Exponential(context.Background(), func() error { return nil }, ExponentialConfig{
		InitialInterval: 5 * time.Millisecond,
		MaxElapsedTime:  100 * time.Millisecond,
	})
	assert.NoError(t, err)
}

func TestExponential_RetryThenSuccess(t *testing.T) {
	var calls int
	var onRetryCount int

	err := Exponential(context.Background(), func() error {
		if calls < 3 {
			calls++
			return errors.New("temporary error")
		}
		return nil
	}, ExponentialConfig{
		InitialInterval: 2 * time.Millisecond,
		MaxElapsedTime:  500 * time.Millisecond,
		OnRetry: func(err error, next time.Duration) {
			onRetryCount++
			assert.Error(t, err)
			assert.Greater(t, next, time.Duration(0))
		},
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, onRetryCount)
}

func TestExponential_InvalidConfig(t *testing.T) {
	err := Exponential(context.Background(), func() error { return nil }, ExponentialConfig{})
	assert.Error(t, err)
}

func TestExponential_MaxAttempts(t *testing.T) {
	cases := []struct {
		name     string
		attempts uint64
	}{
		{"single", 1},
		{"two", 2},
		{"three", 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var calls uint64
			err := Exponential(context.Background(), func() error {
				calls++
				return errors.New("always fail")
			}, ExponentialConfig{
				InitialInterval: time.Millisecond,
				MaxAttempts:     tc.attempts,
			})
			assert.Error(t, err)
			assert.Equal(t, tc.attempts, calls)
		})
	}
}

func TestExponential_PermanentStopsImmediately(t *testing.T) {
	var calls int
	sentinel := errors.New("conflict")
	err := Exponential(context.Background(), func() error {
		calls++
		return Permanent(sentinel)
	}, ExponentialConfig{InitialInterval: time.Millisecond})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestExponential_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := Exponential(ctx, func() error { return errors.New("down") }, ExponentialConfig{
		InitialInterval: 5 * time.Millisecond,
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
