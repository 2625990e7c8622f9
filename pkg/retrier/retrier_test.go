package retrier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errTransient = errors.New("503 service unavailable")

func fast(opts ...Option) *Retrier {
	return New(append([]Option{WithInitialInterval(time.Millisecond), WithMaxInterval(2 * time.Millisecond)}, opts...)...)
}

func TestRetrier_Do(t *testing.T) {
	tests := []struct {
		name         string
		opts         []Option
		failures     int
		fail         error
		wantErr      error
		wantAttempts int
	}{
		{name: "first attempt", wantAttempts: 1},
		{name: "recovers", opts: []Option{WithMaxRetries(3)}, failures: 2, fail: errTransient, wantAttempts: 3},
		{name: "gives up", opts: []Option{WithMaxRetries(2)}, failures: 10, fail: errTransient, wantErr: errTransient, wantAttempts: 3},
		{name: "no retries", opts: []Option{WithMaxRetries(0)}, failures: 10, fail: errTransient, wantErr: errTransient, wantAttempts: 1},
		{name: "permanent", opts: []Option{WithMaxRetries(5)}, failures: 10, fail: Permanent(errTransient), wantErr: errTransient, wantAttempts: 1},
		{
			name:     "predicate rejects",
			opts:     []Option{WithMaxRetries(5), WithRetryIf(func(err error) bool { return !errors.Is(err, errTransient) })},
			failures: 10, fail: errTransient, wantErr: errTransient, wantAttempts: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := fast(tt.opts...).Do(context.Background(), func(context.Context) error {
				attempts++
				if attempts <= tt.failures {
					return tt.fail
				}
				return nil
			})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantAttempts, attempts)
		})
	}
}

func TestRetrier_PermanentIsUnwrapped(t *testing.T) {
	err := fast().Do(context.Background(), func(context.Context) error {
		return Permanent(errTransient)
	})
	assert.Same(t, errTransient, err)
	assert.NoError(t, Permanent(nil))
}

func TestRetrier_OnRetry(t *testing.T) {
	var seen []int
	r := fast(WithMaxRetries(2), WithOnRetry(func(attempt int, err error) {
		assert.ErrorIs(t, err, errTransient)
		seen = append(seen, attempt)
	}))

	_ = r.Do(context.Background(), func(context.Context) error { return errTransient })
	assert.Equal(t, []int{1, 2}, seen)
}

func TestRetrier_ContextCancellation(t *testing.T) {
	r := New(WithMaxRetries(5), WithInitialInterval(100*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := r.Do(ctx, func(context.Context) error {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return errTransient
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, attempts)
}

func TestRetrier_RequestTimeoutIsRetried(t *testing.T) {
	attempts := 0
	err := fast(WithMaxRetries(1)).Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts == 1 {
			return context.DeadlineExceeded
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestDoWithData(t *testing.T) {
	calls := 0
	val, err := DoWithData(fast(WithMaxRetries(1)), context.Background(), func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errTransient
		}
		return "0.00001000", nil
	})
	assert.NoError(t, err)
	assert.Equal(t, "0.00001000", val)

	val, err = DoWithData(fast(WithMaxRetries(0)), context.Background(), func(context.Context) (string, error) {
		return "partial", errTransient
	})
	assert.Error(t, err)
	assert.Equal(t, "partial", val)
}
