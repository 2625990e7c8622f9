package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/selectivedca/internal/domain"
	"github.com/vadiminshakov/selectivedca/pkg/retrier"
)

type fakeProvider struct {
	candles  []domain.Candle
	failures int
	calls    int
	lastFrom time.Time
}

func (f *fakeProvider) GetKlines(_ context.Context, _ domain.Pair, _ string, limit int) ([]domain.Candle, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("temporary failure")
	}
	if limit > len(f.candles) {
		limit = len(f.candles)
	}
	return f.candles[len(f.candles)-limit:], nil
}

func (f *fakeProvider) GetKlinesFrom(_ context.Context, _ domain.Pair, _ string, start time.Time, limit int) ([]domain.Candle, error) {
	f.calls++
	f.lastFrom = start
	var out []domain.Candle
	for _, c := range f.candles {
		if !c.OpenTime.Before(start) && len(out) < limit {
			out = append(out, c)
		}
	}
	return out, nil
}

func hourly(start time.Time, closes ...int64) []domain.Candle {
	out := make([]domain.Candle, len(closes))
	for i, c := range closes {
		open := start.Add(time.Duration(i) * time.Hour)
		out[i] = domain.Candle{
			OpenTime:  open,
			Close:     decimal.NewFromInt(c),
			CloseTime: open.Add(time.Hour - time.Millisecond),
		}
	}
	return out
}

func fastRetrier() *retrier.Retrier {
	return retrier.New(retrier.WithInitialInterval(time.Millisecond), retrier.WithMaxInterval(time.Millisecond), retrier.WithMaxRetries(2))
}

func TestCollector_CandlesRetries(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	provider := &fakeProvider{candles: hourly(start, 1, 2, 3), failures: 2}
	c := New(provider, fastRetrier())

	candles, err := c.Candles(context.Background(), domain.NewPair("btc", "usdt"), "1h", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 3, provider.calls)
	assert.True(t, decimal.NewFromInt(3).Equal(candles[1].Close))
}

func TestCollector_CandlesGivesUp(t *testing.T) {
	provider := &fakeProvider{failures: 10}
	c := New(provider, fastRetrier())

	_, err := c.Candles(context.Background(), domain.NewPair("btc", "usdt"), "1h", 2)
	require.Error(t, err)
	assert.Equal(t, 3, provider.calls)
}

func TestCollector_CandleAt(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	provider := &fakeProvider{candles: hourly(start, 10, 20, 30)}
	c := New(provider, fastRetrier())
	pair := domain.NewPair("eth", "usdt")

	at := start.Add(time.Hour + 30*time.Minute)
	candle, err := c.CandleAt(context.Background(), pair, "1h", at)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(20).Equal(candle.Close))
	assert.Equal(t, at.Add(-time.Hour), provider.lastFrom)

	_, err = c.CandleAt(context.Background(), pair, "1h", start.Add(10*time.Hour))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClosedOnly(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := hourly(start, 1, 2, 3)

	assert.Len(t, ClosedOnly(candles, start.Add(2*time.Hour+time.Minute)), 2)
	assert.Len(t, ClosedOnly(candles, start.Add(3*time.Hour)), 3)
	assert.Empty(t, ClosedOnly(nil, start))
}

func TestIntervalDuration(t *testing.T) {
	tests := []struct {
		input     string
		expected  time.Duration
		shouldErr bool
	}{
		{input: "15m", expected: 15 * time.Minute},
		{input: "1h", expected: time.Hour},
		{input: "4h", expected: 4 * time.Hour},
		{input: "1d", expected: 24 * time.Hour},
		{input: "1w", expected: 7 * 24 * time.Hour},
		{input: "h", shouldErr: true},
		{input: "0h", shouldErr: true},
		{input: "1M", shouldErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := IntervalDuration(tt.input)
			if tt.shouldErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}
