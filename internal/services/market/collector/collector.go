// Package collector provides utilities for collecting candle data from
// cryptocurrency exchanges.
package collector

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/selectivedca/internal/domain"
	"github.com/vadiminshakov/selectivedca/pkg/retrier"
)

const requestTimeout = 30 * time.Second

// KlineProvider defines the interface for fetching kline (candlestick) data.
type KlineProvider interface {
	// GetKlines fetches the most recent limit klines, oldest first.
	// interval specifies the kline interval (e.g., "1m", "5m", "1h", "1d").
	GetKlines(ctx context.Context, pair domain.Pair, interval string, limit int) ([]domain.Candle, error)
	// GetKlinesFrom fetches up to limit klines opened at or after start, oldest first.
	GetKlinesFrom(ctx context.Context, pair domain.Pair, interval string, start time.Time, limit int) ([]domain.Candle, error)
}

// Collector fetches candles through a provider, retrying transient failures.
type Collector struct {
	provider KlineProvider
	retrier  *retrier.Retrier
}

// New creates a collector over the provider.
func New(provider KlineProvider, r *retrier.Retrier) *Collector {
	if r == nil {
		r = retrier.New(retrier.WithMaxRetries(3))
	}
	return &Collector{provider: provider, retrier: r}
}

// Candles returns the latest limit candles, oldest first.
func (c *Collector) Candles(ctx context.Context, pair domain.Pair, interval string, limit int) ([]domain.Candle, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}

	candles, err := retrier.DoWithData(c.retrier, ctx, func(ctx context.Context) ([]domain.Candle, error) {
		ctxWithTimeout, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		return c.provider.GetKlines(ctxWithTimeout, pair, interval, limit)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch %s klines for %s", interval, pair.Symbol())
	}

	return candles, nil
}

// CandleAt returns the candle whose period contains at.
func (c *Collector) CandleAt(ctx context.Context, pair domain.Pair, interval string, at time.Time) (domain.Candle, error) {
	d, err := IntervalDuration(interval)
	if err != nil {
		return domain.Candle{}, err
	}

	candles, err := retrier.DoWithData(c.retrier, ctx, func(ctx context.Context) ([]domain.Candle, error) {
		ctxWithTimeout, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		return c.provider.GetKlinesFrom(ctxWithTimeout, pair, interval, at.Add(-d), 2)
	})
	if err != nil {
		return domain.Candle{}, errors.Wrapf(err, "failed to fetch %s kline at %s for %s", interval, at.Format(time.RFC3339), pair.Symbol())
	}

	candle, ok := Containing(candles, at)
	if !ok {
		return domain.Candle{}, errors.Wrapf(domain.ErrNotFound, "no %s kline at %s for %s", interval, at.Format(time.RFC3339), pair.Symbol())
	}

	return candle, nil
}

// ClosedOnly drops the trailing candle when it is still open at now.
func ClosedOnly(candles []domain.Candle, now time.Time) []domain.Candle {
	if n := len(candles); n > 0 && !candles[n-1].IsClosed(now) {
		return candles[:n-1]
	}
	return candles
}

// Containing finds the candle with OpenTime <= at <= CloseTime.
func Containing(candles []domain.Candle, at time.Time) (domain.Candle, bool) {
	for _, c := range candles {
		if !at.Before(c.OpenTime) && !at.After(c.CloseTime) {
			return c, true
		}
	}
	return domain.Candle{}, false
}

// IntervalDuration converts an interval such as "15m", "1h", "1d" or "1w" to a duration.
func IntervalDuration(interval string) (time.Duration, error) {
	if len(interval) < 2 {
		return 0, fmt.Errorf("invalid interval format: %s", interval)
	}

	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval number: %s", interval)
	}

	switch interval[len(interval)-1] {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unsupported interval unit: %c", interval[len(interval)-1])
	}
}
