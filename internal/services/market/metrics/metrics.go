// Package metrics computes the per-run price to moving average signal of
// every watched market.
package metrics

import (
	"context"
	"slices"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/selectivedca/internal/domain"
	"github.com/vadiminshakov/selectivedca/internal/services/market/collector"
	"github.com/vadiminshakov/selectivedca/pkg/indicators"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultConcurrency = 4
	rsiPeriod          = 14
)

// CandleSource is the exchange surface metrics are computed from.
type CandleSource interface {
	Name() domain.Exchange
	Candles(ctx context.Context, market domain.Pair, interval string, limit int) ([]domain.Candle, error)
}

// Failure records a market whose metric could not be computed.
type Failure struct {
	Market domain.Pair
	Err    error
}

// Config tunes the calculator.
type Config struct {
	Interval string
	// Periods are the moving average lookbacks; the lowest resulting MA is used.
	Periods     []int
	Concurrency int
}

// Calculator fetches candles and derives metrics.
type Calculator struct {
	l   *zap.Logger
	cfg Config
	now func() time.Time
}

// NewCalculator validates cfg and creates a calculator.
func NewCalculator(l *zap.Logger, cfg Config) (*Calculator, error) {
	if cfg.Interval == "" {
		cfg.Interval = domain.DefaultInterval
	}
	if _, err := collector.IntervalDuration(cfg.Interval); err != nil {
		return nil, err
	}
	if len(cfg.Periods) == 0 {
		return nil, errors.New("at least one moving average period is required")
	}
	for _, p := range cfg.Periods {
		if p <= 0 {
			return nil, errors.Errorf("moving average period must be positive, got %d", p)
		}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}

	return &Calculator{
		l:   l,
		cfg: cfg,
		now: time.Now,
	}, nil
}

// WithClock overrides the clock used to tell closed candles from the open one.
func (c *Calculator) WithClock(now func() time.Time) *Calculator {
	c.now = now
	return c
}

// CandleLimit is the number of candles requested per market: the longest
// lookback plus the still-open candle.
func (c *Calculator) CandleLimit() int {
	return slices.Max(c.cfg.Periods) + 1
}

// Compute returns metrics for markets in input order. Markets that fail are
// reported as failures and left out; only context cancellation is fatal.
func (c *Calculator) Compute(ctx context.Context, src CandleSource, markets []domain.Pair) ([]domain.Metric, []Failure, error) {
	results := make([]*domain.Metric, len(markets))
	failures := make([]error, len(markets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for i, market := range markets {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			m, err := c.metric(gctx, src, market)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				failures[i] = err
				return nil
			}
			results[i] = &m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, errors.Wrap(err, "metrics computation interrupted")
	}

	var (
		out    []domain.Metric
		failed []Failure
	)
	for i, market := range markets {
		if failures[i] != nil {
			c.l.Warn("no metric for market",
				zap.String("exchange", string(src.Name())),
				zap.String("market", market.Symbol()),
				zap.Error(failures[i]))
			failed = append(failed, Failure{Market: market, Err: failures[i]})
			continue
		}
		out = append(out, *results[i])
	}

	return out, failed, nil
}

func (c *Calculator) metric(ctx context.Context, src CandleSource, market domain.Pair) (domain.Metric, error) {
	candles, err := src.Candles(ctx, market, c.cfg.Interval, c.CandleLimit())
	if err != nil {
		return domain.Metric{}, err
	}

	return FromCandles(src.Name(), market, collector.ClosedOnly(candles, c.now()), c.cfg.Periods)
}

// FromCandles derives a metric from closed candles, oldest first.
func FromCandles(exchange domain.Exchange, market domain.Pair, candles []domain.Candle, periods []int) (domain.Metric, error) {
	if len(candles) == 0 {
		return domain.Metric{}, errors.Errorf("no closed candles for %s", market.Symbol())
	}

	closes := make([]decimal.Decimal, len(candles))
	for i, k := range candles {
		closes[i] = k.Close
	}

	ma, period, err := indicators.LowestSMA(closes, periods)
	if err != nil {
		return domain.Metric{}, errors.Wrapf(err, "moving average for %s", market.Symbol())
	}
	if !ma.IsPositive() {
		return domain.Metric{}, errors.Errorf("non-positive moving average %s for %s", ma, market.Symbol())
	}

	last := closes[len(closes)-1]
	m := domain.Metric{
		Exchange:      exchange,
		Market:        market,
		Close:         last,
		MAPeriod:      period,
		MovingAverage: ma,
		PriceToMA:     last.Div(ma),
	}
	if rsi, err := indicators.LastRSI(closes, rsiPeriod); err == nil {
		m.RSI = decimal.NewNullDecimal(rsi)
	}

	return m, nil
}
