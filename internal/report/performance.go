package report

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/selectivedca/internal/domain"
	"go.uber.org/zap"
)

// DefaultIterations is the number of random portfolios drawn.
const DefaultIterations = 10000

// HistorySource returns the candle that contained a past instant.
type HistorySource interface {
	CandleAt(ctx context.Context, market domain.Pair, interval string, at time.Time) (domain.Candle, error)
}

// PerformanceConfig tunes the Monte-Carlo comparison.
type PerformanceConfig struct {
	Interval   string
	Iterations int
	Seed       int64
}

// Performance compares the actual picks with random portfolios that, for
// every buy, picked any market of that buy's watchlist snapshot instead.
// Every lot is valued as if still held, so scalp sells do not skew the
// comparison.
type Performance struct {
	Positions  int
	Iterations int
	Actual     decimal.Decimal
	Min        decimal.Decimal
	Median     decimal.Decimal
	Max        decimal.Decimal
	// Beaten is the share of random runs the actual result did better than.
	Beaten decimal.Decimal
}

type possibleBuy struct {
	ref domain.MarketRef
	qty decimal.Decimal
}

// Evaluate runs the comparison. Alternatives without a historical candle or a
// current price are dropped; a buy always keeps itself as an alternative.
func Evaluate(ctx context.Context, l *zap.Logger, sources map[domain.Exchange]HistorySource,
	positions []*domain.Position, prices Prices, cfg PerformanceConfig) (Performance, error) {
	if cfg.Iterations <= 0 {
		cfg.Iterations = DefaultIterations
	}
	if cfg.Interval == "" {
		cfg.Interval = domain.DefaultInterval
	}
	res := Performance{Iterations: cfg.Iterations}
	if len(positions) == 0 {
		return res, errors.New("no positions to evaluate")
	}

	type cacheKey struct {
		ref string
		at  time.Time
	}
	historical := make(map[cacheKey]decimal.Decimal)

	options := make([][]possibleBuy, 0, len(positions))
	var spent decimal.Decimal
	for _, p := range positions {
		if _, ok := prices[p.Ref().Key()]; !ok {
			return res, errors.Wrapf(domain.ErrNotFound, "current price for %s", p.Ref())
		}
		src, ok := sources[p.Exchange]
		if !ok {
			return res, errors.Errorf("no candle source for exchange %s", p.Exchange)
		}

		buys := []possibleBuy{{ref: p.Ref(), qty: p.BuyQuantity}}
		for _, asset := range domain.NormalizeAssets(p.Watchlist) {
			market := domain.NewPair(asset, p.Market.To)
			ref := domain.MarketRef{Exchange: p.Exchange, Pair: market}
			if market == p.Market || market.From == market.To {
				continue
			}
			if _, ok := prices[ref.Key()]; !ok {
				continue
			}

			key := cacheKey{ref: ref.Key(), at: p.OpenedAt}
			price, ok := historical[key]
			if !ok {
				candle, err := src.CandleAt(ctx, market, cfg.Interval, p.OpenedAt)
				if err != nil {
					if ctx.Err() != nil {
						return res, ctx.Err()
					}
					l.Warn("no historical price for alternative buy",
						zap.String("market", ref.String()),
						zap.Time("at", p.OpenedAt),
						zap.Error(err))
					continue
				}
				price = candle.Close
				historical[key] = price
			}
			if !price.IsPositive() {
				continue
			}
			buys = append(buys, possibleBuy{ref: ref, qty: p.Spent().DivRound(price, 8)})
		}

		options = append(options, buys)
		spent = spent.Add(p.Spent())
	}

	held := decimal.Zero
	for _, p := range positions {
		held = held.Add(p.BuyQuantity.Mul(prices[p.Ref().Key()]))
	}
	res.Positions = len(positions)
	res.Actual = held.Sub(spent)

	rng := rand.New(rand.NewSource(cfg.Seed))
	runs := make([]decimal.Decimal, cfg.Iterations)
	for i := range runs {
		value := decimal.Zero
		for _, buys := range options {
			b := buys[rng.Intn(len(buys))]
			value = value.Add(b.qty.Mul(prices[b.ref.Key()]))
		}
		runs[i] = value.Sub(spent)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].LessThan(runs[j]) })

	res.Min = runs[0]
	res.Median = runs[len(runs)/2]
	res.Max = runs[len(runs)-1]
	beaten := sort.Search(len(runs), func(i int) bool { return !runs[i].LessThan(res.Actual) })
	res.Beaten = decimal.NewFromInt(int64(beaten)).Div(decimal.NewFromInt(int64(len(runs))))

	return res, nil
}

// String renders the comparison.
func (p Performance) String() string {
	rows := [][]string{
		{"actual", fmtDec(p.Actual)},
		{"random min", fmtDec(p.Min)},
		{"random median", fmtDec(p.Median)},
		{"random max", fmtDec(p.Max)},
		{"beats random", p.Beaten.Mul(hundred).StringFixed(2) + "%"},
	}
	title := fmt.Sprintf("Performance over %d positions, %d random runs", p.Positions, p.Iterations)
	return render(title, []string{"", "net profit"}, rows, nil)
}
