package domain

import "github.com/shopspring/decimal"

// Metric is the per-run momentum signal for one market. Not persisted.
type Metric struct {
	Exchange      Exchange
	Market        Pair
	Close         decimal.Decimal
	MAPeriod      int
	MovingAverage decimal.Decimal
	PriceToMA     decimal.Decimal
	// RSI is informational only, present when enough candles were available.
	RSI decimal.NullDecimal
}

// Ref returns the market reference of the metric.
func (m Metric) Ref() MarketRef {
	return MarketRef{Exchange: m.Exchange, Pair: m.Market}
}
