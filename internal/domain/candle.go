package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultInterval is the candle interval used for moving averages.
const DefaultInterval = "1h"

// Candle is one OHLC bar.
type Candle struct {
	OpenTime  time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	CloseTime time.Time
}

// IsClosed reports whether the bar had finished at now.
func (c Candle) IsClosed(now time.Time) bool {
	return !c.CloseTime.After(now)
}
