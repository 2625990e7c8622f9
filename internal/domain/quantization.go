package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MarketQuantizationParams holds the exchange trading constraints for one market.
type MarketQuantizationParams struct {
	Exchange      Exchange        `json:"exchange"`
	Market        Pair            `json:"market"`
	PriceTickSize decimal.Decimal `json:"price_tick_size"`
	LotStepSize   decimal.Decimal `json:"lot_step_size"`
	MinNotional   decimal.Decimal `json:"min_notional"`
	// MultiplierUp is the max allowed limit price as a multiple of the current price.
	// Zero means the exchange publishes no percent-price band.
	MultiplierUp decimal.Decimal `json:"multiplier_up"`
	AvgPriceMins int             `json:"avg_price_mins"`
}

// Validate checks the params can be used for order math.
func (p MarketQuantizationParams) Validate() error {
	if p.PriceTickSize.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("price tick size must be positive for %s, got %s", p.Market.Symbol(), p.PriceTickSize)
	}
	if p.LotStepSize.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("lot step size must be positive for %s, got %s", p.Market.Symbol(), p.LotStepSize)
	}
	if p.MinNotional.IsNegative() {
		return fmt.Errorf("min notional must not be negative for %s, got %s", p.Market.Symbol(), p.MinNotional)
	}
	if p.MultiplierUp.IsNegative() {
		return fmt.Errorf("percent price multiplier must not be negative for %s, got %s", p.Market.Symbol(), p.MultiplierUp)
	}
	return nil
}

// Ref returns the market reference the params belong to.
func (p MarketQuantizationParams) Ref() MarketRef {
	return MarketRef{Exchange: p.Exchange, Pair: p.Market}
}

// Price rounds a price to the nearest tick (half to even).
func (p MarketQuantizationParams) Price(v decimal.Decimal) decimal.Decimal {
	return toStep(v, p.PriceTickSize, roundNearest)
}

// PriceUp rounds a price up to the next tick.
func (p MarketQuantizationParams) PriceUp(v decimal.Decimal) decimal.Decimal {
	return toStep(v, p.PriceTickSize, roundUp)
}

// PriceDown rounds a price down to the previous tick.
func (p MarketQuantizationParams) PriceDown(v decimal.Decimal) decimal.Decimal {
	return toStep(v, p.PriceTickSize, roundDown)
}

// Qty rounds a quantity to the nearest lot step (half to even).
func (p MarketQuantizationParams) Qty(v decimal.Decimal) decimal.Decimal {
	return toStep(v, p.LotStepSize, roundNearest)
}

// QtyUp rounds a quantity up to the next lot step.
func (p MarketQuantizationParams) QtyUp(v decimal.Decimal) decimal.Decimal {
	return toStep(v, p.LotStepSize, roundUp)
}

// QtyDown rounds a quantity down to the previous lot step.
func (p MarketQuantizationParams) QtyDown(v decimal.Decimal) decimal.Decimal {
	return toStep(v, p.LotStepSize, roundDown)
}

// MeetsMinNotional reports whether price*qty clears the exchange minimum.
func (p MarketQuantizationParams) MeetsMinNotional(price, qty decimal.Decimal) bool {
	return price.Mul(qty).GreaterThanOrEqual(p.MinNotional)
}

type rounding int

const (
	roundNearest rounding = iota
	roundUp
	roundDown
)

// toStep rounds v to a multiple of step. A non-positive step leaves v untouched.
func toStep(v, step decimal.Decimal, mode rounding) decimal.Decimal {
	if step.LessThanOrEqual(decimal.Zero) {
		return v
	}

	units := v.Div(step)
	switch mode {
	case roundUp:
		units = units.Ceil()
	case roundDown:
		units = units.Floor()
	default:
		units = units.RoundBank(0)
	}

	return units.Mul(step)
}
