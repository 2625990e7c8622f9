// Package scalp computes limit-sell quantity and price pairs that recover the
// cost of a lot while keeping the rest of it.
package scalp

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/selectivedca/internal/domain"
)

var (
	// ErrInfeasible means the lot step leaves no room for a retained remainder.
	ErrInfeasible = errors.New("scalp infeasible: lot step too coarse for buy quantity")
	// ErrBelowMinNotional means the order value is under the exchange minimum.
	ErrBelowMinNotional = errors.New("scalp below exchange min notional")
)

// DefaultBandSafety is applied to the band ceiling when a quote is capped.
var DefaultBandSafety = decimal.RequireFromString("0.99")

// Quote is a proposed limit sell.
type Quote struct {
	Quantity decimal.Decimal
	Price    decimal.Decimal
	// Capped is set when the price was pulled under the percent-price band and
	// the whole lot is offered.
	Capped bool
}

// Notional returns price * quantity.
func (q Quote) Notional() decimal.Decimal {
	return q.Price.Mul(q.Quantity)
}

// Compute derives the quote for selling just enough of pos at target to recover
// what was spent. Quantity is rounded up to the lot step and price up to the
// tick so proceeds never fall below the spent amount.
//
// ErrBelowMinNotional is returned together with the computed quote.
func Compute(pos *domain.Position, params domain.MarketQuantizationParams, target decimal.Decimal) (Quote, error) {
	if !target.IsPositive() {
		return Quote{}, errors.New("scalp target price must be positive")
	}

	spent := pos.Spent()
	qty := params.QtyUp(spent.Div(target))
	price := params.PriceUp(target)

	if qty.GreaterThanOrEqual(pos.BuyQuantity) {
		qty = params.QtyDown(pos.BuyQuantity.Sub(params.LotStepSize))
		if !qty.IsPositive() {
			return Quote{}, ErrInfeasible
		}
		price = params.PriceUp(spent.Div(qty))
	}

	quote := Quote{Quantity: qty, Price: price}
	if !params.MeetsMinNotional(quote.Price, quote.Quantity) {
		return quote, ErrBelowMinNotional
	}

	return quote, nil
}

// CapToBand pulls a quote under the exchange percent-price ceiling for the
// current price. A capped quote sells the whole lot at safety * ceiling,
// rounded down to the tick. Params without a band leave the quote unchanged.
func CapToBand(q Quote, pos *domain.Position, params domain.MarketQuantizationParams,
	current, safety decimal.Decimal) Quote {
	if !params.MultiplierUp.IsPositive() {
		return q
	}

	ceiling := BandCeiling(params, current)
	if q.Price.LessThanOrEqual(ceiling) {
		return q
	}

	return Quote{
		Quantity: pos.BuyQuantity,
		Price:    params.PriceDown(ceiling.Mul(safety)),
		Capped:   true,
	}
}

// BandCeiling is the highest limit price the exchange accepts at current.
func BandCeiling(params domain.MarketQuantizationParams, current decimal.Decimal) decimal.Decimal {
	return params.Price(current.Mul(params.MultiplierUp))
}
