// Package domain defines core data structures used throughout the bot.
package domain

import (
	"fmt"
	"strings"
)

// Pair cryptocurrency trading pair.
type Pair struct {
	// From base currency symbol.
	From string `json:"from"`
	// To quote currency symbol.
	To string `json:"to"`
}

// NewPair builds a pair for asset priced in quote, normalizing symbols.
func NewPair(asset, quote string) Pair {
	return Pair{
		From: strings.ToUpper(strings.TrimSpace(asset)),
		To:   strings.ToUpper(strings.TrimSpace(quote)),
	}
}

// String returns the string representation.
func (p Pair) String() string {
	return fmt.Sprintf("%s_%s", p.From, p.To)
}

// Symbol returns the concatenated symbol representation.
func (p Pair) Symbol() string {
	return fmt.Sprintf("%s%s", p.From, p.To)
}

// IsZero reports whether the pair is unset.
func (p Pair) IsZero() bool {
	return p.From == "" && p.To == ""
}

// Exchange names a supported exchange variant.
type Exchange string

const (
	ExchangeBinance Exchange = "binance"
	ExchangeBybit   Exchange = "bybit"
	ExchangeBittrex Exchange = "bittrex"
)

// ParseExchange validates an exchange name from configuration.
func ParseExchange(name string) (Exchange, error) {
	switch e := Exchange(strings.ToLower(strings.TrimSpace(name))); e {
	case ExchangeBinance, ExchangeBybit, ExchangeBittrex:
		return e, nil
	default:
		return "", fmt.Errorf("unsupported exchange %q", name)
	}
}

// MarketRef identifies a market on a particular exchange.
type MarketRef struct {
	Exchange Exchange
	Pair     Pair
}

// Key returns a stable map key for the market.
func (r MarketRef) Key() string {
	return string(r.Exchange) + ":" + r.Pair.Symbol()
}

func (r MarketRef) String() string {
	return string(r.Exchange) + " " + r.Pair.Symbol()
}
