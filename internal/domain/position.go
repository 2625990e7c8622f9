package domain

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// PositionState is derived from the sell fields of a position.
type PositionState string

const (
	// PositionOpenNoSellOrder is an open lot without a working limit sell.
	PositionOpenNoSellOrder PositionState = "OPEN_NO_SELL_ORDER"
	// PositionOpenSellPending is an open lot with a limit sell on the book.
	PositionOpenSellPending PositionState = "OPEN_SELL_PENDING"
	// PositionClosed is a lot whose limit sell filled. Terminal.
	PositionClosed PositionState = "CLOSED"
)

// Position is one executed buy lot.
type Position struct {
	ID            int64           `json:"id"`
	Exchange      Exchange        `json:"exchange"`
	Market        Pair            `json:"market"`
	BuyOrderID    string          `json:"buy_order_id"`
	BuyQuantity   decimal.Decimal `json:"buy_quantity"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	Fees          decimal.Decimal `json:"fees"`
	OpenedAt      time.Time       `json:"opened_at"`
	// Watchlist is the active watchlist at buy time.
	Watchlist []string `json:"watchlist"`

	SellOrderID     string              `json:"sell_order_id,omitempty"`
	SellPrice       decimal.NullDecimal `json:"sell_price"`
	SellQuantity    decimal.NullDecimal `json:"sell_quantity"`
	SellTimestamp   *time.Time          `json:"sell_timestamp,omitempty"`
	ScalpedQuantity decimal.NullDecimal `json:"scalped_quantity"`
}

// NewPosition creates an open position from a filled market buy.
func NewPosition(exchange Exchange, market Pair, fill BuyFill, watchlist []string) (*Position, error) {
	if fill.Quantity.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("buy quantity must be positive, got %s", fill.Quantity)
	}
	if fill.Price.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("purchase price must be positive, got %s", fill.Price)
	}
	if fill.OrderID == "" {
		return nil, errors.New("buy order id is required")
	}

	return &Position{
		Exchange:      exchange,
		Market:        market,
		BuyOrderID:    fill.OrderID,
		BuyQuantity:   fill.Quantity,
		PurchasePrice: fill.Price,
		Fees:          fill.Fees,
		OpenedAt:      fill.Timestamp,
		Watchlist:     append([]string(nil), watchlist...),
	}, nil
}

// Spent is the quote amount paid for the lot.
func (p *Position) Spent() decimal.Decimal {
	return p.BuyQuantity.Mul(p.PurchasePrice)
}

// IsOpen reports whether the sell has not filled yet.
func (p *Position) IsOpen() bool {
	return p.SellTimestamp == nil
}

// HasSellOrder reports whether a limit sell is referenced locally.
func (p *Position) HasSellOrder() bool {
	return p.SellOrderID != ""
}

// State derives the lifecycle state.
func (p *Position) State() PositionState {
	switch {
	case !p.IsOpen():
		return PositionClosed
	case p.HasSellOrder():
		return PositionOpenSellPending
	default:
		return PositionOpenNoSellOrder
	}
}

// Ref returns the market reference of the lot.
func (p *Position) Ref() MarketRef {
	return MarketRef{Exchange: p.Exchange, Pair: p.Market}
}

// RecordSellOrder stores a newly placed limit sell.
func (p *Position) RecordSellOrder(orderID string, price, qty decimal.Decimal) error {
	if !p.IsOpen() {
		return ErrPositionClosed
	}
	if qty.GreaterThan(p.BuyQuantity) {
		return fmt.Errorf("sell quantity %s exceeds buy quantity %s", qty, p.BuyQuantity)
	}

	p.SellOrderID = orderID
	p.SellPrice = decimal.NewNullDecimal(price)
	p.SellQuantity = decimal.NewNullDecimal(qty)
	return nil
}

// DetachSellOrder drops the order reference but keeps the last target so the
// next revision can compare against it.
func (p *Position) DetachSellOrder() {
	p.SellOrderID = ""
}

// ClearSellOrder forgets the order entirely.
func (p *Position) ClearSellOrder() {
	p.SellOrderID = ""
	p.SellPrice = decimal.NullDecimal{}
	p.SellQuantity = decimal.NullDecimal{}
}

// Close records the filled sell. The transition is irreversible.
func (p *Position) Close(price, qty decimal.Decimal, at time.Time) error {
	if !p.IsOpen() {
		return ErrPositionClosed
	}
	if qty.IsNegative() || qty.GreaterThan(p.BuyQuantity) {
		return fmt.Errorf("sold quantity %s outside [0, %s]", qty, p.BuyQuantity)
	}

	ts := at
	p.SellPrice = decimal.NewNullDecimal(price)
	p.SellQuantity = decimal.NewNullDecimal(qty)
	p.SellTimestamp = &ts
	p.ScalpedQuantity = decimal.NewNullDecimal(p.BuyQuantity.Sub(qty))
	return nil
}

// Recouped is the quote amount received from the sell.
func (p *Position) Recouped() decimal.Decimal {
	if !p.SellPrice.Valid || !p.SellQuantity.Valid {
		return decimal.Zero
	}
	return p.SellPrice.Decimal.Mul(p.SellQuantity.Decimal)
}

// Remaining is the quantity still held from this lot.
func (p *Position) Remaining() decimal.Decimal {
	if p.IsOpen() {
		return p.BuyQuantity
	}
	return p.ScalpedQuantity.Decimal
}

// Clone returns a deep copy.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	c := *p
	c.Watchlist = append([]string(nil), p.Watchlist...)
	if p.SellTimestamp != nil {
		ts := *p.SellTimestamp
		c.SellTimestamp = &ts
	}
	return &c
}
