package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the exchange-reported state of an order.
type OrderStatus string

const (
	OrderStatusNew      OrderStatus = "NEW"
	OrderStatusFilled   OrderStatus = "FILLED"
	OrderStatusCanceled OrderStatus = "CANCELED"
)

// BuyFill is an executed market buy aggregated over its fills.
type BuyFill struct {
	OrderID       string
	ClientOrderID string
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	Fees          decimal.Decimal
	Timestamp     time.Time
}

// SellFill is an executed market sell.
type SellFill struct {
	OrderID   string
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Fees      decimal.Decimal
	Timestamp time.Time
}

// LimitOrder is an accepted limit sell.
type LimitOrder struct {
	OrderID  string
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// OrderReport is a status snapshot of one order.
type OrderReport struct {
	OrderID          string
	Status           OrderStatus
	Price            decimal.Decimal
	ExecutedQuantity decimal.Decimal
	UpdatedAt        time.Time
}
