package domain

import "errors"

var (
	// ErrNoCandidates is returned when every watched market was filtered out of the buy lottery.
	ErrNoCandidates = errors.New("no buy candidates")
	// ErrOrderNotFilled is returned when a market buy did not fill.
	ErrOrderNotFilled = errors.New("buy order not filled")
	// ErrUnimplementedOrderStatus is returned for exchange order statuses the lifecycle does not handle.
	ErrUnimplementedOrderStatus = errors.New("unimplemented order status")
	// ErrMissingMarketParams is returned when quantization params are unknown for a market.
	ErrMissingMarketParams = errors.New("missing market quantization params")
	// ErrExchangeUnimplemented is returned by exchange variants that are not implemented.
	ErrExchangeUnimplemented = errors.New("exchange is not implemented")
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPositionClosed is returned when mutating a position that already sold.
	ErrPositionClosed = errors.New("position is closed")
	// ErrLockHeld is returned when another invocation holds the run lock.
	ErrLockHeld = errors.New("run lock is held by another invocation")
)
