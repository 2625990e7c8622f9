package clients

import (
	"github.com/adshao/go-binance/v2"
)

// NewBinanceClient creates an authenticated spot client.
func NewBinanceClient(apiKey, apiSecret string) *binance.Client {
	return binance.NewClient(apiKey, apiSecret)
}

// NewPublicBinanceClient creates a client without keys. Prices, klines and
// exchange info are public, which is all paper trading needs.
func NewPublicBinanceClient() *binance.Client {
	return binance.NewClient("", "")
}
