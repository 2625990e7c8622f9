package clients

import (
	"github.com/hirokisan/bybit/v2"
)

// NewBybitClient creates an authenticated V5 client.
func NewBybitClient(apiKey, apiSecret string) *bybit.Client {
	return bybit.NewClient().WithAuth(apiKey, apiSecret)
}

// NewPublicBybitClient creates a client for market data endpoints only.
func NewPublicBybitClient() *bybit.Client {
	return bybit.NewClient()
}
