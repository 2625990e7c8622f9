package collector

import (
	"context"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/selectivedca/internal/domain"
)

// BinanceKlineProvider reads spot klines from Binance. Binance returns them
// oldest first with exact close times.
type BinanceKlineProvider struct {
	client *binance.Client
}

// NewBinanceKlineProvider creates a new Binance kline provider.
func NewBinanceKlineProvider(client *binance.Client) *BinanceKlineProvider {
	return &BinanceKlineProvider{client: client}
}

// GetKlines fetches kline data from Binance.
func (p *BinanceKlineProvider) GetKlines(ctx context.Context, pair domain.Pair, interval string, limit int) ([]domain.Candle, error) {
	klines, err := p.client.NewKlinesService().
		Symbol(pair.Symbol()).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch klines from Binance for %s", pair.String())
	}

	return binanceCandles(klines)
}

// GetKlinesFrom fetches kline data from Binance starting at start.
func (p *BinanceKlineProvider) GetKlinesFrom(ctx context.Context, pair domain.Pair, interval string, start time.Time, limit int) ([]domain.Candle, error) {
	klines, err := p.client.NewKlinesService().
		Symbol(pair.Symbol()).
		Interval(interval).
		StartTime(start.UnixMilli()).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch klines from Binance for %s since %s", pair.String(), start.Format(time.RFC3339))
	}

	return binanceCandles(klines)
}

func binanceCandles(klines []*binance.Kline) ([]domain.Candle, error) {
	candles := make([]domain.Candle, len(klines))
	for i, k := range klines {
		values, err := parseDecimals(k.Open, k.High, k.Low, k.Close, k.Volume)
		if err != nil {
			return nil, errors.Wrapf(err, "kline %d", i)
		}
		candles[i] = domain.Candle{
			OpenTime:  time.UnixMilli(k.OpenTime),
			Open:      values[0],
			High:      values[1],
			Low:       values[2],
			Close:     values[3],
			Volume:    values[4],
			CloseTime: time.UnixMilli(k.CloseTime),
		}
	}
	return candles, nil
}

func parseDecimals(raw ...string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(raw))
	for i, r := range raw {
		d, err := decimal.NewFromString(r)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid number %q", r)
		}
		out[i] = d
	}
	return out, nil
}
