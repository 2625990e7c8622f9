package collector

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	bybit "github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/selectivedca/internal/domain"
)

const bybitMaxPerRequest = 200

// BybitKlineProvider implements KlineProvider for Bybit spot markets.
type BybitKlineProvider struct {
	client *bybit.Client
}

// NewBybitKlineProvider creates a new Bybit kline provider.
func NewBybitKlineProvider(client *bybit.Client) *BybitKlineProvider {
	return &BybitKlineProvider{client: client}
}

// GetKlines fetches the latest limit klines, paging backwards from now.
func (p *BybitKlineProvider) GetKlines(ctx context.Context, pair domain.Pair, interval string, limit int) ([]domain.Candle, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}

	var (
		all []domain.Candle
		end *int64
	)
	for remaining := limit; remaining > 0; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batchSize := min(remaining, bybitMaxPerRequest)
		batch, err := p.fetch(pair, interval, nil, end, batchSize)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}

		all = append(all, batch...)
		// if we got fewer results than requested, we've reached the end
		if len(batch) < batchSize {
			break
		}
		remaining -= len(batch)

		oldest := batch[0].OpenTime.UnixMilli() - 1
		end = &oldest
	}

	if len(all) == 0 {
		return nil, errors.Errorf("no kline data returned from Bybit for %s", pair.String())
	}

	sortCandles(all)
	return all, nil
}

// GetKlinesFrom fetches up to limit klines opened at or after start.
func (p *BybitKlineProvider) GetKlinesFrom(ctx context.Context, pair domain.Pair, interval string, start time.Time, limit int) ([]domain.Candle, error) {
	if limit <= 0 || limit > bybitMaxPerRequest {
		return nil, errors.Errorf("limit must be within 1..%d", bybitMaxPerRequest)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	from := start.UnixMilli()
	candles, err := p.fetch(pair, interval, &from, nil, limit)
	if err != nil {
		return nil, err
	}

	sortCandles(candles)
	if len(candles) > limit {
		candles = candles[:limit]
	}
	return candles, nil
}

func (p *BybitKlineProvider) fetch(pair domain.Pair, interval string, start, end *int64, limit int) ([]domain.Candle, error) {
	bybitInterval, err := convertIntervalToBybit(interval)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid interval: %s", interval)
	}
	period, err := IntervalDuration(interval)
	if err != nil {
		return nil, err
	}

	result, err := p.client.V5().Market().GetKline(bybit.V5GetKlineParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   bybit.SymbolV5(pair.Symbol()),
		Interval: bybit.Interval(bybitInterval),
		Start:    start,
		End:      end,
		Limit:    &limit,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch klines from Bybit for %s", pair.String())
	}
	if result == nil {
		return nil, errors.Errorf("empty result from Bybit API for %s", pair.String())
	}

	candles := make([]domain.Candle, len(result.Result.List))
	for i, k := range result.Result.List {
		openTime, err := parseTimestamp(k.StartTime)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse start time at index %d", i)
		}

		values, err := parseDecimals(k.Open, k.High, k.Low, k.Close, k.Volume)
		if err != nil {
			return nil, errors.Wrapf(err, "kline %d", i)
		}

		candles[i] = domain.Candle{
			OpenTime:  openTime,
			Open:      values[0],
			High:      values[1],
			Low:       values[2],
			Close:     values[3],
			Volume:    values[4],
			CloseTime: openTime.Add(period - time.Millisecond),
		}
	}

	return candles, nil
}

// Bybit lists klines newest first.
func sortCandles(candles []domain.Candle) {
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].OpenTime.Before(candles[j].OpenTime)
	})
}

// convertIntervalToBybit converts standard interval format to Bybit format.
// Standard format: "1m", "5m", "15m", "1h", "4h", "1d", etc.
// Bybit format: "1", "5", "15", "60", "240", "D", etc.
func convertIntervalToBybit(interval string) (string, error) {
	if len(interval) < 2 {
		return "", fmt.Errorf("invalid interval format: %s", interval)
	}

	unit := interval[len(interval)-1]
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return "", fmt.Errorf("invalid interval number: %s", interval)
	}

	switch unit {
	case 'm':
		return strconv.Itoa(n), nil
	case 'h':
		return strconv.Itoa(n * 60), nil
	case 'd':
		return "D", nil
	case 'w':
		return "W", nil
	default:
		return "", fmt.Errorf("unsupported interval unit: %c", unit)
	}
}

// parseTimestamp converts Bybit timestamp string (milliseconds) to time.Time.
func parseTimestamp(ts string) (time.Time, error) {
	if ts == "" {
		return time.Time{}, errors.New("empty timestamp")
	}

	msec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "failed to parse timestamp: %s", ts)
	}

	return time.UnixMilli(msec), nil
}
