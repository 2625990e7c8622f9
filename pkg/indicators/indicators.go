// Package indicators provides technical analysis indicators over decimal closes.
package indicators

import (
	"fmt"
	"math"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/shopspring/decimal"
)

// SMA returns the simple moving average of the last period closes.
// The sum is computed in decimal so the result matches exchange prices exactly.
func SMA(closes []decimal.Decimal, period int) (decimal.Decimal, error) {
	if period <= 0 {
		return decimal.Zero, fmt.Errorf("period must be positive, got %d", period)
	}
	if len(closes) < period {
		return decimal.Zero, fmt.Errorf("not enough data points: need %d, got %d", period, len(closes))
	}

	sum := decimal.Zero
	for _, c := range closes[len(closes)-period:] {
		sum = sum.Add(c)
	}

	return sum.Div(decimal.NewFromInt(int64(period))), nil
}

// LowestSMA computes the SMA for every period and returns the lowest one with its period.
func LowestSMA(closes []decimal.Decimal, periods []int) (decimal.Decimal, int, error) {
	if len(periods) == 0 {
		return decimal.Zero, 0, fmt.Errorf("no moving average periods")
	}

	var (
		lowest    decimal.Decimal
		lowestLen int
	)
	for i, period := range periods {
		ma, err := SMA(closes, period)
		if err != nil {
			return decimal.Zero, 0, fmt.Errorf("SMA%d: %w", period, err)
		}
		if i == 0 || ma.LessThan(lowest) {
			lowest, lowestLen = ma, period
		}
	}

	return lowest, lowestLen, nil
}

// CalculateRSI calculates the Relative Strength Index for the given period.
func CalculateRSI(closes []decimal.Decimal, period int) ([]decimal.Decimal, error) {
	if len(closes) < period+1 {
		return nil, fmt.Errorf("not enough data points for RSI: need %d, got %d", period+1, len(closes))
	}

	closesFloat := decimalsToFloat64(closes)

	rsi := momentum.NewRsiWithPeriod[float64](period)
	inputChan := helper.SliceToChan(closesFloat)
	outputChan := rsi.Compute(inputChan)
	rsiFloat := helper.ChanToSlice(outputChan)
	for i, v := range rsiFloat {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("RSI%d is undefined at index %d", period, i)
		}
	}

	return float64ToDecimals(rsiFloat), nil
}

// LastRSI returns the most recent RSI value.
func LastRSI(closes []decimal.Decimal, period int) (decimal.Decimal, error) {
	values, err := CalculateRSI(closes, period)
	if err != nil {
		return decimal.Zero, err
	}
	if len(values) == 0 {
		return decimal.Zero, fmt.Errorf("RSI%d produced no values for %d closes", period, len(closes))
	}

	return values[len(values)-1], nil
}

func decimalsToFloat64(decimals []decimal.Decimal) []float64 {
	result := make([]float64, len(decimals))
	for i, d := range decimals {
		result[i], _ = d.Float64()
	}
	return result
}

func float64ToDecimals(floats []float64) []decimal.Decimal {
	result := make([]decimal.Decimal, len(floats))
	for i, f := range floats {
		result[i] = decimal.NewFromFloat(f)
	}
	return result
}
