package indicators

import (
	"math"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/trend"
)

// Sma computes a simple moving average series. Returns nil when there is
// not enough history for a single value.
func Sma(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) < period {
		return nil
	}
	c := helper.SliceToChan(prices)
	sma := trend.NewSmaWithPeriod[float64](period)
	return helper.ChanToSlice(sma.Compute(c))
}

// Ema computes an exponential moving average series.
func Ema(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) < period {
		return nil
	}
	c := helper.SliceToChan(prices)
	ema := trend.NewEmaWithPeriod[float64](period)
	return helper.ChanToSlice(ema.Compute(c))
}

// Last returns the final value of a series, or fallback when empty.
func Last(series []float64, fallback float64) float64 {
	if len(series) == 0 {
		return fallback
	}
	return series[len(series)-1]
}

// MeanAbsReturn computes the average absolute bar-to-bar return of a price
// series. Zero when fewer than two bars exist.
func MeanAbsReturn(prices []float64) float64 {
	if len(prices) < 2 {
		return 0
	}
	sum := 0.0
	n := 0
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		sum += math.Abs(prices[i]/prices[i-1] - 1)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
