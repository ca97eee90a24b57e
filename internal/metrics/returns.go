// Package metrics turns price series into returns and risk figures, and
// blends holdings into a synthetic portfolio series.
//
// Every function here is pure and safe for concurrent use.
package metrics

import (
	"math"
	"sort"

	"marketpulse/internal/domain"
)

// Returns converts prices into simple period-over-period returns. The result
// has one element fewer than prices.
func Returns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		out[i-1] = prices[i]/prices[i-1] - 1
	}
	return out
}

// Compound rebuilds a price path from start by applying returns in order.
// It is the inverse of Returns.
func Compound(start float64, returns []float64) []float64 {
	out := make([]float64, len(returns)+1)
	out[0] = start
	for i, r := range returns {
		out[i+1] = out[i] * (1 + r)
	}
	return out
}

// Volatility is the Bessel-corrected standard deviation of returns scaled by
// sqrt(periodsPerYear). Fewer than two returns yield 0.
func Volatility(returns []float64, periodsPerYear float64) float64 {
	return stddev(returns) * math.Sqrt(periodsPerYear)
}

// TimeframeVolatility subsamples daily returns at the timeframe's stride and
// annualizes with its period count.
func TimeframeVolatility(returns []float64, tf domain.Timeframe) float64 {
	return Volatility(Subsample(returns, tf.Stride()), tf.PeriodsPerYear())
}

// Subsample keeps every stride-th return, starting with the first.
func Subsample(returns []float64, stride int) []float64 {
	if stride <= 1 {
		return returns
	}
	out := make([]float64, 0, len(returns)/stride+1)
	for i := 0; i < len(returns); i += stride {
		out = append(out, returns[i])
	}
	return out
}

// AnnualizedReturn is the arithmetic mean return times periodsPerYear.
func AnnualizedReturn(returns []float64, periodsPerYear float64) float64 {
	return mean(returns) * periodsPerYear
}

// Sharpe is (AnnualizedReturn - riskFree) / Volatility. It returns 0 when
// volatility is 0.
func Sharpe(returns []float64, riskFree, periodsPerYear float64) float64 {
	vol := Volatility(returns, periodsPerYear)
	if vol == 0 {
		return 0
	}
	return (AnnualizedReturn(returns, periodsPerYear) - riskFree) / vol
}

// MaxDrawdown walks the wealth curve built by compounding returns from 1 and
// returns the largest fractional decline from a running peak.
func MaxDrawdown(returns []float64) float64 {
	wealth, peak, worst := 1.0, 1.0, 0.0
	for _, r := range returns {
		wealth *= 1 + r
		if wealth > peak {
			peak = wealth
		}
		if dd := (peak - wealth) / peak; dd > worst {
			worst = dd
		}
	}
	return worst
}

// Beta is cov(asset, bench) / var(bench) over the first min(len) returns of
// each series. It returns 1 when fewer than two aligned points exist or the
// benchmark has no variance.
func Beta(asset, bench []float64) float64 {
	n := min(len(asset), len(bench))
	if n < 2 {
		return 1
	}
	a, b := asset[:n], bench[:n]
	ma, mb := mean(a), mean(b)

	var cov, v float64
	for i := range n {
		cov += (a[i] - ma) * (b[i] - mb)
		v += (b[i] - mb) * (b[i] - mb)
	}
	if v == 0 {
		return 1
	}
	return cov / v
}

// var95Index is the position of the 5th-percentile return in a sorted
// series of length n.
func var95Index(n int) int {
	return int(math.Floor(0.05 * float64(n)))
}

// ValueAtRisk95 is the historical one-period 95% VaR expressed as a
// non-negative currency loss for quantity units priced at lastPrice.
func ValueAtRisk95(returns []float64, lastPrice, quantity float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sorted := sortedCopy(returns)
	return math.Abs(sorted[var95Index(len(sorted))]) * lastPrice * quantity
}

// ConditionalValueAtRisk95 is the mean loss over the returns at or below the
// 5th percentile, in the same units as ValueAtRisk95.
func ConditionalValueAtRisk95(returns []float64, lastPrice, quantity float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sorted := sortedCopy(returns)
	tail := sorted[:var95Index(len(sorted))+1]
	return math.Abs(mean(tail)) * lastPrice * quantity
}

// Weights normalizes values so they sum to 1. A non-positive total yields
// nil.
func Weights(values []float64) []float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	if total <= 0 {
		return nil
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v / total
	}
	return out
}

// WeightedReturns averages the return series at each step by weight,
// truncated to the shortest series.
func WeightedReturns(series [][]float64, weights []float64) []float64 {
	if len(series) == 0 || len(series) != len(weights) {
		return nil
	}
	n := len(series[0])
	for _, s := range series[1:] {
		n = min(n, len(s))
	}
	out := make([]float64, n)
	for i := range n {
		for j, s := range series {
			out[i] += s[i] * weights[j]
		}
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

func sortedCopy(xs []float64) []float64 {
	out := append([]float64(nil), xs...)
	sort.Float64s(out)
	return out
}
