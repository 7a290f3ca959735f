package backtester

import (
	"math"

	"github.com/stockscan/screener-backend/pkg/types"
)

// Metric keys produced by the calculator. Trade-dependent keys are
// absent when there are no trades; annualized return needs more than
// one NAV point.
const (
	MetricTotalReturnPct      = "total_return_pct"
	MetricAnnualizedReturnPct = "annualized_return_pct"
	MetricMaxDrawdownPct      = "max_drawdown_pct"
	MetricTotalTrades         = "total_trades"
	MetricWinRatePct          = "win_rate_pct"
	MetricProfitLossRatio     = "profit_loss_ratio"
	MetricAvgHoldingDays      = "avg_holding_days"
	MetricMaxWinPct           = "max_win_pct"
	MetricMaxLossPct          = "max_loss_pct"
)

// tradingDaysPerYear is the compounding basis for annualized returns.
const tradingDaysPerYear = 250.0

// MetricsCalculator derives performance statistics from a finished
// run. It holds no state; calling Calculate twice with the same inputs
// yields identical output.
type MetricsCalculator struct{}

func NewMetricsCalculator() *MetricsCalculator {
	return &MetricsCalculator{}
}

// Calculate computes the metrics mapping for a run. An empty NAV
// series yields an empty mapping, never an error.
func (mc *MetricsCalculator) Calculate(trades []types.Trade, nav []types.NavPoint, initialCapital float64) types.Metrics {
	metrics := make(types.Metrics)
	if len(nav) == 0 {
		return metrics
	}

	finalNav := nav[len(nav)-1].Value
	metrics[MetricTotalReturnPct] = round2((finalNav - initialCapital) / initialCapital * 100)

	if len(nav) > 1 {
		annualFactor := tradingDaysPerYear / float64(len(nav))
		annualized := (math.Pow(finalNav/initialCapital, annualFactor) - 1) * 100
		metrics[MetricAnnualizedReturnPct] = round2(annualized)
	}

	// Drawdown peak is seeded with initial capital, so a curve that
	// starts under water is counted from day one.
	peak := initialCapital
	maxDD := 0.0
	for _, point := range nav {
		if point.Value > peak {
			peak = point.Value
		}
		dd := (peak - point.Value) / peak * 100
		if dd > maxDD {
			maxDD = dd
		}
	}
	metrics[MetricMaxDrawdownPct] = round2(maxDD)

	metrics[MetricTotalTrades] = float64(len(trades))
	if len(trades) == 0 {
		return metrics
	}

	var (
		winSum, lossSum   float64
		winners, losers   int
		holdingSum        int
		maxWin            = math.Inf(-1)
		maxLoss           = math.Inf(1)
	)
	for _, t := range trades {
		ret := t.ReturnPct()
		if ret > 0 {
			winners++
			winSum += ret
		} else {
			losers++
			lossSum += ret
		}
		holdingSum += t.HoldingDays()
		maxWin = math.Max(maxWin, ret)
		maxLoss = math.Min(maxLoss, ret)
	}

	metrics[MetricWinRatePct] = round2(float64(winners) / float64(len(trades)) * 100)

	avgWin := 0.0
	if winners > 0 {
		avgWin = winSum / float64(winners)
	}
	if losers > 0 {
		avgLoss := math.Abs(lossSum / float64(losers))
		if avgLoss > 0 {
			metrics[MetricProfitLossRatio] = round2(avgWin / avgLoss)
		} else {
			metrics[MetricProfitLossRatio] = math.Inf(1)
		}
	} else {
		// No losers: the ratio is unbounded.
		metrics[MetricProfitLossRatio] = math.Inf(1)
	}

	metrics[MetricAvgHoldingDays] = round1(float64(holdingSum) / float64(len(trades)))
	metrics[MetricMaxWinPct] = round2(maxWin)
	metrics[MetricMaxLossPct] = round2(maxLoss)

	return metrics
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}
