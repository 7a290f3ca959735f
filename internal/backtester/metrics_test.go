package backtester_test

import (
	"math"
	"testing"

	"github.com/stockscan/screener-backend/internal/backtester"
	"github.com/stockscan/screener-backend/pkg/types"
)

func TestMetricsDrawdown(t *testing.T) {
	mc := backtester.NewMetricsCalculator()

	nav := []types.NavPoint{
		{Date: "2024-01-02", Value: 100000},
		{Date: "2024-01-03", Value: 110000},
		{Date: "2024-01-04", Value: 99000},
		{Date: "2024-01-05", Value: 105000},
	}
	m := mc.Calculate(nil, nav, 100000)

	if got := m[backtester.MetricMaxDrawdownPct]; got != 10.0 {
		t.Errorf("max drawdown = %f, want 10.0", got)
	}
	if got := m[backtester.MetricTotalReturnPct]; got != 5.0 {
		t.Errorf("total return = %f, want 5.0", got)
	}
	if got := m[backtester.MetricTotalTrades]; got != 0 {
		t.Errorf("total trades = %f, want 0", got)
	}
	if _, ok := m[backtester.MetricWinRatePct]; ok {
		t.Error("win rate present with zero trades")
	}
}

func TestMetricsDrawdownSeededWithInitialCapital(t *testing.T) {
	mc := backtester.NewMetricsCalculator()

	// Curve starts under water: the peak must be the initial capital,
	// not the first point.
	nav := []types.NavPoint{
		{Date: "2024-01-02", Value: 90000},
		{Date: "2024-01-03", Value: 95000},
	}
	m := mc.Calculate(nil, nav, 100000)

	if got := m[backtester.MetricMaxDrawdownPct]; got != 10.0 {
		t.Errorf("max drawdown = %f, want 10.0", got)
	}
}

func TestMetricsWinRateAndProfitLossRatio(t *testing.T) {
	mc := backtester.NewMetricsCalculator()

	trades := []types.Trade{
		{Code: "A", EntryDate: "2024-01-02", ExitDate: "2024-01-12", EntryPrice: 10, ExitPrice: 12, Shares: 100},
		{Code: "B", EntryDate: "2024-01-02", ExitDate: "2024-01-12", EntryPrice: 10, ExitPrice: 12, Shares: 100},
		{Code: "C", EntryDate: "2024-01-02", ExitDate: "2024-01-12", EntryPrice: 10, ExitPrice: 8, Shares: 100},
	}
	nav := []types.NavPoint{
		{Date: "2024-01-02", Value: 100000},
		{Date: "2024-01-12", Value: 102000},
	}
	m := mc.Calculate(trades, nav, 100000)

	if got := m[backtester.MetricWinRatePct]; got != 66.67 {
		t.Errorf("win rate = %f, want 66.67", got)
	}
	// avg win 20%, avg loss 20%.
	if got := m[backtester.MetricProfitLossRatio]; got != 1.0 {
		t.Errorf("profit/loss ratio = %f, want 1.0", got)
	}
	if got := m[backtester.MetricAvgHoldingDays]; got != 10.0 {
		t.Errorf("avg holding days = %f, want 10.0", got)
	}
	if got := m[backtester.MetricMaxWinPct]; got != 20.0 {
		t.Errorf("max win = %f, want 20.0", got)
	}
	if got := m[backtester.MetricMaxLossPct]; got != -20.0 {
		t.Errorf("max loss = %f, want -20.0", got)
	}
}

func TestMetricsProfitLossRatioUnboundedWithoutLosers(t *testing.T) {
	mc := backtester.NewMetricsCalculator()

	trades := []types.Trade{
		{Code: "A", EntryDate: "2024-01-02", ExitDate: "2024-01-12", EntryPrice: 10, ExitPrice: 11, Shares: 100},
	}
	nav := []types.NavPoint{{Date: "2024-01-12", Value: 100100}}
	m := mc.Calculate(trades, nav, 100000)

	if got := m[backtester.MetricProfitLossRatio]; !math.IsInf(got, 1) {
		t.Errorf("profit/loss ratio = %f, want +Inf", got)
	}
}

func TestMetricsBreakEvenCountsAsLoss(t *testing.T) {
	mc := backtester.NewMetricsCalculator()

	trades := []types.Trade{
		{Code: "A", EntryDate: "2024-01-02", ExitDate: "2024-01-12", EntryPrice: 10, ExitPrice: 10, Shares: 100},
	}
	nav := []types.NavPoint{{Date: "2024-01-12", Value: 100000}}
	m := mc.Calculate(trades, nav, 100000)

	if got := m[backtester.MetricWinRatePct]; got != 0.0 {
		t.Errorf("win rate = %f, want 0 for a break-even trade", got)
	}
}

func TestMetricsEmptyNav(t *testing.T) {
	mc := backtester.NewMetricsCalculator()

	m := mc.Calculate(nil, nil, 100000)
	if len(m) != 0 {
		t.Errorf("metrics for empty nav = %v, want empty", m)
	}
}

func TestMetricsPure(t *testing.T) {
	mc := backtester.NewMetricsCalculator()

	trades := []types.Trade{
		{Code: "A", EntryDate: "2024-01-02", ExitDate: "2024-01-12", EntryPrice: 10, ExitPrice: 12, Shares: 100},
	}
	nav := []types.NavPoint{
		{Date: "2024-01-02", Value: 100000},
		{Date: "2024-01-12", Value: 100200},
	}

	first := mc.Calculate(trades, nav, 100000)
	second := mc.Calculate(trades, nav, 100000)
	if len(first) != len(second) {
		t.Fatalf("metric counts differ: %d vs %d", len(first), len(second))
	}
	for k, v := range first {
		if second[k] != v {
			t.Errorf("metric %s differs between runs: %f vs %f", k, v, second[k])
		}
	}
}
