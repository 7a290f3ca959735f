// Package report renders finished backtest runs for terminals and
// exports trade blotters as CSV.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/stockscan/screener-backend/internal/backtester"
	"github.com/stockscan/screener-backend/pkg/types"
)

// metricRow pairs a metric key with its display label, in print order.
var metricRows = []struct {
	key   string
	label string
}{
	{backtester.MetricTotalReturnPct, "Total return"},
	{backtester.MetricAnnualizedReturnPct, "Annualized return"},
	{backtester.MetricMaxDrawdownPct, "Max drawdown"},
	{backtester.MetricTotalTrades, "Total trades"},
	{backtester.MetricWinRatePct, "Win rate"},
	{backtester.MetricProfitLossRatio, "Profit/loss ratio"},
	{backtester.MetricAvgHoldingDays, "Avg holding days"},
	{backtester.MetricMaxWinPct, "Best trade"},
	{backtester.MetricMaxLossPct, "Worst trade"},
}

// WriteSummary prints a human-readable run summary to w.
func WriteSummary(w io.Writer, res *types.BacktestResult) {
	fmt.Fprintf(w, "Backtest %s\n", res.ID)
	fmt.Fprintf(w, "  Rule:      %s (%s)\n", res.CombinationLabel, res.CombinationID)
	fmt.Fprintf(w, "  Period:    %s to %s\n", res.StartDate, res.EndDate)
	fmt.Fprintf(w, "  Capital:   %s\n", money(res.InitialCapital))
	fmt.Fprintf(w, "  Final NAV: %s\n", money(res.FinalNav))
	fmt.Fprintf(w, "  Duration:  %s\n", res.Duration)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Metrics")
	for _, row := range metricRows {
		v, ok := res.Metrics[row.key]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "  %-18s %s\n", row.label, formatMetric(row.key, v))
	}
	fmt.Fprintln(w)

	if len(res.Trades) == 0 {
		fmt.Fprintln(w, "No trades executed.")
		return
	}

	fmt.Fprintln(w, "Trades")
	fmt.Fprintf(w, "  %-10s %-12s %-12s %10s %10s %8s %10s %8s\n",
		"code", "entry", "exit", "buy", "sell", "shares", "pnl", "ret%")
	for _, t := range sortedTrades(res.Trades) {
		fmt.Fprintf(w, "  %-10s %-12s %-12s %10.2f %10.2f %8d %10s %8.2f\n",
			t.Code, t.EntryDate, t.ExitDate, t.EntryPrice, t.ExitPrice, t.Shares,
			money(t.PnL()), t.ReturnPct())
	}
}

// WriteTradesCSV writes the trade blotter as CSV, one closed trade per
// row, entry date ascending.
func WriteTradesCSV(w io.Writer, trades []types.Trade) error {
	cw := csv.NewWriter(w)
	header := []string{"code", "name", "entry_date", "entry_price", "exit_date", "exit_price", "shares", "pnl", "return_pct", "holding_days"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, t := range sortedTrades(trades) {
		rec := []string{
			t.Code,
			t.Name,
			t.EntryDate,
			strconv.FormatFloat(t.EntryPrice, 'f', 4, 64),
			t.ExitDate,
			strconv.FormatFloat(t.ExitPrice, 'f', 4, 64),
			strconv.FormatInt(t.Shares, 10),
			money(t.PnL()),
			strconv.FormatFloat(t.ReturnPct(), 'f', 2, 64),
			strconv.Itoa(t.HoldingDays()),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write csv row %s: %w", t.Code, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteNavCSV writes the NAV series as CSV.
func WriteNavCSV(w io.Writer, nav []types.NavPoint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"date", "nav"}); err != nil {
		return err
	}
	for _, p := range nav {
		if err := cw.Write([]string{p.Date, money(p.Value)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func sortedTrades(trades []types.Trade) []types.Trade {
	out := make([]types.Trade, len(trades))
	copy(out, trades)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].EntryDate != out[j].EntryDate {
			return out[i].EntryDate < out[j].EntryDate
		}
		return out[i].Code < out[j].Code
	})
	return out
}

func money(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

func formatMetric(key string, v float64) string {
	if math.IsInf(v, 1) {
		return "inf"
	}
	switch key {
	case backtester.MetricTotalTrades:
		return strconv.Itoa(int(v))
	case backtester.MetricProfitLossRatio:
		return strconv.FormatFloat(v, 'f', 2, 64)
	case backtester.MetricAvgHoldingDays:
		return strconv.FormatFloat(v, 'f', 1, 64)
	default:
		return strconv.FormatFloat(v, 'f', 2, 64) + "%"
	}
}
