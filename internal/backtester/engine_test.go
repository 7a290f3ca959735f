package backtester_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/stockscan/screener-backend/internal/backtester"
	"github.com/stockscan/screener-backend/internal/factors"
	"github.com/stockscan/screener-backend/pkg/types"
)

func testConfig() *types.BacktestConfig {
	return &types.BacktestConfig{
		InitialCapital: 100000,
		EntryWindow:    5,
		ExitMAWindow:   5,
		LotSize:        100,
		WarmupDays:     5,
	}
}

func testCombo(fs ...factors.Factor) factors.Combination {
	ids := make([]string, len(fs))
	for i, f := range fs {
		ids[i] = f.ID()
	}
	return factors.Combination{ID: "test", Label: "Test rule", Factors: ids}
}

// bearishEvery returns n flat bars with a bearish candle every k-th
// day: open stays at price, close drops.
func bearishEvery(start string, n, k int, price float64) []types.PriceBar {
	bars := genBars(start, n, price)
	for i := range bars {
		if i > 0 && i%k == 0 {
			bars[i].Close = price - 0.5
			bars[i].Low = price - 0.5
		}
	}
	return bars
}

func TestEngineRuleNeverFires(t *testing.T) {
	f := neverPass()
	engine := backtester.NewEngine(zap.NewNop(), []factors.Factor{f}, testCombo(f))

	data := map[string][]types.PriceBar{"600000": bearishEvery("2024-01-01", 60, 5, 10)}
	result, err := engine.Run(context.Background(), testConfig(), data, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(result.Trades) != 0 {
		t.Errorf("trades = %d, want 0", len(result.Trades))
	}
	if result.FinalNav != 100000 {
		t.Errorf("final nav = %f, want initial capital", result.FinalNav)
	}
	for _, p := range result.NavHistory {
		if p.Value != 100000 {
			t.Errorf("nav on %s = %f, want flat at capital", p.Date, p.Value)
		}
	}
	if got := result.Metrics[backtester.MetricTotalTrades]; got != 0 {
		t.Errorf("total_trades metric = %f, want 0", got)
	}
}

func TestEngineEntersOnBearishCandleOnly(t *testing.T) {
	f := alwaysPass()
	engine := backtester.NewEngine(zap.NewNop(), []factors.Factor{f}, testCombo(f))

	bars := bearishEvery("2024-01-01", 100, 5, 10)
	bearishDates := make(map[string]bool)
	for i, b := range bars {
		if i > 0 && i%5 == 0 {
			bearishDates[b.Date] = true
		}
	}

	data := map[string][]types.PriceBar{"600000": bars}
	result, err := engine.Run(context.Background(), testConfig(), data, map[string]string{"600000": "Test"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(result.Trades) == 0 {
		t.Fatal("no trades executed")
	}
	for _, tr := range result.Trades {
		if !bearishDates[tr.EntryDate] {
			t.Errorf("trade entered on non-bearish day %s", tr.EntryDate)
		}
		if tr.Shares%100 != 0 {
			t.Errorf("trade shares %d not a lot multiple", tr.Shares)
		}
	}
}

func TestEngineSignalExpires(t *testing.T) {
	// Fires exactly once, on the first eligible day; the market never
	// prints a bearish candle inside the entry window.
	fired := false
	once := stubFactor{id: "once", compute: func(bars []types.PriceBar) (factors.Result, error) {
		if fired {
			return factors.Result{}, nil
		}
		fired = true
		return factors.Result{Passed: true}, nil
	}}

	bars := genBars("2024-01-01", 30, 10)
	// One bearish candle well past the entry window.
	bars[20].Close = 9.5

	engine := backtester.NewEngine(zap.NewNop(), []factors.Factor{once}, testCombo(once))
	result, err := engine.Run(context.Background(), testConfig(), map[string][]types.PriceBar{"600000": bars}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(result.Trades) != 0 {
		t.Errorf("expired signal produced trades: %+v", result.Trades)
	}
}

func TestEngineFillsWithinEntryWindow(t *testing.T) {
	fired := false
	once := stubFactor{id: "once", compute: func(bars []types.PriceBar) (factors.Result, error) {
		if fired {
			return factors.Result{}, nil
		}
		fired = true
		return factors.Result{Passed: true}, nil
	}}

	bars := genBars("2024-01-01", 30, 10)
	// Signal fires on bar 4 (first eligible); bearish candle three days
	// later, inside the 5 day window.
	bars[7].Close = 9.5

	engine := backtester.NewEngine(zap.NewNop(), []factors.Factor{once}, testCombo(once))
	result, err := engine.Run(context.Background(), testConfig(), map[string][]types.PriceBar{"600000": bars}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(result.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(result.Trades))
	}
	if result.Trades[0].EntryDate != bars[7].Date {
		t.Errorf("entry date = %s, want %s", result.Trades[0].EntryDate, bars[7].Date)
	}
	if result.Trades[0].EntryPrice != 9.5 {
		t.Errorf("entry price = %f, want the bearish close 9.5", result.Trades[0].EntryPrice)
	}
}

func TestEngineForceClosesAtEnd(t *testing.T) {
	fired := false
	once := stubFactor{id: "once", compute: func(bars []types.PriceBar) (factors.Result, error) {
		if fired {
			return factors.Result{}, nil
		}
		fired = true
		return factors.Result{Passed: true}, nil
	}}

	// Enter on bar 7, then drift upward so the close never breaks the
	// short average and the position survives to the end.
	bars := genBars("2024-01-01", 30, 10)
	bars[7].Close = 9.5
	for i := 8; i < len(bars); i++ {
		price := 10 + 0.1*float64(i-7)
		bars[i].Open = price
		bars[i].High = price
		bars[i].Low = price
		bars[i].Close = price
	}

	engine := backtester.NewEngine(zap.NewNop(), []factors.Factor{once}, testCombo(once))
	result, err := engine.Run(context.Background(), testConfig(), map[string][]types.PriceBar{"600000": bars}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(result.Trades) != 1 {
		t.Fatalf("trades = %d, want 1 forced close", len(result.Trades))
	}
	last := bars[len(bars)-1]
	if result.Trades[0].ExitDate != last.Date {
		t.Errorf("exit date = %s, want final day %s", result.Trades[0].ExitDate, last.Date)
	}
	if result.Trades[0].ExitPrice != last.Close {
		t.Errorf("exit price = %f, want final close %f", result.Trades[0].ExitPrice, last.Close)
	}
	// With no position left, final NAV is pure cash.
	finalPoint := result.NavHistory[len(result.NavHistory)-1]
	if result.FinalNav != finalPoint.Value {
		t.Errorf("final nav %f != last nav point %f", result.FinalNav, finalPoint.Value)
	}
}

func TestEngineDeterministic(t *testing.T) {
	data := map[string][]types.PriceBar{
		"600900": bearishEvery("2024-01-01", 120, 5, 10),
		"000001": bearishEvery("2024-01-01", 120, 7, 20),
		"300750": bearishEvery("2024-01-01", 120, 3, 50),
	}
	names := map[string]string{"000001": "A", "300750": "B", "600900": "C"}

	run := func() *types.BacktestResult {
		f := alwaysPass()
		engine := backtester.NewEngine(zap.NewNop(), []factors.Factor{f}, testCombo(f))
		cfg := testConfig()
		cfg.ID = "fixed"
		result, err := engine.Run(context.Background(), cfg, data, names)
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		return result
	}

	first := run()
	second := run()

	if len(first.Trades) != len(second.Trades) {
		t.Fatalf("trade counts differ: %d vs %d", len(first.Trades), len(second.Trades))
	}
	for i := range first.Trades {
		if first.Trades[i] != second.Trades[i] {
			t.Errorf("trade %d differs: %+v vs %+v", i, first.Trades[i], second.Trades[i])
		}
	}
	if len(first.NavHistory) != len(second.NavHistory) {
		t.Fatalf("nav lengths differ: %d vs %d", len(first.NavHistory), len(second.NavHistory))
	}
	for i := range first.NavHistory {
		if first.NavHistory[i] != second.NavHistory[i] {
			t.Errorf("nav %d differs: %+v vs %+v", i, first.NavHistory[i], second.NavHistory[i])
		}
	}
}

func TestEngineAdmitsSignalAfterEntries(t *testing.T) {
	// A signal admitted today must not fill today even when today's
	// candle is bearish; the earliest fill is tomorrow.
	f := alwaysPass()
	engine := backtester.NewEngine(zap.NewNop(), []factors.Factor{f}, testCombo(f))

	bars := genBars("2024-01-01", 10, 10)
	// Every day bearish from the first eligible day onward.
	for i := 4; i < len(bars); i++ {
		bars[i].Close = 9.5
	}

	result, err := engine.Run(context.Background(), testConfig(), map[string][]types.PriceBar{"600000": bars}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.Trades) == 0 {
		t.Fatal("no trades executed")
	}
	// First eligible (and signal) day is bar 4; earliest entry is bar 5.
	if got := result.Trades[0].EntryDate; got != bars[5].Date {
		t.Errorf("first entry = %s, want %s", got, bars[5].Date)
	}
}

func TestEngineContextCancellation(t *testing.T) {
	f := alwaysPass()
	engine := backtester.NewEngine(zap.NewNop(), []factors.Factor{f}, testCombo(f))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	data := map[string][]types.PriceBar{"600000": genBars("2024-01-01", 30, 10)}
	start := time.Now()
	if _, err := engine.Run(ctx, testConfig(), data, nil); err == nil {
		t.Error("run with cancelled context returned no error")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("cancelled run did not return promptly")
	}
}
