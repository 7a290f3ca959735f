package backtester_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/stockscan/screener-backend/internal/backtester"
)

func TestPortfolioBuyFloorsToLots(t *testing.T) {
	p := backtester.NewPortfolio(100000, 100)

	// 50000 / 33.00 = 1515.15 shares, floored to 15 lots of 100.
	ok := p.Buy("600000", "Test Bank", 33.0, "2024-01-05", decimal.NewFromInt(50000))
	if !ok {
		t.Fatal("buy rejected")
	}

	pos, ok := p.Position("600000")
	if !ok {
		t.Fatal("position not created")
	}
	if pos.Shares != 1500 {
		t.Errorf("shares = %d, want 1500", pos.Shares)
	}

	wantCash := decimal.NewFromInt(100000).Sub(decimal.NewFromFloat(33.0).Mul(decimal.NewFromInt(1500)))
	if !p.Cash().Equal(wantCash) {
		t.Errorf("cash = %s, want %s", p.Cash(), wantCash)
	}
}

func TestPortfolioBuyIdempotent(t *testing.T) {
	p := backtester.NewPortfolio(100000, 100)

	if !p.Buy("600000", "Test Bank", 10.0, "2024-01-05", decimal.NewFromInt(20000)) {
		t.Fatal("first buy rejected")
	}
	cashAfterFirst := p.Cash()

	if p.Buy("600000", "Test Bank", 12.0, "2024-01-06", decimal.NewFromInt(20000)) {
		t.Error("second buy for held code succeeded")
	}
	if !p.Cash().Equal(cashAfterFirst) {
		t.Errorf("cash changed on rejected buy: %s != %s", p.Cash(), cashAfterFirst)
	}

	pos, _ := p.Position("600000")
	if pos.EntryPrice != 10.0 || pos.EntryDate != "2024-01-05" {
		t.Errorf("original position mutated: %+v", pos)
	}
}

func TestPortfolioBuyRejectsSubLotAllocation(t *testing.T) {
	p := backtester.NewPortfolio(100000, 100)

	// 500 / 10 = 50 shares, below one lot.
	if p.Buy("600000", "Test Bank", 10.0, "2024-01-05", decimal.NewFromInt(500)) {
		t.Error("buy below one lot succeeded")
	}
	if p.HasPosition("600000") {
		t.Error("position exists after rejected buy")
	}
	if !p.Cash().Equal(decimal.NewFromInt(100000)) {
		t.Errorf("cash changed: %s", p.Cash())
	}
}

func TestPortfolioBuyRejectsOverdraft(t *testing.T) {
	p := backtester.NewPortfolio(1000, 100)

	// Allocation exceeds actual cash; one lot costs 2000.
	if p.Buy("600000", "Test Bank", 20.0, "2024-01-05", decimal.NewFromInt(5000)) {
		t.Error("buy exceeding cash succeeded")
	}
}

func TestPortfolioBuyRejectsNonPositivePrice(t *testing.T) {
	p := backtester.NewPortfolio(100000, 100)

	if p.Buy("600000", "Test Bank", 0, "2024-01-05", decimal.NewFromInt(50000)) {
		t.Error("buy at zero price succeeded")
	}
	if p.Buy("600000", "Test Bank", -1, "2024-01-05", decimal.NewFromInt(50000)) {
		t.Error("buy at negative price succeeded")
	}
}

func TestPortfolioSellRoundTrip(t *testing.T) {
	p := backtester.NewPortfolio(100000, 100)
	p.Buy("600000", "Test Bank", 10.0, "2024-01-05", decimal.NewFromInt(50000))

	trade, ok := p.Sell("600000", 11.0, "2024-01-10")
	if !ok {
		t.Fatal("sell rejected")
	}
	if trade.Shares != 5000 {
		t.Errorf("trade shares = %d, want 5000", trade.Shares)
	}
	if trade.PnL() != 5000.0 {
		t.Errorf("pnl = %f, want 5000", trade.PnL())
	}
	if p.HasPosition("600000") {
		t.Error("position still open after sell")
	}

	// 100000 - 50000 + 55000
	want := decimal.NewFromInt(105000)
	if !p.Cash().Equal(want) {
		t.Errorf("cash = %s, want %s", p.Cash(), want)
	}

	if _, ok := p.Sell("600000", 11.0, "2024-01-11"); ok {
		t.Error("second sell of closed position succeeded")
	}
}

func TestPortfolioNAVFallsBackToEntryPrice(t *testing.T) {
	p := backtester.NewPortfolio(100000, 100)
	p.Buy("600000", "Test Bank", 10.0, "2024-01-05", decimal.NewFromInt(50000))

	// No market price for the held code: mark at entry.
	nav := p.NAV(map[string]float64{})
	if nav != 100000.0 {
		t.Errorf("nav = %f, want 100000", nav)
	}

	nav = p.NAV(map[string]float64{"600000": 12.0})
	if nav != 110000.0 {
		t.Errorf("nav = %f, want 110000", nav)
	}
}

func TestPortfolioHeldCodesSorted(t *testing.T) {
	p := backtester.NewPortfolio(1000000, 100)
	for _, code := range []string{"600900", "000001", "300750"} {
		if !p.Buy(code, "", 10.0, "2024-01-05", decimal.NewFromInt(100000)) {
			t.Fatalf("buy %s rejected", code)
		}
	}

	codes := p.HeldCodes()
	want := []string{"000001", "300750", "600900"}
	if len(codes) != len(want) {
		t.Fatalf("held %d codes, want %d", len(codes), len(want))
	}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("codes[%d] = %s, want %s", i, codes[i], want[i])
		}
	}
}
