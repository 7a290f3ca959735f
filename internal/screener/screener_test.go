package screener_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/stockscan/screener-backend/internal/factors"
	"github.com/stockscan/screener-backend/internal/screener"
	"github.com/stockscan/screener-backend/pkg/types"
)

type fixedFactor struct {
	id     string
	passed bool
	err    error
}

func (f fixedFactor) ID() string    { return f.id }
func (f fixedFactor) Label() string { return f.id }
func (f fixedFactor) Compute(bars []types.PriceBar) (factors.Result, error) {
	if f.err != nil {
		return factors.Result{}, f.err
	}
	return factors.Result{Passed: f.passed}, nil
}

func flatBars(n int) []types.PriceBar {
	day, _ := time.Parse(types.DateLayout, "2024-01-01")
	bars := make([]types.PriceBar, n)
	for i := range bars {
		bars[i] = types.PriceBar{
			Date:  day.AddDate(0, 0, i).Format(types.DateLayout),
			Open:  10,
			Close: 10,
		}
	}
	return bars
}

func TestScreenerMatchesAndSkips(t *testing.T) {
	fs := []factors.Factor{
		fixedFactor{id: "yes", passed: true},
		fixedFactor{id: "no", passed: false},
	}
	combos := []factors.Combination{
		{ID: "passing", Factors: []string{"yes"}},
		{ID: "failing", Factors: []string{"yes", "no"}},
	}

	data := map[string][]types.PriceBar{
		"600000": flatBars(70),
		"000001": flatBars(70),
		"tiny":   flatBars(5),
	}
	names := map[string]string{"600000": "A", "000001": "B"}

	s := screener.NewScreener(zap.NewNop(), fs, combos, 61)
	report, err := s.Run(context.Background(), data, names)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if report.Instruments != 3 {
		t.Errorf("instruments = %d, want 3", report.Instruments)
	}
	if report.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", report.Skipped)
	}
	if len(report.Combos) != 2 {
		t.Fatalf("combos = %d, want 2", len(report.Combos))
	}

	var passing, failing *screener.ComboReport
	for i := range report.Combos {
		switch report.Combos[i].Combination.ID {
		case "passing":
			passing = &report.Combos[i]
		case "failing":
			failing = &report.Combos[i]
		}
	}
	if passing == nil || failing == nil {
		t.Fatal("combo reports missing")
	}

	if len(passing.Matches) != 2 {
		t.Fatalf("passing matches = %d, want 2", len(passing.Matches))
	}
	if passing.Matches[0].Code != "000001" || passing.Matches[1].Code != "600000" {
		t.Errorf("matches not sorted by code: %+v", passing.Matches)
	}
	if passing.Matches[1].Name != "A" {
		t.Errorf("match name = %q, want A", passing.Matches[1].Name)
	}
	if len(failing.Matches) != 0 {
		t.Errorf("failing combo has %d matches, want 0", len(failing.Matches))
	}
}

func TestScreenerFactorErrorFailsScan(t *testing.T) {
	fs := []factors.Factor{fixedFactor{id: "boom", err: errors.New("bad input")}}
	combos := []factors.Combination{{ID: "c", Factors: []string{"boom"}}}

	data := map[string][]types.PriceBar{"600000": flatBars(70)}

	s := screener.NewScreener(zap.NewNop(), fs, combos, 61)
	if _, err := s.Run(context.Background(), data, nil); err == nil {
		t.Fatal("factor error did not fail the scan")
	}
}

func TestScreenerScanDateIsLatestRow(t *testing.T) {
	fs := []factors.Factor{fixedFactor{id: "yes", passed: true}}
	combos := []factors.Combination{{ID: "c", Factors: []string{"yes"}}}

	data := map[string][]types.PriceBar{
		"600000": flatBars(70),
		"000001": flatBars(65),
	}

	s := screener.NewScreener(zap.NewNop(), fs, combos, 61)
	report, err := s.Run(context.Background(), data, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	longest := flatBars(70)
	if report.ScanDate != longest[69].Date {
		t.Errorf("scan date = %s, want %s", report.ScanDate, longest[69].Date)
	}
}
