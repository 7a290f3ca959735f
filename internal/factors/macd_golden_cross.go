package factors

import (
	"fmt"

	"github.com/stockscan/screener-backend/pkg/types"
)

// MACDGoldenCross passes when the MACD line crossed above its signal
// line within the last CheckDays trading days.
type MACDGoldenCross struct {
	CheckDays    int
	FastPeriod   int
	SlowPeriod   int
	SignalPeriod int
}

func NewMACDGoldenCross(checkDays, fast, slow, signal int) *MACDGoldenCross {
	return &MACDGoldenCross{CheckDays: checkDays, FastPeriod: fast, SlowPeriod: slow, SignalPeriod: signal}
}

func (f *MACDGoldenCross) ID() string    { return "macd_golden_cross" }
func (f *MACDGoldenCross) Label() string { return "MACD golden cross" }

func (f *MACDGoldenCross) Compute(bars []types.PriceBar) (Result, error) {
	minData := f.SlowPeriod + f.SignalPeriod + f.CheckDays
	if len(bars) < minData {
		return Result{Detail: fmt.Sprintf("fewer than %d rows", minData)}, nil
	}

	closes := Closes(bars)
	fast := EMA(closes, f.FastPeriod)
	slow := EMA(closes, f.SlowPeriod)
	macd := make([]float64, len(closes))
	for i := range macd {
		macd[i] = fast[i] - slow[i]
	}
	signal := EMA(macd, f.SignalPeriod)

	// Scan the last CheckDays transitions for a cross from below.
	start := len(closes) - f.CheckDays - 1
	crossIdx := -1
	for i := start + 1; i < len(closes); i++ {
		prev := macd[i-1] - signal[i-1]
		curr := macd[i] - signal[i]
		if prev < 0 && curr >= 0 {
			crossIdx = i
			break
		}
	}

	if crossIdx < 0 {
		return Result{Detail: fmt.Sprintf("no golden cross in last %d days", f.CheckDays)}, nil
	}
	daysAgo := float64(len(closes) - 1 - crossIdx)
	return Result{
		Passed: true,
		Value:  ptr(daysAgo),
		Detail: fmt.Sprintf("golden cross %.0f days ago", daysAgo),
	}, nil
}
