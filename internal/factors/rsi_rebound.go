package factors

import (
	"fmt"
	"math"

	"github.com/stockscan/screener-backend/pkg/types"
)

// RSIRebound passes when the RSI crossed upward through the oversold
// threshold within the last CheckDays trading days.
type RSIRebound struct {
	Period    int
	Oversold  float64
	CheckDays int
}

func NewRSIRebound(period int, oversold float64, checkDays int) *RSIRebound {
	return &RSIRebound{Period: period, Oversold: oversold, CheckDays: checkDays}
}

func (f *RSIRebound) ID() string    { return "rsi_rebound" }
func (f *RSIRebound) Label() string { return "RSI oversold rebound" }

func (f *RSIRebound) Compute(bars []types.PriceBar) (Result, error) {
	minData := f.Period + f.CheckDays + 1
	if len(bars) < minData {
		return Result{Detail: fmt.Sprintf("fewer than %d rows", minData)}, nil
	}

	rsi := RSI(Closes(bars), f.Period)

	crossed := false
	for i := len(rsi) - f.CheckDays; i < len(rsi); i++ {
		prev, curr := rsi[i-1], rsi[i]
		if math.IsNaN(prev) || math.IsNaN(curr) {
			continue
		}
		if prev < f.Oversold && curr >= f.Oversold {
			crossed = true
			break
		}
	}

	latest := rsi[len(rsi)-1]
	var value *float64
	if !math.IsNaN(latest) {
		value = ptr(round2(latest))
	}
	if !crossed {
		return Result{Value: value, Detail: fmt.Sprintf("no oversold cross in last %d days", f.CheckDays)}, nil
	}
	return Result{Passed: true, Value: value, Detail: fmt.Sprintf("crossed above %.0f", f.Oversold)}, nil
}
