package factors

import (
	"fmt"

	"github.com/stockscan/screener-backend/pkg/types"
)

// TurnoverRange passes when the average turnover rate over the last
// CheckDays days falls inside [MinRate, MaxRate] percent. Liquidity
// filter: too quiet means no fill, too hot means a crowded name.
type TurnoverRange struct {
	CheckDays int
	MinRate   float64
	MaxRate   float64
}

func NewTurnoverRange(checkDays int, minRate, maxRate float64) *TurnoverRange {
	return &TurnoverRange{CheckDays: checkDays, MinRate: minRate, MaxRate: maxRate}
}

func (f *TurnoverRange) ID() string    { return "turnover_range" }
func (f *TurnoverRange) Label() string { return "Turnover in range" }

func (f *TurnoverRange) Compute(bars []types.PriceBar) (Result, error) {
	if len(bars) < f.CheckDays {
		return Result{Detail: fmt.Sprintf("fewer than %d rows", f.CheckDays)}, nil
	}

	var sum float64
	n := 0
	for _, b := range bars[len(bars)-f.CheckDays:] {
		if b.Turnover <= 0 {
			continue
		}
		sum += b.Turnover
		n++
	}
	if n == 0 {
		return Result{Detail: "no turnover data"}, nil
	}

	avg := sum / float64(n)
	passed := avg >= f.MinRate && avg <= f.MaxRate

	var detail string
	switch {
	case avg < f.MinRate:
		detail = fmt.Sprintf("turnover too low: %.2f%% < %.2f%%", avg, f.MinRate)
	case avg > f.MaxRate:
		detail = fmt.Sprintf("turnover too high: %.2f%% > %.2f%%", avg, f.MaxRate)
	default:
		detail = fmt.Sprintf("avg turnover %.2f%%", avg)
	}

	return Result{Passed: passed, Value: ptr(round2(avg)), Detail: detail}, nil
}
