package factors

import (
	"fmt"

	"github.com/stockscan/screener-backend/pkg/types"
)

// NDayReturn passes when the cumulative return over the last Days
// trading days falls inside [MinReturn, MaxReturn] percent.
type NDayReturn struct {
	Days      int
	MinReturn float64
	MaxReturn float64
}

func NewNDayReturn(days int, minReturn, maxReturn float64) *NDayReturn {
	return &NDayReturn{Days: days, MinReturn: minReturn, MaxReturn: maxReturn}
}

func (f *NDayReturn) ID() string    { return "n_day_return" }
func (f *NDayReturn) Label() string { return "N-day return in range" }

func (f *NDayReturn) Compute(bars []types.PriceBar) (Result, error) {
	if len(bars) < f.Days {
		return Result{Detail: fmt.Sprintf("fewer than %d rows", f.Days)}, nil
	}

	recent := bars[len(bars)-f.Days:]
	start := recent[0].Close
	end := recent[len(recent)-1].Close
	if start <= 0 {
		return Result{Detail: "invalid start price"}, nil
	}

	returnPct := (end - start) / start * 100
	passed := returnPct >= f.MinReturn && returnPct <= f.MaxReturn

	var detail string
	switch {
	case returnPct < f.MinReturn:
		detail = fmt.Sprintf("%d-day drop too deep: %.2f%% < %.2f%%", f.Days, returnPct, f.MinReturn)
	case returnPct > f.MaxReturn:
		detail = fmt.Sprintf("%d-day gain too steep: %.2f%% > %.2f%%", f.Days, returnPct, f.MaxReturn)
	default:
		detail = fmt.Sprintf("%d-day return %.2f%%", f.Days, returnPct)
	}

	return Result{Passed: passed, Value: ptr(round2(returnPct)), Detail: detail}, nil
}
