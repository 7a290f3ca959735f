package factors

import (
	"fmt"
	"math"

	"github.com/stockscan/screener-backend/pkg/types"
)

// MA60Monotonic passes when the 60-day moving average never declines
// over its available history and has gained at least MinChangePct in
// total.
type MA60Monotonic struct {
	MinDays      int
	MinChangePct float64
}

func NewMA60Monotonic(minDays int, minChangePct float64) *MA60Monotonic {
	return &MA60Monotonic{MinDays: minDays, MinChangePct: minChangePct}
}

func (f *MA60Monotonic) ID() string    { return "ma60_monotonic" }
func (f *MA60Monotonic) Label() string { return "MA60 monotonic rise" }

func (f *MA60Monotonic) Compute(bars []types.PriceBar) (Result, error) {
	if len(bars) < 60 {
		return Result{Detail: "fewer than 60 rows"}, nil
	}
	ma60 := MA(Closes(bars), 60)

	var series []float64
	for _, v := range ma60 {
		if !math.IsNaN(v) {
			series = append(series, v)
		}
	}
	if len(series) < f.MinDays {
		return Result{Detail: fmt.Sprintf("fewer than %d MA60 points", f.MinDays)}, nil
	}

	downDays := 0
	for i := 1; i < len(series); i++ {
		if series[i] < series[i-1] {
			downDays++
		}
	}

	changePct := (series[len(series)-1] - series[0]) / series[0] * 100
	passed := downDays == 0 && changePct >= f.MinChangePct

	var detail string
	switch {
	case downDays > 0:
		detail = fmt.Sprintf("not monotonic: %d down days", downDays)
	case changePct < f.MinChangePct:
		detail = fmt.Sprintf("gain %.2f%% below %.2f%%", changePct, f.MinChangePct)
	default:
		detail = fmt.Sprintf("gain %.2f%%", changePct)
	}

	return Result{Passed: passed, Value: ptr(round2(changePct)), Detail: detail}, nil
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
