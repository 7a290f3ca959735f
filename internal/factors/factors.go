// Package factors provides the pluggable screening-rule system: atomic
// factor predicates evaluated over an instrument's price history, and
// combinations that AND them together.
package factors

import "github.com/stockscan/screener-backend/pkg/types"

// Result is the outcome of evaluating one factor against one price
// history. Value is nil when the factor has nothing meaningful to show.
type Result struct {
	Passed bool     `json:"passed"`
	Value  *float64 `json:"value,omitempty"`
	Detail string   `json:"detail,omitempty"`
}

// Factor is an atomic screening predicate. Compute receives the price
// history up to and including the decision day, ascending by date, and
// must never inspect anything beyond it. A returned error aborts the
// whole run; insufficient history is a failed Result, not an error.
type Factor interface {
	ID() string
	Label() string
	Compute(bars []types.PriceBar) (Result, error)
}

// Combination is an ordered set of factor IDs. An instrument passes a
// combination only when every listed factor passes (pure conjunction).
type Combination struct {
	ID          string   `json:"id"`
	Label       string   `json:"label"`
	Description string   `json:"description,omitempty"`
	Factors     []string `json:"factors"`
}

// Evaluate reports whether all listed factors passed.
func (c Combination) Evaluate(results map[string]Result) bool {
	for _, id := range c.Factors {
		r, ok := results[id]
		if !ok || !r.Passed {
			return false
		}
	}
	return true
}

// FailedFactors returns the listed factor IDs that did not pass.
func (c Combination) FailedFactors(results map[string]Result) []string {
	var failed []string
	for _, id := range c.Factors {
		if r, ok := results[id]; !ok || !r.Passed {
			failed = append(failed, id)
		}
	}
	return failed
}

// Resolve maps a combination's factor IDs to concrete factors from the
// given list, preserving the combination's order. Unknown IDs are
// skipped; the caller decides whether a short list is acceptable.
func Resolve(c Combination, available []Factor) []Factor {
	byID := make(map[string]Factor, len(available))
	for _, f := range available {
		byID[f.ID()] = f
	}
	resolved := make([]Factor, 0, len(c.Factors))
	for _, id := range c.Factors {
		if f, ok := byID[id]; ok {
			resolved = append(resolved, f)
		}
	}
	return resolved
}

// DefaultFactors returns the built-in factor set with default
// parameters. Callers inject these explicitly; there is no global
// registry.
func DefaultFactors() []Factor {
	return []Factor{
		NewMA60Monotonic(10, 1.0),
		NewMACDGoldenCross(2, 12, 26, 9),
		NewRSIRebound(14, 35, 3),
		NewTurnoverRange(5, 1.0, 10.0),
		NewNDayReturn(20, -5.0, 15.0),
	}
}

// DefaultCombinations returns the built-in rule combinations.
func DefaultCombinations() []Combination {
	return []Combination{
		{
			ID:          "ma60_trend_macd",
			Label:       "MA60 uptrend + MACD cross",
			Description: "Rising 60-day average with a recent MACD golden cross",
			Factors:     []string{"ma60_monotonic", "macd_golden_cross"},
		},
		{
			ID:          "oversold_rebound",
			Label:       "RSI rebound with healthy turnover",
			Description: "RSI crossing up out of oversold with moderate turnover",
			Factors:     []string{"rsi_rebound", "turnover_range"},
		},
		{
			ID:          "trend_pullback",
			Label:       "Uptrend pullback",
			Description: "Rising MA60 with contained 20-day return",
			Factors:     []string{"ma60_monotonic", "n_day_return", "turnover_range"},
		},
	}
}

func ptr(v float64) *float64 { return &v }
