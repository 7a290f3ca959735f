package backtester

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/stockscan/screener-backend/internal/factors"
	"github.com/stockscan/screener-backend/pkg/types"
)

// GridPoint is one parameterization of the simulator to evaluate.
type GridPoint struct {
	EntryWindow  int `json:"entryWindow"`
	ExitMAWindow int `json:"exitMAWindow"`
	MaxHoldDays  int `json:"maxHoldDays"`
}

// GridResult pairs a parameterization with the run it produced.
type GridResult struct {
	Point   GridPoint     `json:"point"`
	Metrics types.Metrics `json:"metrics"`
	Trades  int           `json:"trades"`
}

// GridSearch runs the engine once per parameter point over the same
// data and rule, and ranks the outcomes. Points run sequentially: the
// per-run signal scan already saturates the CPUs.
type GridSearch struct {
	logger  *zap.Logger
	factors []factors.Factor
	combo   factors.Combination
}

func NewGridSearch(logger *zap.Logger, fs []factors.Factor, combo factors.Combination) *GridSearch {
	return &GridSearch{logger: logger, factors: fs, combo: combo}
}

// Run evaluates every point and returns the results sorted by total
// return, best first. The base config supplies everything a point does
// not override.
func (g *GridSearch) Run(ctx context.Context, base types.BacktestConfig, points []GridPoint, data map[string][]types.PriceBar, names map[string]string) ([]GridResult, error) {
	results := make([]GridResult, 0, len(points))

	for i, pt := range points {
		cfg := base
		cfg.ID = fmt.Sprintf("%s-grid-%d", base.CombinationID, i)
		cfg.EntryWindow = pt.EntryWindow
		cfg.ExitMAWindow = pt.ExitMAWindow
		cfg.MaxHoldDays = pt.MaxHoldDays

		engine := NewEngine(g.logger, g.factors, g.combo)
		res, err := engine.Run(ctx, &cfg, data, names)
		if err != nil {
			return nil, fmt.Errorf("grid point %d: %w", i, err)
		}

		g.logger.Info("grid point done",
			zap.Int("point", i),
			zap.Int("entryWindow", pt.EntryWindow),
			zap.Int("exitMAWindow", pt.ExitMAWindow),
			zap.Float64("totalReturnPct", res.Metrics[MetricTotalReturnPct]),
			zap.Int("trades", len(res.Trades)),
		)
		results = append(results, GridResult{Point: pt, Metrics: res.Metrics, Trades: len(res.Trades)})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Metrics[MetricTotalReturnPct] > results[j].Metrics[MetricTotalReturnPct]
	})
	return results, nil
}
