package backtester

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stockscan/screener-backend/internal/factors"
	"github.com/stockscan/screener-backend/pkg/types"
)

// Engine is the historical trade simulator. It runs in two phases:
// signal detection over every instrument's history, then a strictly
// sequential day-by-day simulation that turns fired signals into
// simulated trades and a net-asset-value series.
type Engine struct {
	logger      *zap.Logger
	factors     []factors.Factor
	combo       factors.Combination
	metricsCalc *MetricsCalculator

	running   atomic.Bool
	cancelled atomic.Bool

	mu       sync.RWMutex
	current  *types.BacktestProgress
	progress chan *types.BacktestProgress
}

// NewEngine creates an engine over a fully-resolved factor list and
// its combination. Factors are injected, never looked up from shared
// state, so two engines can run different parameterizations at once.
func NewEngine(logger *zap.Logger, fs []factors.Factor, combo factors.Combination) *Engine {
	return &Engine{
		logger:      logger,
		factors:     fs,
		combo:       combo,
		metricsCalc: NewMetricsCalculator(),
		progress:    make(chan *types.BacktestProgress, 64),
	}
}

// ProgressChan returns the progress stream. Updates are dropped, not
// blocked on, when the consumer falls behind; a terminal update is
// always attempted.
func (e *Engine) ProgressChan() <-chan *types.BacktestProgress {
	return e.progress
}

// Cancel requests a running simulation to stop at the next day
// boundary.
func (e *Engine) Cancel() {
	e.cancelled.Store(true)
}

// Progress returns the latest progress snapshot, or nil before the
// first run.
func (e *Engine) Progress() *types.BacktestProgress {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

// Run executes a backtest over the given per-instrument price tables.
// Degenerate inputs (no instruments, a rule that never fires, an empty
// date range) produce an empty result, never an error; a factor
// evaluation failure aborts the run.
func (e *Engine) Run(ctx context.Context, cfg *types.BacktestConfig, data map[string][]types.PriceBar, names map[string]string) (*types.BacktestResult, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("backtest already running")
	}
	defer e.running.Store(false)
	e.cancelled.Store(false)

	cfg.Normalize()
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	startedAt := time.Now()

	e.logger.Info("starting backtest",
		zap.String("id", cfg.ID),
		zap.String("combination", e.combo.ID),
		zap.Int("instruments", len(data)),
	)

	e.sendProgress(&types.BacktestProgress{ID: cfg.ID, Status: "running", Phase: "signals"})

	detector := NewDetector(e.logger, e.factors, cfg.WarmupDays)
	signals, err := detector.Detect(ctx, data, names, cfg.StartDate, cfg.EndDate)
	if err != nil {
		e.sendProgress(&types.BacktestProgress{ID: cfg.ID, Status: "failed", Phase: "signals"})
		return nil, fmt.Errorf("signal detection: %w", err)
	}

	dates := tradingDates(data, cfg.StartDate, cfg.EndDate)
	sim := newSimulation(cfg, data)

	for i, date := range dates {
		select {
		case <-ctx.Done():
			e.sendProgress(&types.BacktestProgress{ID: cfg.ID, Status: "cancelled"})
			return nil, ctx.Err()
		default:
		}
		if e.cancelled.Load() {
			e.sendProgress(&types.BacktestProgress{ID: cfg.ID, Status: "cancelled"})
			return nil, fmt.Errorf("backtest cancelled")
		}

		// The phase order is a contract: exits free cash before
		// entries claim it, and a signal admitted today can never
		// fill today.
		sim.stepExits(date)
		candidates := sim.stepPending(date)
		sim.stepEntries(date, candidates)
		sim.stepAdmit(date, signals[date])
		sim.stepNav(date)

		if (i+1)%20 == 0 {
			e.sendProgress(&types.BacktestProgress{
				ID:             cfg.ID,
				Status:         "running",
				Phase:          "simulation",
				Processed:      i + 1,
				Total:          len(dates),
				CurrentDate:    date,
				TradesExecuted: len(sim.portfolio.ClosedTrades()),
				CurrentNav:     sim.lastNav(),
			})
		}
	}

	if len(dates) > 0 {
		sim.forceClose(dates[len(dates)-1])
	}

	trades := sim.portfolio.ClosedTrades()
	metrics := e.metricsCalc.Calculate(trades, sim.nav, cfg.InitialCapital)

	result := &types.BacktestResult{
		ID:               cfg.ID,
		CombinationID:    e.combo.ID,
		CombinationLabel: e.combo.Label,
		StartDate:        effectiveBound(cfg.StartDate, dates, 0),
		EndDate:          effectiveBound(cfg.EndDate, dates, len(dates)-1),
		InitialCapital:   cfg.InitialCapital,
		FinalNav:         finalNav(sim.nav, cfg.InitialCapital),
		Trades:           trades,
		NavHistory:       sim.nav,
		Metrics:          metrics,
		StartedAt:        startedAt,
		CompletedAt:      time.Now(),
		Duration:         time.Since(startedAt),
	}

	e.sendProgress(&types.BacktestProgress{
		ID:             cfg.ID,
		Status:         "completed",
		Processed:      len(dates),
		Total:          len(dates),
		TradesExecuted: len(trades),
		CurrentNav:     result.FinalNav,
	})

	e.logger.Info("backtest completed",
		zap.String("id", cfg.ID),
		zap.Duration("duration", result.Duration),
		zap.Int("trades", len(trades)),
		zap.Float64("finalNav", result.FinalNav),
	)
	return result, nil
}

func (e *Engine) sendProgress(p *types.BacktestProgress) {
	e.mu.Lock()
	e.current = p
	e.mu.Unlock()

	select {
	case e.progress <- p:
	default:
	}
}

// dayQuote is the slice of a price row the simulation loop needs.
type dayQuote struct {
	open  float64
	close float64
}

// entryCandidate is a pending signal that saw its bearish candle today
// and will be filled at today's close.
type entryCandidate struct {
	code  string
	name  string
	price float64
}

// simulation carries the mutable state of the daily loop. Each step*
// method is one phase of the fixed per-day sequence and can be driven
// independently in tests.
type simulation struct {
	cfg       *types.BacktestConfig
	strategy  EntryExitStrategy
	portfolio *Portfolio
	pending   map[string]*types.PendingSignal
	bars      map[string][]types.PriceBar
	prices    map[string]map[string]dayQuote
	shortMA   map[string]map[string]float64
	nav       []types.NavPoint
}

func newSimulation(cfg *types.BacktestConfig, data map[string][]types.PriceBar) *simulation {
	sim := &simulation{
		cfg: cfg,
		strategy: EntryExitStrategy{
			EntryWindow: cfg.EntryWindow,
			MaxHoldDays: cfg.MaxHoldDays,
		},
		portfolio: NewPortfolio(cfg.InitialCapital, cfg.LotSize),
		pending:   make(map[string]*types.PendingSignal),
		bars:      data,
		prices:    make(map[string]map[string]dayQuote, len(data)),
		shortMA:   make(map[string]map[string]float64, len(data)),
	}

	for code, bars := range data {
		quotes := make(map[string]dayQuote, len(bars))
		for _, b := range bars {
			quotes[b.Date] = dayQuote{open: b.Open, close: b.Close}
		}
		sim.prices[code] = quotes

		ma := factors.MA(factors.Closes(bars), cfg.ExitMAWindow)
		maByDate := make(map[string]float64, len(bars))
		for i, b := range bars {
			if !math.IsNaN(ma[i]) {
				maByDate[b.Date] = ma[i]
			}
		}
		sim.shortMA[code] = maByDate
	}
	return sim
}

// stepExits sells every held instrument whose close broke below its
// short moving average today, or whose holding period hit the optional
// cap. Held instruments without a price row today are skipped.
func (s *simulation) stepExits(date string) {
	for _, code := range s.portfolio.HeldCodes() {
		quote, ok := s.prices[code][date]
		if !ok {
			continue
		}
		pos, _ := s.portfolio.Position(code)

		exit := false
		if ma, ok := s.shortMA[code][date]; ok && s.strategy.ShouldExit(quote.close, ma) {
			exit = true
		}
		if !exit && s.strategy.HeldTooLong(pos.EntryDate, date) {
			exit = true
		}
		if exit {
			s.portfolio.Sell(code, quote.close, date)
		}
	}
}

// stepPending ages every pending signal by one day, promotes the ones
// whose instrument printed a bearish candle today to entry candidates,
// and discards the ones that outlived the entry window unfilled.
// Candidates come back sorted by code so downstream fills are
// deterministic.
func (s *simulation) stepPending(date string) []entryCandidate {
	codes := make([]string, 0, len(s.pending))
	for code := range s.pending {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	var candidates []entryCandidate
	for _, code := range codes {
		sig := s.pending[code]
		sig.DaysWaited++

		if quote, ok := s.prices[code][date]; ok && s.strategy.IsBearishCandle(quote.open, quote.close) {
			candidates = append(candidates, entryCandidate{code: code, name: sig.Name, price: quote.close})
			delete(s.pending, code)
			continue
		}
		if sig.DaysWaited > s.strategy.EntryWindow {
			delete(s.pending, code)
		}
	}
	return candidates
}

// stepEntries splits the portfolio's current cash equally across
// today's candidates and buys each at today's close. The allocation is
// recomputed from current cash, not total capital, so freed-up exit
// proceeds are immediately redeployable.
func (s *simulation) stepEntries(date string, candidates []entryCandidate) {
	if len(candidates) == 0 {
		return
	}
	perInstrument := s.portfolio.Cash().Div(decimal.NewFromInt(int64(len(candidates))))
	for _, c := range candidates {
		s.portfolio.Buy(c.code, c.name, c.price, date, perInstrument)
	}
}

// stepAdmit moves today's fired signals into the pending set, skipping
// instruments already held or already pending.
func (s *simulation) stepAdmit(date string, fired []Signal) {
	for _, sig := range fired {
		if s.portfolio.HasPosition(sig.Code) {
			continue
		}
		if _, ok := s.pending[sig.Code]; ok {
			continue
		}
		s.pending[sig.Code] = &types.PendingSignal{
			Code:       sig.Code,
			Name:       sig.Name,
			SignalDate: date,
		}
	}
}

// stepNav appends today's net-asset-value point: cash plus
// mark-to-market at today's close, entry price standing in for
// instruments without a row today.
func (s *simulation) stepNav(date string) {
	marketPrices := make(map[string]float64)
	for _, code := range s.portfolio.HeldCodes() {
		if quote, ok := s.prices[code][date]; ok {
			marketPrices[code] = quote.close
		}
	}
	s.nav = append(s.nav, types.NavPoint{Date: date, Value: s.portfolio.NAV(marketPrices)})
}

// forceClose liquidates every remaining position at the last available
// close on or before the final simulated date, so an open position
// can't inflate the ending NAV without ever producing a trade record.
func (s *simulation) forceClose(lastDate string) {
	for _, code := range s.portfolio.HeldCodes() {
		if quote, ok := s.prices[code][lastDate]; ok {
			s.portfolio.Sell(code, quote.close, lastDate)
			continue
		}
		if price, ok := s.lastCloseAt(code, lastDate); ok {
			s.portfolio.Sell(code, price, lastDate)
		}
	}
}

// lastCloseAt returns the last close of code at or before date.
func (s *simulation) lastCloseAt(code, date string) (float64, bool) {
	bars := s.bars[code]
	idx := sort.Search(len(bars), func(i int) bool { return bars[i].Date > date })
	if idx == 0 {
		return 0, false
	}
	return bars[idx-1].Close, true
}

func (s *simulation) lastNav() float64 {
	if len(s.nav) == 0 {
		return s.cfg.InitialCapital
	}
	return s.nav[len(s.nav)-1].Value
}

// tradingDates returns the sorted union of all instruments' dates
// within the optional [start, end] bounds.
func tradingDates(data map[string][]types.PriceBar, start, end string) []string {
	seen := make(map[string]struct{})
	for _, bars := range data {
		for _, b := range bars {
			if start != "" && b.Date < start {
				continue
			}
			if end != "" && b.Date > end {
				continue
			}
			seen[b.Date] = struct{}{}
		}
	}
	dates := make([]string, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

func effectiveBound(configured string, dates []string, idx int) string {
	if configured != "" {
		return configured
	}
	if len(dates) == 0 {
		return ""
	}
	return dates[idx]
}

func finalNav(nav []types.NavPoint, initialCapital float64) float64 {
	if len(nav) == 0 {
		return initialCapital
	}
	return nav[len(nav)-1].Value
}
