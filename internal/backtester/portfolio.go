// Package backtester provides the historical trade simulator: signal
// detection, portfolio accounting, the daily simulation loop, and
// performance metrics.
package backtester

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/stockscan/screener-backend/pkg/types"
)

// Portfolio owns cash, open positions, and the immutable log of closed
// trades. Cash and costs are decimal so repeated buy/sell cycles never
// accumulate float drift. Exactly one writer (the simulation loop)
// mutates it; the lock covers concurrent reads from progress snapshots.
type Portfolio struct {
	mu          sync.RWMutex
	initialCash decimal.Decimal
	cash        decimal.Decimal
	lotSize     decimal.Decimal
	positions   map[string]*types.Position
	closed      []types.Trade
}

// NewPortfolio creates a portfolio with the given starting cash and
// trading lot size.
func NewPortfolio(initialCash float64, lotSize int64) *Portfolio {
	cash := decimal.NewFromFloat(initialCash)
	return &Portfolio{
		initialCash: cash,
		cash:        cash,
		lotSize:     decimal.NewFromInt(lotSize),
		positions:   make(map[string]*types.Position),
	}
}

// Buy opens a position at price on date, funded from allocated cash.
// Shares are floored to a whole number of lots. No-op when a position
// for code already exists (first fill wins), when the floored share
// count is zero, or when the cost would exceed available cash.
// Returns true when a position was opened.
func (p *Portfolio) Buy(code, name string, price float64, date string, allocated decimal.Decimal) bool {
	if price <= 0 {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, held := p.positions[code]; held {
		return false
	}

	priceD := decimal.NewFromFloat(price)
	shares := allocated.Div(priceD).Div(p.lotSize).Floor().Mul(p.lotSize)
	if !shares.IsPositive() {
		return false
	}

	cost := shares.Mul(priceD)
	if cost.GreaterThan(p.cash) {
		return false
	}

	p.cash = p.cash.Sub(cost)
	p.positions[code] = &types.Position{
		Code:       code,
		Name:       name,
		EntryDate:  date,
		EntryPrice: price,
		Shares:     shares.IntPart(),
	}
	return true
}

// Sell closes the position for code at price on date, crediting the
// proceeds and appending a Trade. No-op when no position exists.
func (p *Portfolio) Sell(code string, price float64, date string) (types.Trade, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[code]
	if !ok {
		return types.Trade{}, false
	}
	delete(p.positions, code)

	proceeds := decimal.NewFromInt(pos.Shares).Mul(decimal.NewFromFloat(price))
	p.cash = p.cash.Add(proceeds)

	trade := types.Trade{
		Code:       pos.Code,
		Name:       pos.Name,
		EntryDate:  pos.EntryDate,
		EntryPrice: pos.EntryPrice,
		ExitDate:   date,
		ExitPrice:  price,
		Shares:     pos.Shares,
	}
	p.closed = append(p.closed, trade)
	return trade, true
}

// NAV returns cash plus mark-to-market of all open positions. A
// position without a price for the day is valued at its entry price,
// so a trading halt never punches a hole in the curve.
func (p *Portfolio) NAV(marketPrices map[string]float64) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	nav := p.cash
	for code, pos := range p.positions {
		price, ok := marketPrices[code]
		if !ok {
			price = pos.EntryPrice
		}
		nav = nav.Add(decimal.NewFromInt(pos.Shares).Mul(decimal.NewFromFloat(price)))
	}
	return nav.InexactFloat64()
}

// HasPosition reports whether a position for code is open.
func (p *Portfolio) HasPosition(code string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.positions[code]
	return ok
}

// Cash returns the available cash.
func (p *Portfolio) Cash() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash
}

// HeldCodes returns the codes of all open positions in ascending
// order, so callers iterate deterministically.
func (p *Portfolio) HeldCodes() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	codes := make([]string, 0, len(p.positions))
	for code := range p.positions {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Position returns a copy of the open position for code.
func (p *Portfolio) Position(code string) (types.Position, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pos, ok := p.positions[code]
	if !ok {
		return types.Position{}, false
	}
	return *pos, true
}

// ClosedTrades returns the closed-trade log in execution order.
func (p *Portfolio) ClosedTrades() []types.Trade {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.Trade, len(p.closed))
	copy(out, p.closed)
	return out
}
