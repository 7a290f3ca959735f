// Package types provides shared type definitions for the screener backend.
package types

import (
	"encoding/json"
	"math"
	"time"
)

// DateLayout is the wire format for trading dates. Dates are ISO strings
// so lexicographic order equals chronological order.
const DateLayout = "2006-01-02"

// PriceBar is one daily row of an instrument's price table, ascending by
// date with no duplicate dates. Supplied by the data layer; read-only to
// the simulation core.
type PriceBar struct {
	Date      string  `json:"date"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Amount    float64 `json:"amount"`
	Turnover  float64 `json:"turnover"`
	PctChange float64 `json:"pctChange"`
}

// PendingSignal is a fired screening signal waiting for a qualifying
// entry candle. DaysWaited is incremented once per trading day; the
// signal expires once it exceeds the configured entry window.
type PendingSignal struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	SignalDate string `json:"signalDate"`
	DaysWaited int    `json:"daysWaited"`
}

// Position is an open holding. At most one position per instrument
// exists at any time; shares are a positive multiple of the lot size.
type Position struct {
	Code       string  `json:"code"`
	Name       string  `json:"name"`
	EntryDate  string  `json:"entryDate"`
	EntryPrice float64 `json:"entryPrice"`
	Shares     int64   `json:"shares"`
}

// Trade is a closed round trip. Immutable once created.
type Trade struct {
	Code       string  `json:"code"`
	Name       string  `json:"name"`
	EntryDate  string  `json:"entryDate"`
	EntryPrice float64 `json:"entryPrice"`
	ExitDate   string  `json:"exitDate"`
	ExitPrice  float64 `json:"exitPrice"`
	Shares     int64   `json:"shares"`
}

// PnL returns the realized profit or loss in currency units.
func (t Trade) PnL() float64 {
	return (t.ExitPrice - t.EntryPrice) * float64(t.Shares)
}

// ReturnPct returns the percentage return of the trade.
func (t Trade) ReturnPct() float64 {
	if t.EntryPrice == 0 {
		return 0
	}
	return (t.ExitPrice - t.EntryPrice) / t.EntryPrice * 100
}

// HoldingDays returns the holding period in calendar days.
func (t Trade) HoldingDays() int {
	entry, err1 := time.Parse(DateLayout, t.EntryDate)
	exit, err2 := time.Parse(DateLayout, t.ExitDate)
	if err1 != nil || err2 != nil {
		return 0
	}
	return int(exit.Sub(entry).Hours() / 24)
}

// NavPoint is one point of the net-asset-value series: cash plus
// mark-to-market of all open positions on a trading date.
type NavPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// Metrics maps metric names to values. An unbounded profit/loss ratio
// is +Inf internally; it serializes as null rather than breaking the
// JSON encoder.
type Metrics map[string]float64

// MarshalJSON renders non-finite values as null.
func (m Metrics) MarshalJSON() ([]byte, error) {
	safe := make(map[string]*float64, len(m))
	for k, v := range m {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			safe[k] = nil
			continue
		}
		v := v
		safe[k] = &v
	}
	return json.Marshal(safe)
}

// BacktestResult is the outcome of one simulator run. Read-only after
// creation.
type BacktestResult struct {
	ID               string        `json:"id"`
	CombinationID    string        `json:"combinationId"`
	CombinationLabel string        `json:"combinationLabel"`
	StartDate        string        `json:"startDate"`
	EndDate          string        `json:"endDate"`
	InitialCapital   float64       `json:"initialCapital"`
	FinalNav         float64       `json:"finalNav"`
	Trades           []Trade       `json:"trades"`
	NavHistory       []NavPoint    `json:"navHistory"`
	Metrics          Metrics       `json:"metrics"`
	StartedAt        time.Time     `json:"startedAt"`
	CompletedAt      time.Time     `json:"completedAt"`
	Duration         time.Duration `json:"duration"`
}

// BacktestProgress is a snapshot of a running simulation, streamed to
// websocket subscribers and CLI progress printers.
type BacktestProgress struct {
	ID             string  `json:"id"`
	Status         string  `json:"status"` // "running", "completed", "failed", "cancelled"
	Phase          string  `json:"phase"`  // "signals", "simulation"
	Processed      int     `json:"processed"`
	Total          int     `json:"total"`
	CurrentDate    string  `json:"currentDate,omitempty"`
	TradesExecuted int     `json:"tradesExecuted"`
	CurrentNav     float64 `json:"currentNav"`
}
