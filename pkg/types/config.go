// Package types provides configuration types for the screener backend.
package types

import "time"

// Simulation defaults. Lot size is the minimum tradable share
// increment on the target market.
const (
	DefaultInitialCapital = 1_000_000.0
	DefaultEntryWindow    = 5
	DefaultExitMAWindow   = 5
	DefaultLotSize        = 100
	DefaultWarmupDays     = 61
)

// BacktestConfig configures one simulator run.
type BacktestConfig struct {
	ID             string  `json:"id"`
	CombinationID  string  `json:"combinationId"`
	StartDate      string  `json:"startDate,omitempty"` // inclusive, YYYY-MM-DD; empty = no bound
	EndDate        string  `json:"endDate,omitempty"`   // inclusive, YYYY-MM-DD; empty = no bound
	InitialCapital float64 `json:"initialCapital"`
	EntryWindow    int     `json:"entryWindow"`  // trading days a signal may wait for a bearish candle
	ExitMAWindow   int     `json:"exitMAWindow"` // short moving average window for the exit check
	LotSize        int64   `json:"lotSize"`
	WarmupDays     int     `json:"warmupDays"`
	MaxHoldDays    int     `json:"maxHoldDays,omitempty"` // 0 = no holding-period cap
}

// Normalize fills zero fields with defaults.
func (c *BacktestConfig) Normalize() {
	if c.InitialCapital <= 0 {
		c.InitialCapital = DefaultInitialCapital
	}
	if c.EntryWindow <= 0 {
		c.EntryWindow = DefaultEntryWindow
	}
	if c.ExitMAWindow <= 0 {
		c.ExitMAWindow = DefaultExitMAWindow
	}
	if c.LotSize <= 0 {
		c.LotSize = DefaultLotSize
	}
	if c.WarmupDays <= 0 {
		c.WarmupDays = DefaultWarmupDays
	}
}

// ServerConfig configures the HTTP gateway.
type ServerConfig struct {
	Host          string        `json:"host"`
	Port          int           `json:"port"`
	WebSocketPath string        `json:"websocketPath"`
	ReadTimeout   time.Duration `json:"readTimeout"`
	WriteTimeout  time.Duration `json:"writeTimeout"`
	EnableMetrics bool          `json:"enableMetrics"`
}

// DataConfig configures the price store.
type DataConfig struct {
	SQLitePath string `json:"sqlitePath"`
}
