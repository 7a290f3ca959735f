package backtester

import "time"

// EntryExitStrategy holds the two stateless timing predicates of the
// simulator. Both comparisons are strict: equality on either side means
// no action, so ties favor holding.
type EntryExitStrategy struct {
	EntryWindow int // max trading days a pending signal waits for a bearish candle
	MaxHoldDays int // calendar-day holding cap; 0 disables it
}

// IsBearishCandle reports whether a day closed below its open. This is
// the entry trigger for a pending signal.
func (s EntryExitStrategy) IsBearishCandle(open, close float64) bool {
	return close < open
}

// ShouldExit reports whether the close has broken below the short
// moving average.
func (s EntryExitStrategy) ShouldExit(close, shortMA float64) bool {
	return close < shortMA
}

// HeldTooLong reports whether the holding period has reached the
// configured cap. Always false when no cap is set.
func (s EntryExitStrategy) HeldTooLong(entryDate, date string) bool {
	if s.MaxHoldDays <= 0 {
		return false
	}
	entry, err1 := time.Parse("2006-01-02", entryDate)
	now, err2 := time.Parse("2006-01-02", date)
	if err1 != nil || err2 != nil {
		return false
	}
	return int(now.Sub(entry).Hours()/24) >= s.MaxHoldDays
}
