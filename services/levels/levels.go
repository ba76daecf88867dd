package levels

import (
	"strings"
	"time"

	"tickerdeck/services/marketdata"
)

// LevelSet holds the key price levels for one symbol. A nil level means
// no bars fell inside its window.
type LevelSet struct {
	Symbol        string    `json:"symbol"`
	AsOf          time.Time `json:"as_of"`
	LastMonthLow  *float64  `json:"lml"`  // trailing 30-day window low
	LastMonthHigh *float64  `json:"lmh"`  // trailing 30-day window high
	PrevMonthLow  *float64  `json:"ppml"` // previous calendar month low
	PrevMonthHigh *float64  `json:"ppmh"` // previous calendar month high
}

// Value returns the named level (lml, lmh, ppml, ppmh), or nil.
func (s LevelSet) Value(name string) *float64 {
	switch name {
	case "lml":
		return s.LastMonthLow
	case "lmh":
		return s.LastMonthHigh
	case "ppml":
		return s.PrevMonthLow
	case "ppmh":
		return s.PrevMonthHigh
	}
	return nil
}

// Compute derives the level set from daily bars (ascending). The
// trailing window covers the 30 calendar days up to and including ref;
// the previous-month pair uses fixed calendar boundaries in exchange
// time. A zero ref defaults to the last bar's timestamp.
func Compute(symbol string, bars []marketdata.Candle, ref time.Time) LevelSet {
	set := LevelSet{Symbol: strings.ToUpper(symbol)}
	if len(bars) == 0 {
		return set
	}
	if ref.IsZero() {
		ref = bars[len(bars)-1].Time()
	}
	set.AsOf = ref

	trailingStart := ref.AddDate(0, 0, -30).UnixMilli()
	refMs := ref.UnixMilli()
	for _, b := range bars {
		if b.T < trailingStart || b.T > refMs {
			continue
		}
		if set.LastMonthLow == nil || b.L < *set.LastMonthLow {
			low := b.L
			set.LastMonthLow = &low
		}
		if set.LastMonthHigh == nil || b.H > *set.LastMonthHigh {
			high := b.H
			set.LastMonthHigh = &high
		}
	}

	refET := ref.In(ExchangeTZ)
	monthStart := time.Date(refET.Year(), refET.Month(), 1, 0, 0, 0, 0, ExchangeTZ)
	prevStart := monthStart.AddDate(0, -1, 0)
	prevStartMs := prevStart.UnixMilli()
	monthStartMs := monthStart.UnixMilli()
	for _, b := range bars {
		if b.T < prevStartMs || b.T >= monthStartMs {
			continue
		}
		if set.PrevMonthLow == nil || b.L < *set.PrevMonthLow {
			low := b.L
			set.PrevMonthLow = &low
		}
		if set.PrevMonthHigh == nil || b.H > *set.PrevMonthHigh {
			high := b.H
			set.PrevMonthHigh = &high
		}
	}

	return set
}
