package marketdata

import (
	"errors"
	"fmt"
	"time"
)

// Candle is a single OHLCV bar. T is the bar start in epoch milliseconds.
type Candle struct {
	T int64   `json:"t"`
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
	V float64 `json:"v"`
}

// Time returns the bar start as a time.Time.
func (c Candle) Time() time.Time {
	return time.UnixMilli(c.T)
}

// Timespan selects the bar size for candle requests.
type Timespan string

const (
	Timespan1Min  Timespan = "1m"
	Timespan15Min Timespan = "15m"
	Timespan1Hour Timespan = "1h"
	TimespanDay   Timespan = "day"
	TimespanMonth Timespan = "month"
)

// ParseTimespan validates a timespan string from a request
func ParseTimespan(s string) (Timespan, error) {
	switch Timespan(s) {
	case Timespan1Min, Timespan15Min, Timespan1Hour, TimespanDay, TimespanMonth:
		return Timespan(s), nil
	}
	return "", fmt.Errorf("unsupported timespan %q", s)
}

// Quote is the latest price snapshot for a symbol
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Change    float64   `json:"change"`
	ChangePct float64   `json:"change_pct"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	PrevClose float64   `json:"prev_close"`
	Volume    float64   `json:"volume"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SymbolMatch is one result of a symbol search
type SymbolMatch struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// OptionContract is one listed contract from the options reference chain
type OptionContract struct {
	Ticker            string  `json:"ticker"`
	Underlying        string  `json:"underlying"`
	ContractType      string  `json:"contract_type"` // call, put
	ExpirationDate    string  `json:"expiration_date"`
	StrikePrice       float64 `json:"strike_price"`
	ExerciseStyle     string  `json:"exercise_style"`
	SharesPerContract int     `json:"shares_per_contract"`
	PrimaryExchange   string  `json:"primary_exchange"`
}

// OptionsFilter narrows an options-chain listing
type OptionsFilter struct {
	Expiration   string // yyyy-mm-dd, empty for all
	ContractType string // call, put, empty for both
	Limit        int    // per-page limit, 0 uses the provider default
}

// ErrNoProviderKey is returned for operations that require a configured
// Polygon API key when none is set.
var ErrNoProviderKey = errors.New("polygon api key not configured")

// ChangePercent compares the last close to the first open of the slice.
// Returns false when the slice is empty or the first open is zero.
func ChangePercent(candles []Candle) (float64, bool) {
	if len(candles) == 0 {
		return 0, false
	}
	start := candles[0].O
	end := candles[len(candles)-1].C
	if start == 0 {
		return 0, false
	}
	return (end - start) / start * 100.0, true
}
