package levels

import (
	"log"
	"time"
)

// ExchangeTZ is the exchange timezone used for month boundaries,
// session windows and market-hours checks.
var ExchangeTZ = loadExchangeTZ()

func loadExchangeTZ() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		log.Printf("Warning: could not load America/New_York tz, using fixed EST: %v", err)
		return time.FixedZone("EST", -5*3600)
	}
	return loc
}

// SessionWindow is one trading session span in epoch milliseconds.
type SessionWindow struct {
	Name  string `json:"name"` // premarket, regular, afterhours
	Start int64  `json:"start"`
	End   int64  `json:"end"`
}

// Session name constants
const (
	SessionPremarket  = "premarket"
	SessionRegular    = "regular"
	SessionAfterHours = "afterhours"
)

// SessionWindows returns the premarket (04:00-09:30), regular
// (09:30-16:00) and after-hours (16:00-20:00) spans for a trading date,
// evaluated in exchange time.
func SessionWindows(date time.Time) []SessionWindow {
	d := date.In(ExchangeTZ)
	at := func(hour, min int) int64 {
		return time.Date(d.Year(), d.Month(), d.Day(), hour, min, 0, 0, ExchangeTZ).UnixMilli()
	}

	return []SessionWindow{
		{Name: SessionPremarket, Start: at(4, 0), End: at(9, 30)},
		{Name: SessionRegular, Start: at(9, 30), End: at(16, 0)},
		{Name: SessionAfterHours, Start: at(16, 0), End: at(20, 0)},
	}
}

// IsMarketOpen reports whether the regular session is trading at now:
// Monday through Friday, 09:30 to 16:00 exchange time. Exchange
// holidays are not tracked.
func IsMarketOpen(now time.Time) bool {
	et := now.In(ExchangeTZ)

	switch et.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}

	minutes := et.Hour()*60 + et.Minute()
	return minutes >= 9*60+30 && minutes < 16*60
}
