package levels

import (
	"testing"
	"time"

	"tickerdeck/services/marketdata"
)

// dayBar builds a daily bar stamped at the regular session open (14:30 UTC).
func dayBar(t *testing.T, day string, low, high float64) marketdata.Candle {
	t.Helper()
	ts, err := time.Parse("2006-01-02 15:04", day+" 14:30")
	if err != nil {
		t.Fatalf("bad day %q: %v", day, err)
	}
	return marketdata.Candle{T: ts.UnixMilli(), O: (low + high) / 2, H: high, L: low, C: (low + high) / 2}
}

// TestCompute tests level derivation from daily bars.
func TestCompute(t *testing.T) {
	t.Run("trailing window vs previous month", func(t *testing.T) {
		// ref is 2026-08-21, so the trailing window starts 2026-07-22
		// and the previous month is July.
		bars := []marketdata.Candle{
			dayBar(t, "2026-06-15", 40, 300),  // outside both windows
			dayBar(t, "2026-07-10", 50, 200),  // July only, before the trailing window
			dayBar(t, "2026-07-25", 90, 112),  // July and trailing window
			dayBar(t, "2026-08-03", 95, 105),  // trailing window only
			dayBar(t, "2026-08-21", 100, 110), // trailing window only
		}

		set := Compute("aapl", bars, time.Time{})

		if set.Symbol != "AAPL" {
			t.Errorf("Symbol = %q, want AAPL", set.Symbol)
		}
		if set.LastMonthLow == nil || *set.LastMonthLow != 90 {
			t.Errorf("LastMonthLow = %v, want 90", set.LastMonthLow)
		}
		if set.LastMonthHigh == nil || *set.LastMonthHigh != 112 {
			t.Errorf("LastMonthHigh = %v, want 112", set.LastMonthHigh)
		}
		if set.PrevMonthLow == nil || *set.PrevMonthLow != 50 {
			t.Errorf("PrevMonthLow = %v, want 50", set.PrevMonthLow)
		}
		if set.PrevMonthHigh == nil || *set.PrevMonthHigh != 200 {
			t.Errorf("PrevMonthHigh = %v, want 200", set.PrevMonthHigh)
		}
	})

	t.Run("ref defaults to last bar", func(t *testing.T) {
		bars := []marketdata.Candle{
			dayBar(t, "2026-08-20", 95, 105),
			dayBar(t, "2026-08-21", 100, 110),
		}
		set := Compute("AAPL", bars, time.Time{})
		if set.AsOf.UnixMilli() != bars[1].T {
			t.Errorf("AsOf = %v, want last bar time", set.AsOf)
		}
	})

	t.Run("year boundary previous month", func(t *testing.T) {
		// ref in January 2026: previous month is December 2025.
		bars := []marketdata.Candle{
			dayBar(t, "2025-11-28", 10, 400), // November, excluded
			dayBar(t, "2025-12-15", 60, 70),
			dayBar(t, "2025-12-31", 55, 80),
			dayBar(t, "2026-01-15", 65, 75),
		}
		set := Compute("MSFT", bars, time.Time{})

		if set.PrevMonthLow == nil || *set.PrevMonthLow != 55 {
			t.Errorf("PrevMonthLow = %v, want 55", set.PrevMonthLow)
		}
		if set.PrevMonthHigh == nil || *set.PrevMonthHigh != 80 {
			t.Errorf("PrevMonthHigh = %v, want 80", set.PrevMonthHigh)
		}
	})

	t.Run("empty prev month stays nil", func(t *testing.T) {
		bars := []marketdata.Candle{
			dayBar(t, "2026-08-20", 95, 105),
			dayBar(t, "2026-08-21", 100, 110),
		}
		set := Compute("AAPL", bars, time.Time{})

		if set.PrevMonthLow != nil || set.PrevMonthHigh != nil {
			t.Errorf("previous-month pair = %v/%v, want nil", set.PrevMonthLow, set.PrevMonthHigh)
		}
		if set.LastMonthLow == nil || *set.LastMonthLow != 95 {
			t.Errorf("LastMonthLow = %v, want 95", set.LastMonthLow)
		}
	})

	t.Run("no bars at all", func(t *testing.T) {
		set := Compute("AAPL", nil, time.Time{})
		if set.LastMonthLow != nil || set.LastMonthHigh != nil ||
			set.PrevMonthLow != nil || set.PrevMonthHigh != nil {
			t.Errorf("levels should all be nil, got %+v", set)
		}
	})

	t.Run("explicit ref bounds the trailing window", func(t *testing.T) {
		ref, _ := time.Parse("2006-01-02 15:04", "2026-08-10 20:00")
		bars := []marketdata.Candle{
			dayBar(t, "2026-08-05", 90, 100),
			dayBar(t, "2026-08-12", 10, 500), // after ref, excluded
		}
		set := Compute("AAPL", bars, ref)
		if set.LastMonthLow == nil || *set.LastMonthLow != 90 {
			t.Errorf("LastMonthLow = %v, want 90", set.LastMonthLow)
		}
		if *set.LastMonthHigh != 100 {
			t.Errorf("LastMonthHigh = %v, want 100", *set.LastMonthHigh)
		}
	})
}

// TestLevelSetValue tests the named accessor.
func TestLevelSetValue(t *testing.T) {
	lml, lmh, ppml, ppmh := 1.0, 2.0, 3.0, 4.0
	set := LevelSet{
		LastMonthLow:  &lml,
		LastMonthHigh: &lmh,
		PrevMonthLow:  &ppml,
		PrevMonthHigh: &ppmh,
	}

	tests := []struct {
		name string
		want float64
	}{
		{"lml", 1.0},
		{"lmh", 2.0},
		{"ppml", 3.0},
		{"ppmh", 4.0},
	}
	for _, tt := range tests {
		got := set.Value(tt.name)
		if got == nil || *got != tt.want {
			t.Errorf("Value(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}

	if set.Value("nope") != nil {
		t.Error("Value(nope) should be nil")
	}
}
