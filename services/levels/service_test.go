package levels

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"tickerdeck/services/candlecache"
	"tickerdeck/services/marketdata"
)

func testBars(t *testing.T) []marketdata.Candle {
	t.Helper()
	return []marketdata.Candle{
		dayBar(t, "2026-07-10", 50, 200),
		dayBar(t, "2026-07-25", 90, 112),
		dayBar(t, "2026-08-21", 100, 110),
	}
}

func yahooChartBody(bars []marketdata.Candle) string {
	ts, opens, highs, lows, closes, vols := "", "", "", "", "", ""
	for i, b := range bars {
		if i > 0 {
			ts, opens, highs, lows, closes, vols = ts+",", opens+",", highs+",", lows+",", closes+",", vols+","
		}
		ts += fmt.Sprintf("%d", b.T/1000)
		opens += fmt.Sprintf("%g", b.O)
		highs += fmt.Sprintf("%g", b.H)
		lows += fmt.Sprintf("%g", b.L)
		closes += fmt.Sprintf("%g", b.C)
		vols += fmt.Sprintf("%g", b.V)
	}
	return fmt.Sprintf(`{"chart":{"result":[{"meta":{},"timestamp":[%s],
		"indicators":{"quote":[{"open":[%s],"high":[%s],"low":[%s],"close":[%s],"volume":[%s]}]}}]}}`,
		ts, opens, highs, lows, closes, vols)
}

func testCacheStore(t *testing.T) *candlecache.Store {
	t.Helper()
	store, err := candlecache.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// TestLevelsForCachesResult tests that a fresh cached set short-circuits
// the provider.
func TestLevelsForCachesResult(t *testing.T) {
	var hits atomic.Int64
	bars := testBars(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, yahooChartBody(bars))
	}))
	defer server.Close()

	market := marketdata.NewServiceWithClients(nil, marketdata.NewYahooClient(
		marketdata.WithBaseURL(server.URL),
		marketdata.WithRetries(0, time.Millisecond),
	))
	svc := NewService(market, testCacheStore(t))

	set, err := svc.LevelsFor(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("LevelsFor failed: %v", err)
	}
	if set.LastMonthLow == nil || *set.LastMonthLow != 90 {
		t.Errorf("LastMonthLow = %v, want 90", set.LastMonthLow)
	}
	if set.PrevMonthHigh == nil || *set.PrevMonthHigh != 200 {
		t.Errorf("PrevMonthHigh = %v, want 200", set.PrevMonthHigh)
	}
	if hits.Load() != 1 {
		t.Fatalf("provider hits = %d, want 1", hits.Load())
	}

	again, err := svc.LevelsFor(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("second LevelsFor failed: %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("provider hits after cached call = %d, want 1", hits.Load())
	}
	if *again.LastMonthLow != 90 || *again.PrevMonthHigh != 200 {
		t.Errorf("cached set = %+v, want same values", again)
	}
}

// TestRecomputeFallsBackToCachedBars tests deriving levels from stored
// daily bars when the provider is down.
func TestRecomputeFallsBackToCachedBars(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	market := marketdata.NewServiceWithClients(nil, marketdata.NewYahooClient(
		marketdata.WithBaseURL(server.URL),
		marketdata.WithRetries(0, time.Millisecond),
	))
	store := testCacheStore(t)
	if err := store.UpsertDailyBars("AAPL", testBars(t)); err != nil {
		t.Fatalf("seed bars: %v", err)
	}
	svc := NewService(market, store)

	set, err := svc.Recompute(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}
	if set.LastMonthLow == nil || *set.LastMonthLow != 90 {
		t.Errorf("LastMonthLow = %v, want 90", set.LastMonthLow)
	}
	if set.PrevMonthLow == nil || *set.PrevMonthLow != 50 {
		t.Errorf("PrevMonthLow = %v, want 50", set.PrevMonthLow)
	}
}

// TestRecomputeNoSource tests the error path with no provider and no
// cached bars.
func TestRecomputeNoSource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	market := marketdata.NewServiceWithClients(nil, marketdata.NewYahooClient(
		marketdata.WithBaseURL(server.URL),
		marketdata.WithRetries(0, time.Millisecond),
	))
	svc := NewService(market, testCacheStore(t))

	if _, err := svc.Recompute(context.Background(), "AAPL"); err == nil {
		t.Fatal("expected error with no bar source")
	}
}
