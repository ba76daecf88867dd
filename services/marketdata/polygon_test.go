package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// TestPolygonAggs tests aggregate bar fetching.
func TestPolygonAggs(t *testing.T) {
	t.Run("request shape and conversion", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/v2/aggs/ticker/AAPL/range/15/minute/") {
				t.Errorf("path = %q, want /v2/aggs/ticker/AAPL/range/15/minute/ prefix", r.URL.Path)
			}
			q := r.URL.Query()
			if q.Get("adjusted") != "true" {
				t.Errorf("adjusted = %q, want true", q.Get("adjusted"))
			}
			if q.Get("sort") != "asc" {
				t.Errorf("sort = %q, want asc", q.Get("sort"))
			}
			if q.Get("limit") != "50000" {
				t.Errorf("limit = %q, want 50000", q.Get("limit"))
			}
			if q.Get("apiKey") != "test-key" {
				t.Errorf("apiKey = %q, want test-key", q.Get("apiKey"))
			}
			w.Write([]byte(`{"ticker":"AAPL","resultsCount":2,"results":[
				{"t":1700000000000,"o":100.5,"h":101,"l":99.5,"c":100.8,"v":1000},
				{"t":1700000900000,"o":100.8,"h":102,"l":100.2,"c":101.9,"v":2000}
			]}`))
		}))
		defer server.Close()

		c := NewPolygonClient("test-key", WithBaseURL(server.URL))
		now := time.Now().UTC()
		candles, err := c.Aggs(context.Background(), "aapl", Timespan15Min, now.AddDate(0, 0, -5), now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(candles) != 2 {
			t.Fatalf("len(candles) = %d, want 2", len(candles))
		}
		if candles[0].T != 1700000000000 {
			t.Errorf("T = %d, want 1700000000000", candles[0].T)
		}
		if candles[1].C != 101.9 {
			t.Errorf("C = %v, want 101.9", candles[1].C)
		}
	})

	t.Run("empty results", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"ticker":"AAPL","resultsCount":0,"results":null}`))
		}))
		defer server.Close()

		c := NewPolygonClient("key", WithBaseURL(server.URL))
		now := time.Now().UTC()
		candles, err := c.Aggs(context.Background(), "AAPL", TimespanDay, now.AddDate(0, 0, -5), now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(candles) != 0 {
			t.Errorf("len(candles) = %d, want 0", len(candles))
		}
	})

	t.Run("unsupported timespan", func(t *testing.T) {
		c := NewPolygonClient("key")
		_, err := c.Aggs(context.Background(), "AAPL", Timespan("2h"), time.Now(), time.Now())
		if err == nil {
			t.Fatal("expected error for unsupported timespan")
		}
	})
}

// TestPolygonCandles tests window resolution for the candle fetch.
func TestPolygonCandles(t *testing.T) {
	t.Run("max window maps per timespan", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1m max resolves to 30d, so from/to must span about a month
			parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
			if len(parts) != 9 {
				t.Fatalf("unexpected path %q", r.URL.Path)
			}
			from, err1 := time.Parse("2006-01-02", parts[7])
			to, err2 := time.Parse("2006-01-02", parts[8])
			if err1 != nil || err2 != nil {
				t.Fatalf("bad dates in path %q", r.URL.Path)
			}
			span := to.Sub(from)
			if span < 29*24*time.Hour || span > 31*24*time.Hour {
				t.Errorf("span = %v, want about 30 days", span)
			}
			w.Write([]byte(`{"results":[]}`))
		}))
		defer server.Close()

		c := NewPolygonClient("key", WithBaseURL(server.URL))
		if _, err := c.Candles(context.Background(), "AAPL", Timespan1Min, "max"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("bad window", func(t *testing.T) {
		c := NewPolygonClient("key")
		if _, err := c.Candles(context.Background(), "AAPL", TimespanDay, "5x"); err == nil {
			t.Fatal("expected error for bad window")
		}
	})
}

// TestPolygonPrevClose tests previous-day bar fetching.
func TestPolygonPrevClose(t *testing.T) {
	t.Run("successful fetch", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v2/aggs/ticker/MSFT/prev" {
				t.Errorf("path = %q, want /v2/aggs/ticker/MSFT/prev", r.URL.Path)
			}
			w.Write([]byte(`{"results":[{"t":1700000000000,"o":370,"h":375,"l":368,"c":372.5,"v":100000}]}`))
		}))
		defer server.Close()

		c := NewPolygonClient("key", WithBaseURL(server.URL))
		bar, err := c.PrevClose(context.Background(), "msft")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if bar.C != 372.5 {
			t.Errorf("C = %v, want 372.5", bar.C)
		}
	})

	t.Run("no results", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"results":[]}`))
		}))
		defer server.Close()

		c := NewPolygonClient("key", WithBaseURL(server.URL))
		if _, err := c.PrevClose(context.Background(), "XXXX"); err == nil {
			t.Fatal("expected error for empty results")
		}
	})
}

// TestPolygonSearchTickers tests symbol search.
func TestPolygonSearchTickers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/reference/tickers" {
			t.Errorf("path = %q, want /v3/reference/tickers", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("search") != "apple" {
			t.Errorf("search = %q, want apple", q.Get("search"))
		}
		if q.Get("active") != "true" {
			t.Errorf("active = %q, want true", q.Get("active"))
		}
		if q.Get("limit") != "5" {
			t.Errorf("limit = %q, want 5", q.Get("limit"))
		}
		w.Write([]byte(`{"results":[{"ticker":"AAPL","name":"Apple Inc."}]}`))
	}))
	defer server.Close()

	c := NewPolygonClient("key", WithBaseURL(server.URL))
	matches, err := c.SearchTickers(context.Background(), "apple", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 1 || matches[0].Symbol != "AAPL" || matches[0].Name != "Apple Inc." {
		t.Errorf("matches = %+v", matches)
	}
}

// TestPolygonOptionContracts tests options-chain listing with pagination.
func TestPolygonOptionContracts(t *testing.T) {
	t.Run("filters applied", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			if q.Get("underlying_ticker") != "AAPL" {
				t.Errorf("underlying_ticker = %q, want AAPL", q.Get("underlying_ticker"))
			}
			if q.Get("expiration_date") != "2026-09-18" {
				t.Errorf("expiration_date = %q, want 2026-09-18", q.Get("expiration_date"))
			}
			if q.Get("contract_type") != "call" {
				t.Errorf("contract_type = %q, want call", q.Get("contract_type"))
			}
			if q.Get("order") != "asc" || q.Get("sort") != "expiration_date" {
				t.Errorf("order/sort = %q/%q", q.Get("order"), q.Get("sort"))
			}
			w.Write([]byte(`{"results":[{"ticker":"O:AAPL260918C00200000","underlying_ticker":"AAPL","contract_type":"call","expiration_date":"2026-09-18","strike_price":200,"exercise_style":"american","shares_per_contract":100,"primary_exchange":"BATO"}]}`))
		}))
		defer server.Close()

		c := NewPolygonClient("key", WithBaseURL(server.URL))
		contracts, err := c.OptionContracts(context.Background(), "aapl", OptionsFilter{
			Expiration:   "2026-09-18",
			ContractType: "call",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(contracts) != 1 {
			t.Fatalf("len(contracts) = %d, want 1", len(contracts))
		}
		if contracts[0].StrikePrice != 200 {
			t.Errorf("StrikePrice = %v, want 200", contracts[0].StrikePrice)
		}
	})

	t.Run("follows cursor pages", func(t *testing.T) {
		var requestCount int32
		var serverURL string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			count := atomic.AddInt32(&requestCount, 1)
			cursor := r.URL.Query().Get("cursor")

			switch {
			case count == 1 && cursor == "":
				json.NewEncoder(w).Encode(map[string]any{
					"results":  []map[string]any{{"ticker": "C1", "expiration_date": "2026-01-16"}},
					"next_url": serverURL + "/v3/reference/options/contracts?cursor=page2",
				})
			case count == 2 && cursor == "page2":
				json.NewEncoder(w).Encode(map[string]any{
					"results": []map[string]any{{"ticker": "C2", "expiration_date": "2026-02-20"}},
				})
			default:
				t.Errorf("unexpected request: count=%d cursor=%q", count, cursor)
			}
		}))
		defer server.Close()
		serverURL = server.URL

		c := NewPolygonClient("key", WithBaseURL(server.URL))
		contracts, err := c.OptionContracts(context.Background(), "AAPL", OptionsFilter{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(contracts) != 2 {
			t.Errorf("len(contracts) = %d, want 2", len(contracts))
		}
		if requestCount != 2 {
			t.Errorf("requestCount = %d, want 2", requestCount)
		}
	})

	t.Run("error surfaces as APIError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer server.Close()

		c := NewPolygonClient("key", WithBaseURL(server.URL))
		_, err := c.OptionContracts(context.Background(), "AAPL", OptionsFilter{})
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %T: %v", err, err)
		}
		if apiErr.StatusCode != 403 {
			t.Errorf("StatusCode = %d, want 403", apiErr.StatusCode)
		}
	})
}

// TestPolygonOptionExpirations tests distinct expiration extraction.
func TestPolygonOptionExpirations(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[
			{"ticker":"C1","expiration_date":"2026-02-20"},
			{"ticker":"C2","expiration_date":"2026-01-16"},
			{"ticker":"C3","expiration_date":"2026-02-20"},
			{"ticker":"C4","expiration_date":"2026-01-16"}
		]}`))
	}))
	defer server.Close()

	c := NewPolygonClient("key", WithBaseURL(server.URL))
	dates, err := c.OptionExpirations(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"2026-01-16", "2026-02-20"}
	if len(dates) != len(want) {
		t.Fatalf("len(dates) = %d, want %d", len(dates), len(want))
	}
	for i := range want {
		if dates[i] != want[i] {
			t.Errorf("dates[%d] = %q, want %q", i, dates[i], want[i])
		}
	}
}

// TestPolygonQuote tests quote assembly from prev close and intraday bars.
func TestPolygonQuote(t *testing.T) {
	t.Run("with intraday bars", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/prev") {
				w.Write([]byte(`{"results":[{"t":1699900000000,"o":99,"h":101,"l":98,"c":100,"v":5000}]}`))
				return
			}
			w.Write([]byte(`{"results":[
				{"t":1700000000000,"o":100.5,"h":101,"l":100,"c":100.8,"v":100},
				{"t":1700000060000,"o":100.8,"h":103,"l":100.6,"c":102,"v":200}
			]}`))
		}))
		defer server.Close()

		c := NewPolygonClient("key", WithBaseURL(server.URL))
		q, err := c.Quote(context.Background(), "aapl")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if q.Symbol != "AAPL" {
			t.Errorf("Symbol = %q, want AAPL", q.Symbol)
		}
		if q.Price != 102 {
			t.Errorf("Price = %v, want 102", q.Price)
		}
		if q.PrevClose != 100 {
			t.Errorf("PrevClose = %v, want 100", q.PrevClose)
		}
		if q.Change != 2 {
			t.Errorf("Change = %v, want 2", q.Change)
		}
		if q.ChangePct != 2 {
			t.Errorf("ChangePct = %v, want 2", q.ChangePct)
		}
		if q.High != 103 {
			t.Errorf("High = %v, want 103", q.High)
		}
		if q.Volume != 300 {
			t.Errorf("Volume = %v, want 300", q.Volume)
		}
	})

	t.Run("no intraday bars falls back to prev bar", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/prev") {
				w.Write([]byte(`{"results":[{"t":1699900000000,"o":99,"h":101,"l":98,"c":100,"v":5000}]}`))
				return
			}
			w.Write([]byte(`{"results":[]}`))
		}))
		defer server.Close()

		c := NewPolygonClient("key", WithBaseURL(server.URL))
		q, err := c.Quote(context.Background(), "AAPL")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if q.Price != 100 {
			t.Errorf("Price = %v, want 100", q.Price)
		}
		if q.Change != 0 {
			t.Errorf("Change = %v, want 0", q.Change)
		}
	})
}

// TestCursorFromNextURL tests cursor extraction.
func TestCursorFromNextURL(t *testing.T) {
	tests := []struct {
		nextURL string
		want    string
	}{
		{"", ""},
		{"https://api.polygon.io/v3/reference/options/contracts?cursor=abc123", "abc123"},
		{"https://api.polygon.io/v3/reference/options/contracts", ""},
		{"://bad-url", ""},
	}
	for _, tt := range tests {
		if got := cursorFromNextURL(tt.nextURL); got != tt.want {
			t.Errorf("cursorFromNextURL(%q) = %q, want %q", tt.nextURL, got, tt.want)
		}
	}
}
