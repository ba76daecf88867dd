package marketdata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testService(t *testing.T, polygonHandler, yahooHandler http.HandlerFunc) *Service {
	t.Helper()

	var polygon *PolygonClient
	if polygonHandler != nil {
		ps := httptest.NewServer(polygonHandler)
		t.Cleanup(ps.Close)
		polygon = NewPolygonClient("key", WithBaseURL(ps.URL), WithRetries(0, time.Millisecond))
	}

	ys := httptest.NewServer(yahooHandler)
	t.Cleanup(ys.Close)
	yahoo := NewYahooClient(WithBaseURL(ys.URL), WithRetries(0, time.Millisecond))

	return NewServiceWithClients(polygon, yahoo)
}

// TestServiceFetchCandles tests provider fallback behavior.
func TestServiceFetchCandles(t *testing.T) {
	t.Run("polygon primary", func(t *testing.T) {
		var yahooHits int32
		s := testService(t,
			func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"results":[{"t":1700000000000,"o":1,"h":2,"l":0.5,"c":1.5,"v":10}]}`))
			},
			func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&yahooHits, 1)
			},
		)

		candles, err := s.FetchCandles(context.Background(), "AAPL", TimespanDay, "5d")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(candles) != 1 {
			t.Errorf("len(candles) = %d, want 1", len(candles))
		}
		if yahooHits != 0 {
			t.Errorf("yahoo hit %d times, want 0", yahooHits)
		}
	})

	t.Run("falls back to yahoo on polygon error", func(t *testing.T) {
		s := testService(t,
			func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
			},
			func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"chart":{"result":[{
					"timestamp":[1700000000],
					"indicators":{"quote":[{"open":[1],"high":[2],"low":[0.5],"close":[1.5],"volume":[10]}]}
				}]}}`))
			},
		)

		candles, err := s.FetchCandles(context.Background(), "AAPL", TimespanDay, "5d")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(candles) != 1 {
			t.Errorf("len(candles) = %d, want 1", len(candles))
		}
		if candles[0].T != 1700000000000 {
			t.Errorf("T = %d, want ms-scaled yahoo timestamp", candles[0].T)
		}
	})

	t.Run("yahoo only without key", func(t *testing.T) {
		s := testService(t, nil, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"chart":{"result":[{
				"timestamp":[1700000000],
				"indicators":{"quote":[{"open":[1],"high":[2],"low":[0.5],"close":[1.5],"volume":[10]}]}
			}]}}`))
		})

		if s.HasPolygon() {
			t.Error("HasPolygon() = true, want false")
		}
		candles, err := s.FetchCandles(context.Background(), "AAPL", TimespanDay, "5d")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(candles) != 1 {
			t.Errorf("len(candles) = %d, want 1", len(candles))
		}
	})
}

// TestServiceSearchSymbols tests search fallback.
func TestServiceSearchSymbols(t *testing.T) {
	s := testService(t,
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
		func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"quotes":[{"symbol":"AAPL","shortname":"Apple Inc."}]}`))
		},
	)

	matches, err := s.SearchSymbols(context.Background(), "apple", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 1 || matches[0].Symbol != "AAPL" {
		t.Errorf("matches = %+v", matches)
	}
}

// TestServiceOptionsRequireKey tests the Polygon-only options paths.
func TestServiceOptionsRequireKey(t *testing.T) {
	s := testService(t, nil, func(w http.ResponseWriter, r *http.Request) {})

	_, err := s.FetchOptionsChain(context.Background(), "AAPL", OptionsFilter{})
	if !errors.Is(err, ErrNoProviderKey) {
		t.Errorf("FetchOptionsChain err = %v, want ErrNoProviderKey", err)
	}

	_, err = s.ListOptionExpirations(context.Background(), "AAPL")
	if !errors.Is(err, ErrNoProviderKey) {
		t.Errorf("ListOptionExpirations err = %v, want ErrNoProviderKey", err)
	}
}
