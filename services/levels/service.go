package levels

import (
	"context"
	"fmt"
	"log"
	"time"

	"tickerdeck/services/candlecache"
	"tickerdeck/services/marketdata"
)

// staleAfter is how long cached levels stay fresh.
const staleAfter = 24 * time.Hour

// historyWindow covers the trailing window plus a full previous month.
const historyWindow = "3m"

// Service computes key levels from daily bars and keeps them cached.
type Service struct {
	market *marketdata.Service
	cache  *candlecache.Store
}

// NewService creates a levels service. The cache may be nil, which
// disables persistence and staleness short-circuiting.
func NewService(market *marketdata.Service, cache *candlecache.Store) *Service {
	return &Service{market: market, cache: cache}
}

// LevelsFor returns the level set for a symbol, serving the cached copy
// while fresh and recomputing otherwise.
func (s *Service) LevelsFor(ctx context.Context, symbol string) (LevelSet, error) {
	if s.cache != nil {
		stored, err := s.cache.LoadLevels(symbol)
		if err == nil && stored != nil && time.Since(stored.UpdatedAt) < staleAfter {
			return fromStored(stored), nil
		}
	}
	return s.Recompute(ctx, symbol)
}

// Recompute fetches daily bars, recomputes the level set and refreshes
// the cache. Cached bars serve as the source when the provider fails.
func (s *Service) Recompute(ctx context.Context, symbol string) (LevelSet, error) {
	bars, err := s.market.FetchCandles(ctx, symbol, marketdata.TimespanDay, historyWindow)
	if err != nil {
		log.Printf("Provider daily bars failed for %s, trying cached bars: %v", symbol, err)
		if s.cache != nil {
			bars, _ = s.cache.RecentDailyBars(symbol, 90)
		}
		if len(bars) == 0 {
			return LevelSet{}, fmt.Errorf("fetch daily bars for %s: %w", symbol, err)
		}
	}

	return s.RecomputeFromBars(symbol, bars), nil
}

// RecomputeFromBars recomputes the level set from daily bars already in
// hand and refreshes the cache. The sync job uses this to avoid fetching
// the same bars twice.
func (s *Service) RecomputeFromBars(symbol string, bars []marketdata.Candle) LevelSet {
	set := Compute(symbol, bars, time.Time{})
	if s.cache != nil {
		if err := s.cache.SaveLevels(toStored(set)); err != nil {
			log.Printf("Warning: failed to cache levels for %s: %v", symbol, err)
		}
	}
	return set
}

func fromStored(lv *candlecache.StoredLevels) LevelSet {
	return LevelSet{
		Symbol:        lv.Symbol,
		AsOf:          lv.AsOf,
		LastMonthLow:  lv.LastMonthLow,
		LastMonthHigh: lv.LastMonthHigh,
		PrevMonthLow:  lv.PrevMonthLow,
		PrevMonthHigh: lv.PrevMonthHigh,
	}
}

func toStored(set LevelSet) *candlecache.StoredLevels {
	return &candlecache.StoredLevels{
		Symbol:        set.Symbol,
		AsOf:          set.AsOf,
		LastMonthLow:  set.LastMonthLow,
		LastMonthHigh: set.LastMonthHigh,
		PrevMonthLow:  set.PrevMonthLow,
		PrevMonthHigh: set.PrevMonthHigh,
	}
}
