package barsync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"tickerdeck/models"
	"tickerdeck/services/candlecache"
	"tickerdeck/services/levels"
	"tickerdeck/services/marketdata"
)

const (
	// DefaultWindow covers roughly two years of daily bars per symbol.
	DefaultWindow = "2y"

	// SyncConcurrency caps parallel provider fetches during a sync run.
	SyncConcurrency = 4

	fetchTimeout   = 30 * time.Second
	archiveTimeout = 15 * time.Second
)

// ErrSyncInProgress is returned when a sync is requested while one is running.
var ErrSyncInProgress = errors.New("bar sync already in progress")

// ErrNoSymbols is returned when a sync has nothing tracked to pull.
var ErrNoSymbols = errors.New("no symbols to sync")

// BarArchiver receives synced daily bars for long-term storage.
type BarArchiver interface {
	ArchiveDailyBars(ctx context.Context, symbol string, bars []marketdata.Candle) error
	IsConfigured() bool
}

// Result summarizes a sync run.
type Result struct {
	Total    int    `json:"total"`
	Synced   int    `json:"synced"`
	Failed   int    `json:"failed"`
	Bars     int    `json:"bars"`
	Window   string `json:"window"`
	Duration string `json:"duration"`
}

// Syncer pulls daily bars from the provider into the local cache,
// recomputes levels and optionally ships the bars to the archive.
type Syncer struct {
	db       *gorm.DB
	market   *marketdata.Service
	cache    *candlecache.Store
	levels   *levels.Service
	archiver BarArchiver

	mu        sync.Mutex
	isSyncing bool
}

// NewSyncer creates a bar syncer. levels and archiver may be nil.
func NewSyncer(db *gorm.DB, market *marketdata.Service, cache *candlecache.Store, lvl *levels.Service, archiver BarArchiver) *Syncer {
	return &Syncer{db: db, market: market, cache: cache, levels: lvl, archiver: archiver}
}

// IsSyncing reports whether a sync run is active.
func (s *Syncer) IsSyncing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isSyncing
}

// Sync fetches daily bars for the given symbols and stores them in the
// cache. A nil symbol list syncs every tracked symbol. Only one sync
// runs at a time.
func (s *Syncer) Sync(ctx context.Context, symbols []string, window string) (*Result, error) {
	s.mu.Lock()
	if s.isSyncing {
		s.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	s.isSyncing = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.isSyncing = false
		s.mu.Unlock()
	}()

	if window == "" {
		window = DefaultWindow
	}
	if _, err := marketdata.ParseWindow(window); err != nil {
		return nil, fmt.Errorf("invalid sync window: %w", err)
	}
	if len(symbols) == 0 {
		var err error
		symbols, err = s.TrackedSymbols()
		if err != nil {
			return nil, fmt.Errorf("load tracked symbols: %w", err)
		}
	}
	if len(symbols) == 0 {
		return nil, ErrNoSymbols
	}

	start := time.Now()
	log.Printf("Starting daily bar sync for %d symbols (window %s)", len(symbols), window)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		synced   int
		failed   int
		barCount int
		errMsgs  []string
	)
	sem := make(chan struct{}, SyncConcurrency)

	for _, symbol := range symbols {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			mu.Lock()
			failed++
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			defer func() { <-sem }()

			n, err := s.syncSymbol(ctx, symbol, window)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Printf("Warning: bar sync failed for %s: %v", symbol, err)
				failed++
				if len(errMsgs) < 10 {
					errMsgs = append(errMsgs, fmt.Sprintf("%s: %v", symbol, err))
				}
				return
			}
			synced++
			barCount += n
		}(symbol)
	}
	wg.Wait()

	if s.cache != nil {
		if err := s.cache.SaveSyncHistory("daily_bars", len(symbols), synced, failed, strings.Join(errMsgs, "; ")); err != nil {
			log.Printf("Warning: failed to record sync history: %v", err)
		}
	}

	took := time.Since(start).Round(time.Millisecond)
	log.Printf("Daily bar sync complete: %d/%d symbols, %d bars (%d failed) in %s",
		synced, len(symbols), barCount, failed, took)

	return &Result{
		Total:    len(symbols),
		Synced:   synced,
		Failed:   failed,
		Bars:     barCount,
		Window:   window,
		Duration: took.String(),
	}, nil
}

func (s *Syncer) syncSymbol(ctx context.Context, symbol, window string) (int, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	bars, err := s.market.FetchCandles(fetchCtx, symbol, marketdata.TimespanDay, window)
	if err != nil {
		return 0, err
	}
	if s.cache != nil {
		if err := s.cache.UpsertDailyBars(symbol, bars); err != nil {
			return 0, fmt.Errorf("cache bars: %w", err)
		}
	}
	if s.levels != nil {
		s.levels.RecomputeFromBars(symbol, bars)
	}
	if s.archiver != nil && s.archiver.IsConfigured() {
		archiveCtx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if err := s.archiver.ArchiveDailyBars(archiveCtx, symbol, bars); err != nil {
			log.Printf("Warning: failed to archive bars for %s: %v", symbol, err)
		}
	}
	return len(bars), nil
}

// TrackedSymbols returns the union of watched symbols and symbols already
// present in the bar cache, sorted and deduplicated.
func (s *Syncer) TrackedSymbols() ([]string, error) {
	seen := make(map[string]bool)

	if s.db != nil {
		var watched []string
		if err := s.db.Model(&models.WatchItem{}).Distinct().Pluck("symbol", &watched).Error; err != nil {
			return nil, err
		}
		for _, symbol := range watched {
			seen[strings.ToUpper(symbol)] = true
		}
	}
	if s.cache != nil {
		cached, err := s.cache.TrackedSymbols()
		if err != nil {
			return nil, err
		}
		for _, symbol := range cached {
			seen[strings.ToUpper(symbol)] = true
		}
	}

	symbols := make([]string, 0, len(seen))
	for symbol := range seen {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols, nil
}
