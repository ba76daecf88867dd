package scheduler

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tickerdeck/models"
	"tickerdeck/services/barsync"
	"tickerdeck/services/candlecache"
	"tickerdeck/services/levels"
	"tickerdeck/services/marketdata"
	"tickerdeck/services/movers"
)

func schedTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := models.MigrateUserModels(db); err != nil {
		t.Fatalf("migrate user models: %v", err)
	}
	if err := models.MigrateWatchlistModels(db); err != nil {
		t.Fatalf("migrate watchlist models: %v", err)
	}
	if err := models.MigrateAlertModels(db); err != nil {
		t.Fatalf("migrate alert models: %v", err)
	}
	if err := models.MigrateMoverModels(db); err != nil {
		t.Fatalf("migrate mover models: %v", err)
	}
	return db
}

func schedCacheStore(t *testing.T) *candlecache.Store {
	t.Helper()
	store, err := candlecache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// chartMarket serves the same daily chart for every symbol requested.
func chartMarket(t *testing.T, bars []marketdata.Candle) *marketdata.Service {
	t.Helper()
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
	body := fmt.Sprintf(`{"chart":{"result":[{"meta":{},"timestamp":[%s],
		"indicators":{"quote":[{"open":[%s],"high":[%s],"low":[%s],"close":[%s],"volume":[%s]}]}}]}}`,
		ts, opens, highs, lows, closes, vols)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
	t.Cleanup(server.Close)
	return marketdata.NewServiceWithClients(nil, marketdata.NewYahooClient(
		marketdata.WithBaseURL(server.URL),
		marketdata.WithRetries(0, time.Millisecond),
	))
}

func barAt(stamp time.Time, open, close float64) marketdata.Candle {
	return marketdata.Candle{T: stamp.UnixMilli(), O: open, H: close + 1, L: open - 1, C: close, V: 1000}
}

func watchSymbol(t *testing.T, db *gorm.DB, symbol string) {
	t.Helper()
	list := models.WatchList{UserID: 1, Name: models.DefaultWatchListName, IsDefault: true}
	if err := db.FirstOrCreate(&list, models.WatchList{UserID: 1, Name: models.DefaultWatchListName}).Error; err != nil {
		t.Fatalf("create list: %v", err)
	}
	item := models.WatchItem{WatchListID: list.ID, Symbol: symbol}
	if err := db.Create(&item).Error; err != nil {
		t.Fatalf("create item: %v", err)
	}
}

func TestNewSchedulerDefaults(t *testing.T) {
	s := NewScheduler(schedTestDB(t), Config{})
	if s.cfg.ScanIntervalMin != 5 {
		t.Errorf("ScanIntervalMin = %d, want 5", s.cfg.ScanIntervalMin)
	}
	if s.cfg.ScanWindow != movers.DefaultWindow {
		t.Errorf("ScanWindow = %q, want %q", s.cfg.ScanWindow, movers.DefaultWindow)
	}
	if s.cfg.ScanThresholdPct != movers.DefaultThresholdPct {
		t.Errorf("ScanThresholdPct = %v, want %v", s.cfg.ScanThresholdPct, movers.DefaultThresholdPct)
	}
}

func TestCleanupOldData(t *testing.T) {
	db := schedTestDB(t)
	store := schedCacheStore(t)
	now := time.Now()

	oldTrigger := now.AddDate(0, 0, -40)
	recentTrigger := now.AddDate(0, 0, -5)
	alerts := []models.Alert{
		{UserID: 1, Symbol: "AAPL", Kind: models.AlertKindPriceAbove, Threshold: decimal.NewFromInt(100), IsTriggered: true, TriggeredAt: &oldTrigger},
		{UserID: 1, Symbol: "MSFT", Kind: models.AlertKindPriceAbove, Threshold: decimal.NewFromInt(200), IsTriggered: true, TriggeredAt: &recentTrigger},
		{UserID: 1, Symbol: "SPY", Kind: models.AlertKindPriceBelow, Threshold: decimal.NewFromInt(400), IsActive: true},
	}
	for i := range alerts {
		if err := db.Create(&alerts[i]).Error; err != nil {
			t.Fatalf("create alert: %v", err)
		}
	}

	scans := []models.MoverScan{
		{Window: "1d", StartedAt: now.AddDate(0, 0, -120), Results: []models.MoverResult{{Symbol: "AAPL", Direction: models.MoverDirectionUp}}},
		{Window: "1d", StartedAt: now.AddDate(0, 0, -100)},
		{Window: "1d", StartedAt: now.AddDate(0, 0, -1), Results: []models.MoverResult{{Symbol: "TSLA", Direction: models.MoverDirectionDown}}},
	}
	for i := range scans {
		if err := db.Create(&scans[i]).Error; err != nil {
			t.Fatalf("create scan: %v", err)
		}
	}

	oldBar := barAt(now.AddDate(-3, 0, 0), 10, 11)
	freshBar := barAt(now.AddDate(0, -1, 0), 20, 21)
	if err := store.UpsertDailyBars("AAPL", []marketdata.Candle{oldBar, freshBar}); err != nil {
		t.Fatalf("seed bars: %v", err)
	}

	s := NewScheduler(db, Config{Cache: store})
	s.cleanupOldData()

	t.Run("old triggered alerts removed", func(t *testing.T) {
		var symbols []string
		if err := db.Model(&models.Alert{}).Order("symbol ASC").Pluck("symbol", &symbols).Error; err != nil {
			t.Fatalf("load alerts: %v", err)
		}
		if len(symbols) != 2 || symbols[0] != "MSFT" || symbols[1] != "SPY" {
			t.Errorf("remaining alerts = %v, want [MSFT SPY]", symbols)
		}
	})

	t.Run("old scans removed with results", func(t *testing.T) {
		var count int64
		if err := db.Model(&models.MoverScan{}).Count(&count).Error; err != nil {
			t.Fatalf("count scans: %v", err)
		}
		if count != 1 {
			t.Errorf("scan count = %d, want 1", count)
		}
		var results []models.MoverResult
		if err := db.Find(&results).Error; err != nil {
			t.Fatalf("load results: %v", err)
		}
		if len(results) != 1 || results[0].Symbol != "TSLA" {
			t.Errorf("remaining results = %+v, want just TSLA", results)
		}
	})

	t.Run("stale cached bars pruned", func(t *testing.T) {
		bars, err := store.DailyBars("AAPL", now.AddDate(-5, 0, 0), now)
		if err != nil {
			t.Fatalf("load bars: %v", err)
		}
		if len(bars) != 1 || bars[0].C != 21 {
			t.Errorf("cached bars = %+v, want just the fresh bar", bars)
		}
	})
}

func TestPruneOldScansKeepsLatest(t *testing.T) {
	db := schedTestDB(t)
	now := time.Now()

	scans := []models.MoverScan{
		{Window: "1d", StartedAt: now.AddDate(0, 0, -140)},
		{Window: "5d", StartedAt: now.AddDate(0, 0, -110)},
	}
	for i := range scans {
		if err := db.Create(&scans[i]).Error; err != nil {
			t.Fatalf("create scan: %v", err)
		}
	}

	s := NewScheduler(db, Config{})
	s.pruneOldScans(now.AddDate(0, 0, -90))

	var remaining []models.MoverScan
	if err := db.Find(&remaining).Error; err != nil {
		t.Fatalf("load scans: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Window != "5d" {
		t.Errorf("remaining scans = %+v, want just the most recent", remaining)
	}
}

func TestSyncDailyBarsJob(t *testing.T) {
	db := schedTestDB(t)
	store := schedCacheStore(t)
	watchSymbol(t, db, "AAPL")

	stamp := time.Date(2026, 8, 20, 14, 30, 0, 0, time.UTC)
	market := chartMarket(t, []marketdata.Candle{barAt(stamp, 100, 105)})
	lvl := levels.NewService(market, store)
	syncer := barsync.NewSyncer(db, market, store, lvl, nil)

	s := NewScheduler(db, Config{Syncer: syncer, Cache: store})
	s.syncDailyBars()

	bars, err := store.DailyBars("AAPL", stamp.AddDate(0, 0, -1), stamp.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("load bars: %v", err)
	}
	if len(bars) != 1 || bars[0].C != 105 {
		t.Errorf("cached bars = %+v, want one bar closing at 105", bars)
	}
}

func TestRunMoverScanJob(t *testing.T) {
	db := schedTestDB(t)
	watchSymbol(t, db, "AAPL")

	base := time.Date(2026, 8, 17, 14, 30, 0, 0, time.UTC)
	market := chartMarket(t, []marketdata.Candle{
		barAt(base, 100, 100),
		barAt(base.AddDate(0, 0, 1), 100, 104),
	})
	scanner := movers.NewScanner(db, market, nil, nil)

	s := NewScheduler(db, Config{Scanner: scanner, ScanWindow: "5d", ScanThresholdPct: 2.0})
	s.runMoverScan()

	var scan models.MoverScan
	if err := db.Preload("Results").Order("id DESC").First(&scan).Error; err != nil {
		t.Fatalf("load scan: %v", err)
	}
	if scan.Trigger != models.ScanTriggerScheduled {
		t.Errorf("trigger = %q, want scheduled", scan.Trigger)
	}
	if scan.Window != "5d" {
		t.Errorf("window = %q, want 5d", scan.Window)
	}
	if scan.MoverCount != 1 || len(scan.Results) != 1 || scan.Results[0].Symbol != "AAPL" {
		t.Errorf("scan = %+v, want one AAPL mover", scan)
	}
}
