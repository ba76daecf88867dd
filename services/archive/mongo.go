package archive

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"tickerdeck/models"
	"tickerdeck/services/marketdata"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB collection names
const (
	MongoDBName              = "tickerdeck"
	MongoMoverScanCollection = "mover_scans"
	MongoDailyBarsCollection = "daily_bars"
)

// Client handles the MongoDB Atlas archive connection and operations.
// The archive is optional; without MONGODB_URI every operation reports
// not configured.
type Client struct {
	uri         string
	client      *mongo.Client
	database    *mongo.Database
	mu          sync.RWMutex
	isConnected bool
	uriSet      bool
	lastError   string
}

// moverScanDoc is the archived form of a completed scan
type moverScanDoc struct {
	ID           int64            `bson:"_id"`
	Window       string           `bson:"window"`
	ThresholdPct float64          `bson:"threshold_pct"`
	SymbolCount  int              `bson:"symbol_count"`
	MoverCount   int              `bson:"mover_count"`
	FailedCount  int              `bson:"failed_count"`
	Trigger      string           `bson:"trigger"`
	StartedAt    time.Time        `bson:"started_at"`
	DurationMs   int64            `bson:"duration_ms"`
	Results      []moverResultDoc `bson:"results"`
	ArchivedAt   time.Time        `bson:"archived_at"`
}

type moverResultDoc struct {
	Symbol    string  `bson:"symbol"`
	ChangePct float64 `bson:"change_pct"`
	Direction string  `bson:"direction"`
	FirstT    int64   `bson:"first_t"`
	LastT     int64   `bson:"last_t"`
	FirstOpen float64 `bson:"first_open"`
	LastClose float64 `bson:"last_close"`
}

// dailyBarsDoc is the archived bar history for one symbol
type dailyBarsDoc struct {
	Symbol    string              `bson:"_id"`
	UpdatedAt time.Time           `bson:"updated_at"`
	DataCount int                 `bson:"data_count"`
	Bars      []marketdata.Candle `bson:"bars"`
}

// GlobalArchive is the application-wide archive client
var GlobalArchive *Client

// InitArchive initializes the global archive client. An empty URI
// leaves the archive disabled without error.
func InitArchive(mongoURI string) error {
	if mongoURI == "" {
		log.Println("MONGODB_URI not set, archive storage disabled")
		GlobalArchive = &Client{
			uriSet:    false,
			lastError: "MONGODB_URI environment variable not set",
		}
		return nil
	}

	GlobalArchive = &Client{uri: mongoURI, uriSet: true}
	return GlobalArchive.Connect()
}

// Connect establishes the connection to MongoDB Atlas
func (c *Client) Connect() error {
	if c.uri == "" {
		c.lastError = "MONGODB_URI environment variable not set"
		return fmt.Errorf("%s", c.lastError)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(c.uri).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1)).
		SetMaxPoolSize(10).
		SetMinPoolSize(2).
		SetMaxConnIdleTime(30 * time.Second).
		SetConnectTimeout(30 * time.Second).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		c.lastError = fmt.Sprintf("Failed to connect: %v", err)
		log.Printf("Failed to connect to MongoDB Atlas: %v", err)
		return err
	}

	if err := client.Ping(ctx, nil); err != nil {
		c.lastError = fmt.Sprintf("Failed to ping: %v", err)
		log.Printf("Failed to ping MongoDB Atlas: %v", err)
		client.Disconnect(ctx)
		return err
	}

	c.mu.Lock()
	c.client = client
	c.database = client.Database(MongoDBName)
	c.isConnected = true
	c.lastError = ""
	c.mu.Unlock()

	c.createIndexes()

	log.Println("MongoDB Atlas archive connected")
	return nil
}

// IsConfigured returns whether the archive is connected
func (c *Client) IsConfigured() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

// Close closes the MongoDB connection
func (c *Client) Close() error {
	if c.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return c.client.Disconnect(ctx)
	}
	return nil
}

// createIndexes creates indexes used by the archive queries
func (c *Client) createIndexes() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	scans := c.database.Collection(MongoMoverScanCollection)
	scans.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "started_at", Value: -1}},
	})

	bars := c.database.Collection(MongoDailyBarsCollection)
	bars.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "updated_at", Value: -1}},
	})

	log.Println("MongoDB archive indexes created")
}

// ArchiveMoverScan stores a completed scan document
func (c *Client) ArchiveMoverScan(ctx context.Context, scan *models.MoverScan) error {
	if !c.IsConfigured() {
		return fmt.Errorf("archive not configured")
	}

	id := int64(scan.ID)
	if id == 0 {
		id = scan.StartedAt.UnixMilli()
	}

	doc := moverScanDoc{
		ID:           id,
		Window:       scan.Window,
		ThresholdPct: scan.ThresholdPct.InexactFloat64(),
		SymbolCount:  scan.SymbolCount,
		MoverCount:   scan.MoverCount,
		FailedCount:  scan.FailedCount,
		Trigger:      scan.Trigger,
		StartedAt:    scan.StartedAt,
		DurationMs:   scan.DurationMs,
		Results:      make([]moverResultDoc, 0, len(scan.Results)),
		ArchivedAt:   time.Now(),
	}
	for _, r := range scan.Results {
		doc.Results = append(doc.Results, moverResultDoc{
			Symbol:    r.Symbol,
			ChangePct: r.ChangePct.InexactFloat64(),
			Direction: r.Direction,
			FirstT:    r.FirstT,
			LastT:     r.LastT,
			FirstOpen: r.FirstOpen.InexactFloat64(),
			LastClose: r.LastClose.InexactFloat64(),
		})
	}

	collection := c.database.Collection(MongoMoverScanCollection)
	opts := options.Replace().SetUpsert(true)

	if _, err := collection.ReplaceOne(ctx, bson.M{"_id": id}, doc, opts); err != nil {
		return fmt.Errorf("failed to archive mover scan: %w", err)
	}
	return nil
}

// RecentMoverScans loads the most recent archived scans
func (c *Client) RecentMoverScans(ctx context.Context, limit int) ([]models.MoverScan, error) {
	if !c.IsConfigured() {
		return nil, fmt.Errorf("archive not configured")
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	collection := c.database.Collection(MongoMoverScanCollection)
	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query archived scans: %w", err)
	}
	defer cursor.Close(ctx)

	var scans []models.MoverScan
	for cursor.Next(ctx) {
		var doc moverScanDoc
		if err := cursor.Decode(&doc); err != nil {
			continue
		}
		scans = append(scans, docToScan(doc))
	}
	return scans, nil
}

// ArchiveDailyBars stores the bar history for a symbol
func (c *Client) ArchiveDailyBars(ctx context.Context, symbol string, bars []marketdata.Candle) error {
	if !c.IsConfigured() {
		return fmt.Errorf("archive not configured")
	}

	doc := dailyBarsDoc{
		Symbol:    symbol,
		UpdatedAt: time.Now(),
		DataCount: len(bars),
		Bars:      bars,
	}

	collection := c.database.Collection(MongoDailyBarsCollection)
	opts := options.Replace().SetUpsert(true)

	if _, err := collection.ReplaceOne(ctx, bson.M{"_id": symbol}, doc, opts); err != nil {
		return fmt.Errorf("failed to archive bars for %s: %w", symbol, err)
	}
	return nil
}

// LoadDailyBars loads the archived bar history for a symbol
func (c *Client) LoadDailyBars(ctx context.Context, symbol string) ([]marketdata.Candle, error) {
	if !c.IsConfigured() {
		return nil, fmt.Errorf("archive not configured")
	}

	collection := c.database.Collection(MongoDailyBarsCollection)

	var doc dailyBarsDoc
	err := collection.FindOne(ctx, bson.M{"_id": symbol}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("no archived bars for %s", symbol)
		}
		return nil, fmt.Errorf("failed to load archived bars for %s: %w", symbol, err)
	}
	return doc.Bars, nil
}

// Status returns archive connection status
func (c *Client) Status() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := map[string]interface{}{
		"uri_set":   c.uriSet,
		"connected": c.isConnected,
	}
	if c.lastError != "" {
		status["error"] = c.lastError
	}
	return status
}

func docToScan(doc moverScanDoc) models.MoverScan {
	scan := models.MoverScan{
		ID:           uint(doc.ID),
		Window:       doc.Window,
		ThresholdPct: decimal.NewFromFloat(doc.ThresholdPct),
		SymbolCount:  doc.SymbolCount,
		MoverCount:   doc.MoverCount,
		FailedCount:  doc.FailedCount,
		Trigger:      doc.Trigger,
		StartedAt:    doc.StartedAt,
		DurationMs:   doc.DurationMs,
	}
	for _, r := range doc.Results {
		scan.Results = append(scan.Results, models.MoverResult{
			Symbol:    r.Symbol,
			ChangePct: decimal.NewFromFloat(r.ChangePct),
			Direction: r.Direction,
			FirstT:    r.FirstT,
			LastT:     r.LastT,
			FirstOpen: decimal.NewFromFloat(r.FirstOpen),
			LastClose: decimal.NewFromFloat(r.LastClose),
		})
	}
	return scan
}
