package handler

import (
	"log"
	"net/http"

	"tickerdeck/config"
	"tickerdeck/models"
	"tickerdeck/routes"
	"tickerdeck/services/archive"
	"tickerdeck/services/barsync"
	"tickerdeck/services/candlecache"
	"tickerdeck/services/levels"
	"tickerdeck/services/marketdata"
	"tickerdeck/services/movers"

	"github.com/gin-gonic/gin"
)

var router *gin.Engine

func init() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		panic("Failed to load configuration")
	}

	// Initialize database
	db, err := config.InitDB()
	if err != nil {
		panic("Failed to connect to database")
	}

	// Run migrations
	models.MigrateUserModels(db)
	models.MigrateWatchlistModels(db)
	models.MigrateAlertModels(db)
	models.MigrateMoverModels(db)

	// Candle cache lives under DATA_DIR, /tmp on serverless platforms
	if err := candlecache.Init(cfg.DataDir); err != nil {
		log.Printf("Warning: Failed to initialize candle cache: %v", err)
	}

	// MongoDB archive is optional
	if err := archive.InitArchive(cfg.MongoURI); err != nil {
		log.Printf("MongoDB archive not configured or failed to connect: %v", err)
	}

	market := marketdata.NewService(cfg.PolygonAPIKey)
	levelService := levels.NewService(market, candlecache.GlobalStore)

	var scanArchiver movers.ScanArchiver
	if archive.GlobalArchive.IsConfigured() {
		scanArchiver = archive.GlobalArchive
	}
	scanner := movers.NewScanner(db, market, nil, scanArchiver)
	syncer := barsync.NewSyncer(db, market, candlecache.GlobalStore, levelService, archive.GlobalArchive)

	// Set Gin mode
	gin.SetMode(gin.ReleaseMode)

	// Initialize router
	router = gin.New()
	router.Use(gin.Recovery())

	// CORS middleware
	router.Use(corsMiddleware())

	// Setup routes. No realtime hub here, websocket connections do not
	// survive serverless invocations.
	routes.SetupRoutes(router, db, routes.Services{
		Market:  market,
		Levels:  levelService,
		Cache:   candlecache.GlobalStore,
		Scanner: scanner,
		Syncer:  syncer,
		Archive: archive.GlobalArchive,
	})
}

// Handler is the Vercel serverless function handler
func Handler(w http.ResponseWriter, r *http.Request) {
	router.ServeHTTP(w, r)
}

// corsMiddleware adds CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
