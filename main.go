package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"tickerdeck/config"
	"tickerdeck/controllers"
	"tickerdeck/models"
	"tickerdeck/routes"
	"tickerdeck/scheduler"
	"tickerdeck/services/alerts"
	"tickerdeck/services/archive"
	"tickerdeck/services/barsync"
	"tickerdeck/services/candlecache"
	"tickerdeck/services/levels"
	"tickerdeck/services/marketdata"
	"tickerdeck/services/movers"
	"tickerdeck/services/realtime"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// dbInitialized tracks whether database has been successfully initialized
// This global variable is used for thread-safe access across goroutines to allow
// the /ready health endpoint to dynamically check database status
var dbInitialized bool
var dbInitMutex sync.RWMutex

func main() {
	log.Println("==============================================")
	log.Println("  Tickerdeck API - Starting...")
	log.Println("==============================================")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Set Gin mode based on environment
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create Gin router
	router := gin.New()

	// Add middlewares
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestLogger())

	// Setup health check endpoints FIRST so Cloud Run can detect the service is up
	// Database will be initialized in background
	setupHealthEndpoints(router)

	// Create HTTP server with timeouts optimized for Cloud Run
	// Bind to 0.0.0.0 explicitly for container networking
	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	// Start server IMMEDIATELY so Cloud Run knows we're listening
	go func() {
		log.Printf("Server listening on 0.0.0.0:%s", cfg.Port)
		log.Println("==============================================")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Initialize database and setup routes in background
	var jobScheduler *scheduler.Scheduler
	go func() {
		// Initialize database connection
		db, err := config.InitDB()
		if err != nil {
			log.Printf("ERROR: Database connection failed: %v", err)
			log.Println("Service will continue in limited mode (health check only)")
			return
		}

		// Run database migrations
		log.Println("Running database migrations...")
		if err := runMigrations(); err != nil {
			log.Printf("ERROR: Migration failed: %v", err)
		} else {
			log.Println("Database migrations completed successfully")
		}

		// Seed default admin user
		if err := controllers.SeedAdminUser(db); err != nil {
			log.Printf("Warning: Could not seed admin user: %v", err)
		}

		// Initialize market data pipeline and supporting services
		svc, jobs := initializeServices(cfg, db)

		// Mark database as ready
		dbInitMutex.Lock()
		dbInitialized = true
		dbInitMutex.Unlock()

		// Setup all API routes
		routes.SetupRoutes(router, db, svc)

		// Start background scheduler
		jobScheduler = scheduler.NewScheduler(db, jobs)
		go jobScheduler.Start()

		log.Println("Application fully initialized with database")
	}()

	// Graceful shutdown
	gracefulShutdown(server, &jobScheduler)
}

// runMigrations runs all database migrations
func runMigrations() error {
	db := config.DB

	// Migrate user models
	if err := models.MigrateUserModels(db); err != nil {
		return err
	}

	// Migrate watch list models
	if err := models.MigrateWatchlistModels(db); err != nil {
		return err
	}

	// Migrate alert models
	if err := models.MigrateAlertModels(db); err != nil {
		return err
	}

	// Migrate mover-scan models
	if err := models.MigrateMoverModels(db); err != nil {
		return err
	}

	return nil
}

// initializeServices wires the candle cache, archive, market data client,
// realtime hub and the services built on them. It returns the service set
// for the routes plus the configuration for the scheduled jobs.
func initializeServices(cfg *config.Config, db *gorm.DB) (routes.Services, scheduler.Config) {
	// Local SQLite candle cache; the app degrades to provider-only mode
	// when it cannot be opened.
	if err := candlecache.Init(cfg.DataDir); err != nil {
		log.Printf("Warning: Failed to initialize candle cache: %v", err)
	}

	// MongoDB archive is optional
	if err := archive.InitArchive(cfg.MongoURI); err != nil {
		log.Printf("MongoDB archive not configured or failed to connect: %v", err)
	}

	market := marketdata.NewService(cfg.PolygonAPIKey)
	levelService := levels.NewService(market, candlecache.GlobalStore)

	// Realtime quote hub for websocket clients
	if err := realtime.InitHub(market, cfg.QuotePollSec); err != nil {
		log.Printf("Warning: Failed to initialize realtime hub: %v", err)
	} else if err := realtime.GlobalHub.StartPolling(); err != nil {
		log.Printf("Warning: Failed to start quote polling: %v", err)
	}

	var scanArchiver movers.ScanArchiver
	if archive.GlobalArchive.IsConfigured() {
		scanArchiver = archive.GlobalArchive
	}
	scanner := movers.NewScanner(db, market, realtime.GlobalHub, scanArchiver)
	syncer := barsync.NewSyncer(db, market, candlecache.GlobalStore, levelService, archive.GlobalArchive)
	alertEngine := alerts.NewEngine(db, market, levelService, realtime.GlobalHub)

	log.Println("Global services initialized")

	svc := routes.Services{
		Market:  market,
		Levels:  levelService,
		Cache:   candlecache.GlobalStore,
		Scanner: scanner,
		Syncer:  syncer,
		Archive: archive.GlobalArchive,
		Hub:     realtime.GlobalHub,
	}
	jobs := scheduler.Config{
		Alerts:           alertEngine,
		Scanner:          scanner,
		Syncer:           syncer,
		Cache:            candlecache.GlobalStore,
		ScanIntervalMin:  cfg.ScanIntervalMin,
		ScanWindow:       cfg.ScanWindow,
		ScanThresholdPct: cfg.ScanThresholdPct,
	}
	return svc, jobs
}

// setupHealthEndpoints sets up health check endpoints for Cloud Run
func setupHealthEndpoints(router *gin.Engine) {
	// Root endpoint
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Tickerdeck API",
			"version": "1.0.0",
		})
	})

	// Liveness probe - always returns OK if server is running
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	// Readiness probe - checks if service is ready to receive traffic
	router.GET("/ready", func(c *gin.Context) {
		dbInitMutex.RLock()
		isDBReady := dbInitialized
		dbInitMutex.RUnlock()

		if !isDBReady {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database not connected",
			})
			return
		}

		// Check database connection
		sqlDB, err := config.DB.DB()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database connection error",
			})
			return
		}

		if err := sqlDB.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database ping failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "ready",
		})
	})

	// Startup probe - can be used for initial health check
	router.GET("/startup", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "started",
		})
	})
}

// corsMiddleware returns a CORS middleware handler
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestLogger returns a request logging middleware
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip logging for health checks to reduce noise
		path := c.Request.URL.Path
		if path == "/health" || path == "/ready" || path == "/startup" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		// Only log errors or slow requests in production
		if c.Writer.Status() >= 400 || duration > 1*time.Second {
			log.Printf("%s %s %d %v", c.Request.Method, path, c.Writer.Status(), duration)
		}
	}
}

// gracefulShutdown handles graceful shutdown of the server. The
// scheduler slot is taken by reference because the background init
// goroutine fills it after startup.
func gracefulShutdown(server *http.Server, jobScheduler **scheduler.Scheduler) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	sig := <-quit
	log.Printf("Received signal %v, shutting down gracefully...", sig)

	// Stop scheduler first
	if s := *jobScheduler; s != nil {
		s.Stop()
	}

	// Stop quote polling and disconnect websocket clients
	if realtime.GlobalHub != nil {
		realtime.GlobalHub.StopPolling()
		realtime.GlobalHub.Shutdown()
	}

	// Create context with timeout for shutdown
	// Cloud Run gives 10 seconds for graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// Close archive connection
	if archive.GlobalArchive != nil {
		if err := archive.GlobalArchive.Close(); err != nil {
			log.Printf("Archive close error: %v", err)
		}
	}

	// Close candle cache
	if candlecache.GlobalStore != nil {
		if err := candlecache.GlobalStore.Close(); err != nil {
			log.Printf("Candle cache close error: %v", err)
		}
	}

	// Close database connection
	if config.DB != nil {
		sqlDB, err := config.DB.DB()
		if err == nil {
			sqlDB.Close()
			log.Println("Database connection closed")
		}
	}

	log.Println("Server shutdown completed")
}
