package routes

import (
	"os"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"tickerdeck/controllers"
	"tickerdeck/middleware"
	"tickerdeck/services/archive"
	"tickerdeck/services/barsync"
	"tickerdeck/services/candlecache"
	"tickerdeck/services/levels"
	"tickerdeck/services/marketdata"
	"tickerdeck/services/movers"
	"tickerdeck/services/realtime"
)

// Services carries the shared service instances the routes depend on.
// Optional members (Cache, Archive, Hub) may be nil.
type Services struct {
	Market  *marketdata.Service
	Levels  *levels.Service
	Cache   *candlecache.Store
	Scanner *movers.Scanner
	Syncer  *barsync.Syncer
	Archive *archive.Client
	Hub     *realtime.Hub
}

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, db *gorm.DB, svc Services) {
	// Initialize controllers
	symbolController := controllers.NewSymbolController(svc.Market, svc.Levels, svc.Cache)
	authController := controllers.NewAuthController(db)
	watchlistController := controllers.NewWatchlistController(db)
	alertController := controllers.NewAlertController(db)
	moverController := controllers.NewMoverController(svc.Scanner, svc.Archive)
	toolsController := controllers.NewToolsController()
	adminController := controllers.NewAdminController(db, svc.Syncer, svc.Hub, svc.Archive, svc.Cache)

	// API v1 group
	api := router.Group("/api/v1")
	{
		// Symbol and market-data routes
		symbols := api.Group("/symbols")
		{
			symbols.GET("/search", symbolController.SearchSymbols)
			symbols.GET("/:symbol/candles", symbolController.GetCandles)
			symbols.GET("/:symbol/quote", symbolController.GetQuote)
			symbols.GET("/:symbol/levels", symbolController.GetLevels)
			symbols.GET("/:symbol/options", symbolController.GetOptions)
			symbols.GET("/:symbol/options/expirations", symbolController.GetOptionExpirations)
		}
		api.GET("/sessions", symbolController.GetSessions)

		// Mover routes (scan trigger requires auth, reads identify the
		// caller when a token is supplied)
		api.GET("/movers", middleware.OptionalJWTAuthMiddleware(), moverController.GetLatest)
		api.GET("/movers/history", middleware.OptionalJWTAuthMiddleware(), moverController.GetHistory)

		// Tools
		api.POST("/tools/read-github-file", toolsController.ReadGitHubFile)

		// Auth routes
		auth := api.Group("/auth")
		{
			auth.POST("/register", authController.Register)
			auth.POST("/login", middleware.LoginRateLimitMiddleware(), authController.Login)
		}

		// Authenticated routes
		authed := api.Group("", middleware.JWTAuthMiddleware())
		{
			authed.GET("/auth/me", authController.Me)
			authed.PUT("/auth/preferences", authController.UpdatePreferences)

			authed.POST("/movers/scan", moverController.TriggerScan)

			watchlists := authed.Group("/watchlists")
			{
				watchlists.GET("", watchlistController.GetWatchLists)
				watchlists.POST("", watchlistController.CreateWatchList)
				watchlists.PUT("/:id", watchlistController.RenameWatchList)
				watchlists.DELETE("/:id", watchlistController.DeleteWatchList)
				watchlists.POST("/:id/items", watchlistController.AddItem)
				watchlists.DELETE("/:id/items/:symbol", watchlistController.RemoveItem)
				watchlists.POST("/:id/import", watchlistController.ImportFromGitHub)
			}

			alerts := authed.Group("/alerts")
			{
				alerts.GET("", alertController.ListAlerts)
				alerts.POST("", alertController.CreateAlert)
				alerts.PUT("/:id", alertController.UpdateAlert)
				alerts.DELETE("/:id", alertController.DeleteAlert)
			}
		}

		// Admin routes
		admin := api.Group("/admin", middleware.JWTAuthMiddleware(), middleware.AdminRoleMiddleware())
		{
			admin.POST("/sync-candles", adminController.SyncCandles)
			admin.GET("/users", adminController.ListUsers)
			admin.GET("/status", adminController.GetStatus)
			admin.GET("/archive/bars/:symbol", adminController.GetArchivedBars)
		}
	}

	// Websocket endpoint for realtime quotes and alerts
	if svc.Hub != nil {
		router.GET("/ws", func(c *gin.Context) {
			svc.Hub.HandleWebSocket(c.Writer, c.Request)
		})
	}

	// Static frontend, served when the web directory exists
	if info, err := os.Stat("./web"); err == nil && info.IsDir() {
		router.Static("/app", "./web")
	}
}
