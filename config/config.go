package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	Port        string
	Environment string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	JWTSecret string

	PolygonAPIKey string
	MongoURI      string
	DataDir       string

	ScanIntervalMin  int
	ScanWindow       string
	ScanThresholdPct float64
	QuotePollSec     int

	AdminEmail    string
	AdminPassword string
}

var AppConfig *Config
var DB *gorm.DB

// LoadConfig loads environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "tickerdeck"),
		DBSSLMode:  getEnv("DB_SSLMODE", "require"),

		JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-me"),

		PolygonAPIKey: getEnv("POLYGON_API_KEY", ""),
		MongoURI:      getEnv("MONGODB_URI", ""),
		DataDir:       getEnv("DATA_DIR", "data"),

		ScanIntervalMin:  getEnvInt("SCAN_INTERVAL_MIN", 5),
		ScanWindow:       getEnv("SCAN_WINDOW", "1d"),
		ScanThresholdPct: getEnvFloat("SCAN_THRESHOLD_PCT", 3.0),
		QuotePollSec:     getEnvInt("QUOTE_POLL_SEC", 5),

		AdminEmail:    getEnv("ADMIN_EMAIL", ""),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	// Token middleware reads JWT_SECRET from the environment at call
	// time, so export the development default when nothing is set.
	if os.Getenv("JWT_SECRET") == "" {
		os.Setenv("JWT_SECRET", config.JWTSecret)
		log.Println("WARNING: JWT_SECRET not set, using the built-in development secret")
	}

	AppConfig = config
	return config, nil
}

func (c *Config) validate() error {
	if c.ScanThresholdPct <= 0 {
		return fmt.Errorf("SCAN_THRESHOLD_PCT must be positive, got %v", c.ScanThresholdPct)
	}
	if c.ScanIntervalMin < 1 {
		return fmt.Errorf("SCAN_INTERVAL_MIN must be at least 1, got %d", c.ScanIntervalMin)
	}
	if c.QuotePollSec < 1 {
		c.QuotePollSec = 1
	}
	if c.QuotePollSec > 300 {
		c.QuotePollSec = 300
	}
	return nil
}

// InitDB initializes database connection
func InitDB() (*gorm.DB, error) {
	// Log connection info (masked for security)
	log.Printf("Connecting to database: host=%s port=%s user=%s dbname=%s",
		maskHost(AppConfig.DBHost),
		AppConfig.DBPort,
		AppConfig.DBUser,
		AppConfig.DBName,
	)

	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=America/New_York",
		AppConfig.DBHost,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBPort,
		AppConfig.DBSSLMode,
	)

	var logLevel logger.LogLevel
	if AppConfig.Environment == "production" {
		logLevel = logger.Error
	} else {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})

	if err != nil {
		log.Printf("Database connection error: %v", err)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection with ping
	sqlDB, err := db.DB()
	if err != nil {
		log.Printf("Failed to get underlying database: %v", err)
		return nil, fmt.Errorf("failed to get database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		log.Printf("Database ping failed: %v", err)
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	log.Printf("Database connection verified successfully")
	DB = db
	return db, nil
}

// maskHost masks host for logging, preserving domain structure
func maskHost(host string) string {
	if len(host) <= 3 {
		return "***"
	}
	if len(host) <= 15 {
		return host[:3] + "***"
	}
	return host[:8] + "***" + host[len(host)-10:]
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Warning: invalid %s=%q, using default %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("Warning: invalid %s=%q, using default %v", key, value, defaultValue)
		return defaultValue
	}
	return f
}
