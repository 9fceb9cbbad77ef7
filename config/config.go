package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// AnalyzerConfig holds the tuning knobs of the duplicate-detection engine.
// These were free-form option maps in the legacy system; here they are typed
// fields with defaults so unknown keys cannot hide.
type AnalyzerConfig struct {
	GroupingThreshold     float64       // min similarity to union two tracks into a group
	CatalogMatchThreshold float64       // min similarity for a fuzzy catalog match
	CleanupDays           int           // retention window for persisted runs
	MaxRunsPerOwner       int           // keep-count per owner, older runs beyond it are cleaned
	AnalysisTimeout       time.Duration // wall-clock budget per run
	CatalogLookupTimeout  time.Duration // per-lookup budget against the external catalog
	ProgressTTL           time.Duration // how long terminal progress stays pollable in memory
	StalenessFresh        time.Duration // run younger than this is "fresh"
	StalenessModerate     time.Duration // ... younger than this is "moderate"
	StalenessStale        time.Duration // ... younger than this is "stale", older is "very_stale"
}

// Config stores the application configuration.
type Config struct {
	ServerAddr  string
	CatalogPath string // iTunes-exported library XML consumed read-only

	LogLevel string
	LogFile  string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MinIO export archival (optional)
	MinioEnabled   bool
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	JWTSecret     string
	AdminUser     string
	AdminPassword string

	Analyzer AnalyzerConfig
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvFloat gets an environment variable as float64 or returns a default value.
func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// Attempt to load .env file. godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	return &Config{
		ServerAddr:  getEnv("SERVER_ADDR", ":8080"),
		CatalogPath: getEnv("CATALOG_PATH", "library/Library.xml"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // no hardcoded default for credentials
		DBName:     getEnv("DB_NAME", "tunesweep"),

		// Redis配置，使用默认值
		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEnabled:   getEnvBool("MINIO_ENABLED", false),
		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "tunesweep-exports"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		JWTSecret:     getEnv("JWT_SECRET", "dev-secret-change-me"),
		AdminUser:     getEnv("ADMIN_USER", "admin"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),

		Analyzer: AnalyzerConfig{
			GroupingThreshold:     getEnvFloat("GROUPING_THRESHOLD", 0.7),
			CatalogMatchThreshold: getEnvFloat("CATALOG_MATCH_THRESHOLD", 0.85),
			CleanupDays:           getEnvInt("CLEANUP_DAYS", 30),
			MaxRunsPerOwner:       getEnvInt("MAX_RUNS_PER_OWNER", 5),
			AnalysisTimeout:       time.Duration(getEnvInt("ANALYSIS_TIMEOUT_SECONDS", 300)) * time.Second,
			CatalogLookupTimeout:  time.Duration(getEnvInt("CATALOG_LOOKUP_TIMEOUT_SECONDS", 5)) * time.Second,
			ProgressTTL:           time.Duration(getEnvInt("PROGRESS_TTL_SECONDS", 600)) * time.Second,
			StalenessFresh:        time.Hour,
			StalenessModerate:     24 * time.Hour,
			StalenessStale:        7 * 24 * time.Hour,
		},
	}
}
