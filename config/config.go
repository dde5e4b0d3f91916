package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
)

// Config stores the application configuration.
type Config struct {
	HTTPAddr string

	// Local tier and quota
	LocalStorageDir      string
	MaxLocalStorageBytes int64
	EvictionTriggerRatio float64 // usage/quota above which eviction runs
	EvictionBatchRatio   float64 // share of records removed per pass

	// Metadata cache
	CacheBackend    string // "memory" or "redis"
	StreamCacheTTL  time.Duration
	DefaultCacheTTL time.Duration

	// Offline downloads
	DefaultQuality   string
	DefaultFormat    string
	JobGracePeriod   time.Duration
	ProgressInterval time.Duration
	DownloadTimeout  time.Duration
	FFmpegPath       string // empty disables transcoding
	ResolverBaseURL  string
	ResolverTimeout  time.Duration

	// MinIO remote tier, enabled when credentials are present
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	MinioRegion    string

	// Catalog database
	CatalogDriver string // "sqlite" or "mysql"
	SQLitePath    string
	DBHost        string
	DBPort        string
	DBUser        string
	DBPassword    string
	DBName        string

	// Redis metadata cache backend
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	JWTSecret string

	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
}

// RemoteEnabled reports whether the MinIO tier is configured.
func (c *Config) RemoteEnabled() bool {
	return c.MinioEndpoint != "" && c.MinioAccessKey != "" && c.MinioSecretKey != ""
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
		log.Printf("Ignoring invalid integer %s=%q", key, value)
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		log.Printf("Ignoring invalid number %s=%q", key, value)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvSeconds reads a number of seconds, or a Go duration string like "500ms".
func getEnvSeconds(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	log.Printf("Ignoring invalid duration %s=%q", key, value)
	return fallback
}

// quotaBytes accepts MAX_LOCAL_STORAGE ("10GB", "512MiB") before MAX_LOCAL_STORAGE_GB.
func quotaBytes() int64 {
	if human := strings.TrimSpace(os.Getenv("MAX_LOCAL_STORAGE")); human != "" {
		if n, err := humanize.ParseBytes(human); err == nil {
			return int64(n)
		}
		log.Printf("Ignoring invalid MAX_LOCAL_STORAGE=%q", human)
	}
	gb := getEnvFloat("MAX_LOCAL_STORAGE_GB", 10)
	return int64(gb * 1024 * 1024 * 1024)
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on existing environment variables and defaults.")
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment without touching .env files.
func FromEnv() *Config {
	return &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		LocalStorageDir:      getEnv("LOCAL_STORAGE_DIR", "offline_cache"),
		MaxLocalStorageBytes: quotaBytes(),
		EvictionTriggerRatio: getEnvFloat("EVICTION_TRIGGER_RATIO", 0.8),
		EvictionBatchRatio:   getEnvFloat("EVICTION_BATCH_RATIO", 0.2),

		CacheBackend:    getEnv("CACHE_BACKEND", "memory"),
		StreamCacheTTL:  getEnvSeconds("STREAM_CACHE_TTL", 3600*time.Second),
		DefaultCacheTTL: getEnvSeconds("DEFAULT_CACHE_TTL", 1800*time.Second),

		DefaultQuality:   getEnv("DEFAULT_QUALITY", "high"),
		DefaultFormat:    getEnv("DEFAULT_FORMAT", "mp3"),
		JobGracePeriod:   getEnvSeconds("JOB_GRACE_PERIOD", 10*time.Second),
		ProgressInterval: getEnvSeconds("PROGRESS_INTERVAL", 500*time.Millisecond),
		DownloadTimeout:  getEnvSeconds("DOWNLOAD_TIMEOUT", 10*time.Minute),
		FFmpegPath:       getEnv("FFMPEG_PATH", ""),
		ResolverBaseURL:  getEnv("RESOLVER_BASE_URL", "http://localhost:3000"),
		ResolverTimeout:  getEnvSeconds("RESOLVER_TIMEOUT", 30*time.Second),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "trackvault"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		MinioRegion:    getEnv("MINIO_REGION", ""),

		CatalogDriver: getEnv("CATALOG_DRIVER", "sqlite"),
		SQLitePath:    getEnv("SQLITE_PATH", "trackvault.db"),
		DBHost:        getEnv("DB_HOST", "127.0.0.1"),
		DBPort:        getEnv("DB_PORT", "3306"),
		DBUser:        getEnv("DB_USER", "root"),
		DBPassword:    os.Getenv("DB_PASSWORD"), // no hardcoded default for passwords
		DBName:        getEnv("DB_NAME", "trackvault"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		JWTSecret: os.Getenv("JWT_SECRET"),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", ""),
		LogMaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 30),
	}
}
