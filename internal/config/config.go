package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Supported values for STORE_BACKEND.
const (
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendMemory   = "memory"
)

// Config captures all runtime configuration derived from environment variables.
type Config struct {
	Port                 string
	LogLevel             string
	StoreBackend         string
	DBURL                string
	MongoURI             string
	MongoDatabase        string
	MongoCollection      string
	ImageHostURL         string
	ImageHostAPIKey      string
	ImageHostTimeoutSecs int
	NATSURL              string
	CORSAllowedOrigins   []string
	RatingMaxAttempts    int
	ReadTimeoutSecs      int
	WriteTimeoutSecs     int
	IdleTimeoutSecs      int
	DBMaxConns           int
	DBMinConns           int
	DBMaxIdleSecs        int
	DBMaxLifeSecs        int
	DBConnTimeoutSecs    int
	DBStatementCache     int
	DBAutoMigrate        bool
}

// Load reads configuration from environment variables, applying defaults and validation.
func Load() (Config, error) {
	cfg := Config{
		Port:                 getEnv("PORT", "8080"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		StoreBackend:         strings.ToLower(getEnv("STORE_BACKEND", BackendPostgres)),
		DBURL:                os.Getenv("DB_URL"),
		MongoURI:             os.Getenv("MONGO_URI"),
		MongoDatabase:        getEnv("MONGO_DB", "hidden-spots"),
		MongoCollection:      getEnv("MONGO_COLLECTION", "spots"),
		ImageHostURL:         strings.TrimSpace(os.Getenv("IMAGEHOST_URL")),
		ImageHostAPIKey:      os.Getenv("IMAGEHOST_API_KEY"),
		ImageHostTimeoutSecs: getEnvInt("IMAGEHOST_TIMEOUT_SECS", 10),
		NATSURL:              strings.TrimSpace(os.Getenv("NATS_URL")),
		CORSAllowedOrigins:   getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		RatingMaxAttempts:    getEnvInt("RATING_MAX_ATTEMPTS", 3),
		ReadTimeoutSecs:      getEnvInt("SERVER_READ_TIMEOUT", 15),
		WriteTimeoutSecs:     getEnvInt("SERVER_WRITE_TIMEOUT", 15),
		IdleTimeoutSecs:      getEnvInt("SERVER_IDLE_TIMEOUT", 60),
		DBMaxConns:           getEnvInt("DB_MAX_CONNS", 20),
		DBMinConns:           getEnvInt("DB_MIN_CONNS", 2),
		DBMaxIdleSecs:        getEnvInt("DB_MAX_CONN_IDLE_SECS", 300),
		DBMaxLifeSecs:        getEnvInt("DB_MAX_CONN_LIFETIME_SECS", 3600),
		DBConnTimeoutSecs:    getEnvInt("DB_CONN_TIMEOUT_SECS", 10),
		DBStatementCache:     getEnvInt("DB_STATEMENT_CACHE_CAPACITY", 256),
		DBAutoMigrate:        getEnvBool("DB_AUTO_MIGRATE", true),
	}

	switch cfg.StoreBackend {
	case BackendPostgres:
		if cfg.DBURL == "" {
			return Config{}, fmt.Errorf("DB_URL is required when STORE_BACKEND=postgres")
		}
	case BackendMongo:
		if cfg.MongoURI == "" {
			return Config{}, fmt.Errorf("MONGO_URI is required when STORE_BACKEND=mongo")
		}
	case BackendMemory:
	default:
		return Config{}, fmt.Errorf("STORE_BACKEND must be one of postgres, mongo, memory (got %q)", cfg.StoreBackend)
	}

	if cfg.ImageHostURL != "" && cfg.ImageHostAPIKey == "" {
		return Config{}, fmt.Errorf("IMAGEHOST_API_KEY is required when IMAGEHOST_URL is set")
	}
	if cfg.ImageHostTimeoutSecs <= 0 {
		return Config{}, fmt.Errorf("IMAGEHOST_TIMEOUT_SECS must be positive")
	}
	if cfg.RatingMaxAttempts <= 0 {
		return Config{}, fmt.Errorf("RATING_MAX_ATTEMPTS must be positive")
	}
	if cfg.DBMaxConns <= 0 {
		return Config{}, fmt.Errorf("DB_MAX_CONNS must be positive")
	}
	if cfg.DBMinConns < 0 {
		return Config{}, fmt.Errorf("DB_MIN_CONNS must be non-negative")
	}
	if cfg.DBMaxConns > 0 && cfg.DBMinConns > cfg.DBMaxConns {
		return Config{}, fmt.Errorf("DB_MIN_CONNS cannot exceed DB_MAX_CONNS")
	}
	if cfg.DBStatementCache < 0 {
		return Config{}, fmt.Errorf("DB_STATEMENT_CACHE_CAPACITY must be non-negative")
	}

	return cfg, nil
}

// UploadsEnabled reports whether multipart image uploads can be forwarded.
func (c Config) UploadsEnabled() bool {
	return c.ImageHostURL != ""
}

func getEnv(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	values := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	if len(values) == 0 {
		return fallback
	}
	return values
}
