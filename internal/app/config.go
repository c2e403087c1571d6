package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendMongo   = "mongo"
	BackendPostGIS = "postgis"
	BackendElastic = "elastic"
	BackendMemory  = "memory"

	TileStoreStorage = "storage"
	TileStoreRedis   = "redis"
)

type Config struct {
	HTTPAddr         string
	LogLevel         string
	LogFormat        string
	StorageBackend   string
	MongoURI         string
	MongoDatabase    string
	DatabaseURL      string
	ElasticURL       string
	TileStore        string
	RedisURL         string
	KakaoAPIKey      string
	GoogleAPIKey     string
	OverpassURL      string
	UserAgent        string
	ProviderTimeout  time.Duration
	ProviderRPS      int
	TileTTL          time.Duration
	HTTPRateLimitRPS int
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (default ".env") without overriding
// variables already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(getEnv("LOG_FORMAT", "text")),
		StorageBackend:   strings.ToLower(getEnv("STORAGE_BACKEND", BackendMongo)),
		MongoURI:         getEnv("MONGO_URI", ""),
		MongoDatabase:    getEnv("MONGO_DB", "meomok"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		ElasticURL:       getEnv("ELASTIC_URL", ""),
		TileStore:        strings.ToLower(getEnv("TILE_STORE", TileStoreStorage)),
		RedisURL:         getEnv("REDIS_URL", ""),
		KakaoAPIKey:      getEnv("KAKAO_REST_API_KEY", ""),
		GoogleAPIKey:     getEnv("GOOGLE_MAPS_API_KEY", ""),
		OverpassURL:      getEnv("OVERPASS_URL", ""),
		UserAgent:        getEnv("USER_AGENT", "meomok/1.0"),
		ProviderTimeout:  time.Duration(getEnvInt("PROVIDER_TIMEOUT_SECONDS", 10)) * time.Second,
		ProviderRPS:      getEnvInt("PROVIDER_RPS", 5),
		TileTTL:          time.Duration(getEnvInt("TILE_TTL_HOURS", 6)) * time.Hour,
		HTTPRateLimitRPS: getEnvInt("HTTP_RATE_LIMIT_RPS", 50),
	}
}

// Validate reports every missing credential or endpoint at once.
func (c Config) Validate() error {
	var problems []string
	if c.KakaoAPIKey == "" {
		problems = append(problems, "KAKAO_REST_API_KEY is required")
	}
	if c.GoogleAPIKey == "" {
		problems = append(problems, "GOOGLE_MAPS_API_KEY is required")
	}
	switch c.StorageBackend {
	case BackendMongo:
		if c.MongoURI == "" {
			problems = append(problems, "MONGO_URI is required for the mongo backend")
		}
	case BackendPostGIS:
		if c.DatabaseURL == "" {
			problems = append(problems, "DATABASE_URL is required for the postgis backend")
		}
	case BackendElastic:
		if c.ElasticURL == "" {
			problems = append(problems, "ELASTIC_URL is required for the elastic backend")
		}
	case BackendMemory:
	default:
		problems = append(problems, fmt.Sprintf("unknown STORAGE_BACKEND %q", c.StorageBackend))
	}
	switch c.TileStore {
	case TileStoreStorage:
	case TileStoreRedis:
		if c.RedisURL == "" {
			problems = append(problems, "REDIS_URL is required when TILE_STORE=redis")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown TILE_STORE %q", c.TileStore))
	}
	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
