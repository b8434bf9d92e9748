package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultJWTSecret is the development fallback for JWT_SECRET. Tokens signed
// with it can be forged by anyone who has read this file.
const DefaultJWTSecret = "secret"

type Config struct {
	ServerPort  string
	DatabaseURL string
	RedisURL    string
	JWTSecret   string
	AdminToken  string
	RequireAuth bool
	BaseDomain  string

	LogLevel  string
	LogFormat string

	TenantSource string
	TenantsFile  string

	CacheBackend string
	CacheTTL     time.Duration

	RateLimitBackend string
	RateLimitWindow  time.Duration

	VectorBackend    string
	QdrantHost       string
	QdrantPort       int
	QdrantAPIKey     string
	QdrantCollection string
	QdrantTLS        bool
	ChromemPath      string
	VectorSize       int

	OpenAIAPIKey   string
	OpenAIBaseURL  string
	ChatModel      string
	EmbeddingModel string

	RequestTimeout    time.Duration
	NamespaceTimeout  time.Duration
	CompletionTimeout time.Duration

	EventStore         string
	OSSEndpoint        string
	OSSAccessKeyID     string
	OSSAccessKeySecret string
	OSSBucket          string
	OSSPrefix          string
	EventBatchSize     int
	EventFlushInterval time.Duration
	EventMaxBuffered   int

	WorkerPoolSize int
}

func Load() (*Config, error) {
	godotenv.Load()

	return &Config{
		ServerPort:  getEnv("SERVER_PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379"),
		JWTSecret:   getEnv("JWT_SECRET", DefaultJWTSecret),
		AdminToken:  getEnv("ADMIN_TOKEN", ""),
		RequireAuth: getEnvBool("REQUIRE_AUTH", false),
		BaseDomain:  getEnv("BASE_DOMAIN", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		TenantSource: getEnv("TENANT_SOURCE", "file"),
		TenantsFile:  getEnv("TENANTS_FILE", "tenants.yaml"),

		CacheBackend: getEnv("CACHE_BACKEND", "memory"),
		CacheTTL:     getEnvDuration("CACHE_TTL", time.Hour),

		RateLimitBackend: getEnv("RATE_LIMIT_BACKEND", "memory"),
		RateLimitWindow:  getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),

		VectorBackend:    getEnv("VECTOR_BACKEND", "qdrant"),
		QdrantHost:       getEnv("QDRANT_HOST", "localhost"),
		QdrantPort:       getEnvInt("QDRANT_PORT", 6334),
		QdrantAPIKey:     getEnv("QDRANT_API_KEY", ""),
		QdrantCollection: getEnv("QDRANT_COLLECTION", "rag_chunks"),
		QdrantTLS:        getEnvBool("QDRANT_TLS", false),
		ChromemPath:      getEnv("CHROMEM_PATH", ""),
		VectorSize:       getEnvInt("VECTOR_SIZE", 1536),

		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:  getEnv("OPENAI_BASE_URL", ""),
		ChatModel:      getEnv("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
		EmbeddingModel: getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),

		RequestTimeout:    getEnvDuration("REQUEST_TIMEOUT", 60*time.Second),
		NamespaceTimeout:  getEnvDuration("NAMESPACE_TIMEOUT", 5*time.Second),
		CompletionTimeout: getEnvDuration("COMPLETION_TIMEOUT", 30*time.Second),

		EventStore:         getEnv("EVENT_STORE", "memory"),
		OSSEndpoint:        getEnv("OSS_ENDPOINT", ""),
		OSSAccessKeyID:     getEnv("OSS_ACCESS_KEY_ID", ""),
		OSSAccessKeySecret: getEnv("OSS_ACCESS_KEY_SECRET", ""),
		OSSBucket:          getEnv("OSS_BUCKET", ""),
		OSSPrefix:          getEnv("OSS_PREFIX", "logs/"),
		EventBatchSize:     getEnvInt("EVENT_BATCH_SIZE", 100),
		EventFlushInterval: getEnvDuration("EVENT_FLUSH_INTERVAL", time.Minute),
		EventMaxBuffered:   getEnvInt("EVENT_MAX_BUFFERED", 10000),

		WorkerPoolSize: getEnvInt("WORKER_POOL_SIZE", 16),
	}, nil
}

// Warnings lists settings that are unsafe outside local development.
func (c *Config) Warnings() []string {
	var out []string
	if c.JWTSecret == DefaultJWTSecret {
		if c.RequireAuth {
			out = append(out, "JWT_SECRET is the built-in default, bearer tokens can be forged")
		} else {
			out = append(out, "JWT_SECRET is the built-in default and REQUIRE_AUTH is off, any caller can act as any tenant")
		}
	}
	if c.AdminToken == "" {
		out = append(out, "ADMIN_TOKEN is not set, admin API disabled")
	}
	return out
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	return defaultVal
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultVal
}
