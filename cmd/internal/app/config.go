package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	Env      string // "development" | "production"
	HTTPAddr string

	LogLevel  string
	LogFormat string // "json" | "text" | "pretty"

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBSchema    string

	// RedisURL backs both the profile cache and the notification queue.
	// Empty disables both.
	RedisURL string

	// BoltPath enables the embedded single-node store when no database is
	// configured. Empty falls through to the in-memory store.
	BoltPath string

	// NotifyWorker runs the notification consumer inside this process.
	NotifyWorker bool

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool
}

// LoadConfig loads Config from environment variables with defaults.
// Outside production it first merges a local .env file, if present.
func LoadConfig() Config {
	env := EnvString("RIPPLE_ENV", "development")
	if env != "production" {
		_ = godotenv.Load()
		env = EnvString("RIPPLE_ENV", env)
	}

	return Config{
		Env:      env,
		HTTPAddr: EnvString("RIPPLE_HTTP_ADDR", "0.0.0.0:8080"),

		LogLevel:  EnvString("RIPPLE_LOG_LEVEL", "info"),
		LogFormat: EnvString("RIPPLE_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("RIPPLE_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("RIPPLE_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("RIPPLE_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("RIPPLE_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("RIPPLE_HTTP_MAX_HEADER_BYTES", 1<<20),

		CORSAllowedOrigins:   EnvCSV("RIPPLE_CORS_ALLOWED_ORIGINS", ""),
		CORSAllowCredentials: EnvBool("RIPPLE_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("RIPPLE_CORS_MAX_AGE_SECONDS", 600),

		DatabaseURL: EnvString("RIPPLE_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("RIPPLE_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("RIPPLE_DB_MIN_CONNS", 0),
		DBSchema:    EnvString("RIPPLE_DB_SCHEMA", "ripple"),

		RedisURL: EnvString("RIPPLE_REDIS_URL", ""),
		BoltPath: EnvString("RIPPLE_BOLT_PATH", ""),

		NotifyWorker: EnvBool("RIPPLE_NOTIFY_WORKER", true),

		ReadinessRequireDB: EnvBool("RIPPLE_READINESS_REQUIRE_DB", false),
	}
}

// ---- env helpers ----

// EnvString reads a string env var with a default.
func EnvString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

// EnvBool reads a bool env var with a default.
func EnvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// EnvInt reads a positive int env var with a default.
func EnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// EnvInt32 reads a non-negative int32 env var with a default.
func EnvInt32(key string, def int32) int32 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil || n < 0 {
		return def
	}
	return int32(n)
}

// EnvDuration reads a duration env var with a default.
func EnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// EnvCSV reads a comma-separated env var, trimming blanks.
func EnvCSV(key, def string) []string {
	raw := EnvString(key, def)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
