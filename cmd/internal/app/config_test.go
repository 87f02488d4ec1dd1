package app

import (
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.Env != "development" {
		t.Fatalf("Env=%q", cfg.Env)
	}
	if cfg.HTTPAddr != "0.0.0.0:8080" {
		t.Fatalf("HTTPAddr=%q", cfg.HTTPAddr)
	}
	if cfg.LogFormat != "json" || cfg.LogLevel != "info" {
		t.Fatalf("log settings: %q/%q", cfg.LogFormat, cfg.LogLevel)
	}
	if cfg.DBSchema != "ripple" {
		t.Fatalf("DBSchema=%q", cfg.DBSchema)
	}
	if !cfg.NotifyWorker {
		t.Fatalf("NotifyWorker should default to true")
	}
	if cfg.ReadinessRequireDB {
		t.Fatalf("ReadinessRequireDB should default to false")
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("RIPPLE_ENV", "production")
	t.Setenv("RIPPLE_HTTP_ADDR", "127.0.0.1:9090")
	t.Setenv("RIPPLE_LOG_LEVEL", "debug")
	t.Setenv("RIPPLE_HTTP_READ_TIMEOUT", "30s")
	t.Setenv("RIPPLE_DB_MAX_CONNS", "25")
	t.Setenv("RIPPLE_CORS_ALLOWED_ORIGINS", "https://app.example.com, https://admin.example.com")
	t.Setenv("RIPPLE_NOTIFY_WORKER", "false")

	cfg := LoadConfig()

	if cfg.Env != "production" {
		t.Fatalf("Env=%q", cfg.Env)
	}
	if cfg.HTTPAddr != "127.0.0.1:9090" {
		t.Fatalf("HTTPAddr=%q", cfg.HTTPAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("LogLevel=%q", cfg.LogLevel)
	}
	if cfg.ReadTimeout != 30*time.Second {
		t.Fatalf("ReadTimeout=%v", cfg.ReadTimeout)
	}
	if cfg.DBMaxConns != 25 {
		t.Fatalf("DBMaxConns=%d", cfg.DBMaxConns)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://admin.example.com" {
		t.Fatalf("CORSAllowedOrigins=%v", cfg.CORSAllowedOrigins)
	}
	if cfg.NotifyWorker {
		t.Fatalf("NotifyWorker not overridden")
	}
}

func TestLoadConfig_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("RIPPLE_HTTP_READ_TIMEOUT", "soon")
	t.Setenv("RIPPLE_DB_MAX_CONNS", "-5")
	t.Setenv("RIPPLE_NOTIFY_WORKER", "maybe")

	cfg := LoadConfig()

	if cfg.ReadTimeout != 15*time.Second {
		t.Fatalf("ReadTimeout=%v want default", cfg.ReadTimeout)
	}
	if cfg.DBMaxConns != 10 {
		t.Fatalf("DBMaxConns=%d want default", cfg.DBMaxConns)
	}
	if !cfg.NotifyWorker {
		t.Fatalf("unparseable bool must keep default")
	}
}
