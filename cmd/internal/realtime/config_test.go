package realtime

import (
	"net/http"
	"testing"
	"time"
)

func TestGatewayConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("RIPPLE_WS_ORIGIN_REQUIRED", "false")
	t.Setenv("RIPPLE_WS_ALLOWED_ORIGINS", "https://app.example.com, https://staging.example.com")
	t.Setenv("RIPPLE_WS_SEND_QUEUE", "128")
	t.Setenv("RIPPLE_WS_RATE_EVENTS", "10")
	t.Setenv("RIPPLE_WS_RATE_WINDOW", "2s")

	cfg := GatewayConfigFromEnv()

	if cfg.OriginRequired {
		t.Fatalf("OriginRequired not overridden")
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "https://app.example.com" {
		t.Fatalf("AllowedOrigins=%v", cfg.AllowedOrigins)
	}
	if cfg.SendQueueSize != 128 {
		t.Fatalf("SendQueueSize=%d", cfg.SendQueueSize)
	}
	if cfg.RateEvents != 10 || cfg.RateWindow != 2*time.Second {
		t.Fatalf("rate settings: %d/%v", cfg.RateEvents, cfg.RateWindow)
	}
}

func TestGatewayConfigFromEnv_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("RIPPLE_WS_SEND_QUEUE", "not-a-number")
	t.Setenv("RIPPLE_WS_WRITE_TIMEOUT", "-3s")

	cfg := GatewayConfigFromEnv()
	if cfg.SendQueueSize != wsDefaultSendQueueSize {
		t.Fatalf("SendQueueSize=%d want default", cfg.SendQueueSize)
	}
	if cfg.WriteTimeout != wsDefaultWriteTimeout {
		t.Fatalf("WriteTimeout=%v want default", cfg.WriteTimeout)
	}
}

func TestGatewayConfigNormalized_FloorsQueueSize(t *testing.T) {
	t.Parallel()

	cfg := GatewayConfig{SendQueueSize: 1}.normalized()
	if cfg.SendQueueSize != wsMinSendQueueSize {
		t.Fatalf("SendQueueSize=%d want floor %d", cfg.SendQueueSize, wsMinSendQueueSize)
	}
	if cfg.WriteTimeout <= 0 || cfg.HeartbeatEvery <= 0 || cfg.RateEvents <= 0 {
		t.Fatalf("zero values not normalized: %+v", cfg)
	}
}

func TestEnforceOrigin(t *testing.T) {
	t.Parallel()

	newGW := func(required bool, allowed ...string) *WSGateway {
		cfg := DefaultGatewayConfig()
		cfg.OriginRequired = required
		cfg.AllowedOrigins = allowed
		return NewWSGateway(nil, NewHub(nil), nil, cfg)
	}

	cases := []struct {
		name    string
		gw      *WSGateway
		origin  string
		wantErr bool
	}{
		{"missing origin required", newGW(true, "http://localhost"), "", true},
		{"missing origin optional", newGW(false, "http://localhost"), "", false},
		{"exact match", newGW(true, "https://app.example.com"), "https://app.example.com", false},
		{"host match ignores port", newGW(true, "http://localhost"), "http://localhost:5173", false},
		{"not allowlisted", newGW(true, "http://localhost"), "https://evil.example.com", true},
		{"wildcard", newGW(true, "*"), "https://anywhere.example.com", false},
		{"empty allowlist", newGW(true), "https://app.example.com", true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			r, _ := http.NewRequest(http.MethodGet, "/ws", nil)
			if tc.origin != "" {
				r.Header.Set("Origin", tc.origin)
			}
			err := tc.gw.enforceOrigin(r)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tc.wantErr)
			}
		})
	}
}

func TestOriginHostOnly(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"https://App.Example.com", "app.example.com"},
		{"http://localhost:5173", "localhost"},
		{"localhost:8080", "localhost"},
		{"example.com", "example.com"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := originHostOnly(tc.in); got != tc.want {
			t.Fatalf("originHostOnly(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}
