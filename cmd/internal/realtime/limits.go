package realtime

import "time"

// Security/performance limits for the websocket surface.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB
)

const (
	// Heartbeat defaults (overridable via env in config.go).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (control events per window).
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second
)
