package realtime

import "time"

// Security/performance limits.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	// Max length of client-supplied identifiers (band/rehearsal/user ids).
	maxIDChars = 64

	// Max length of rehearsal titles and availability status values.
	maxTitleChars  = 200
	maxStatusChars = 32
)

const (
	// Heartbeat defaults (can be overridden by env in ws_gateway.go).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (events per window).
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second
)
