package realtime

import "time"

const (
	// Max bytes per websocket frame read.
	maxFrameBytes = 16 << 10 // 16 KiB

	// A tab must say hello within this long after the upgrade.
	helloTimeout = 10 * time.Second
)

const (
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection inbound limits (events per window).
	rateLimitEvents = 30
	rateLimitWindow = 10 * time.Second
)
