package transport

import (
	"errors"
	"time"
)

// Errors
var (
	ErrClosed         = errors.New("socket closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// Config configures the WebSocket server.
type Config struct {
	Addr         string        // Listen address (e.g., ":8080")
	Path         string        // Upgrade path (e.g., "/")
	ReadLimit    int64         // Max inbound frame size in bytes
	WriteTimeout time.Duration // Write deadline for frames and control messages
	SendBuffer   int           // Per-socket outbound queue length
	CheckOrigin  bool          // Enforce same-origin upgrades
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		Path:         "/",
		ReadLimit:    1 << 20,
		WriteTimeout: 5 * time.Second,
		SendBuffer:   256,
	}
}
