package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// Errors
var (
	ErrClosed       = errors.New("connection closed")
	ErrUnknownRole  = errors.New("unknown role")
	ErrUnauthorized = errors.New("authentication rejected")
)

// Role identifies which side of the relay a connection is on.
type Role string

const (
	RoleUnassigned Role = ""
	RoleClient     Role = "client"
	RoleWorker     Role = "worker"
)

// Valid reports whether r is a role a peer may request in a handshake.
func (r Role) Valid() bool {
	return r == RoleClient || r == RoleWorker
}

func (r Role) String() string {
	if r == RoleUnassigned {
		return "unassigned"
	}
	return string(r)
}

// Socket is the transport-level handle owned by a Conn.
// Implementations must not call back into the relay from these methods.
type Socket interface {
	// Send queues one text frame.
	Send(data []byte) error

	// Ping sends a transport-level liveness probe.
	Ping() error

	// Close releases the underlying connection.
	Close() error
}

// RequestMeta describes the request a socket was accepted from.
type RequestMeta struct {
	RemoteAddr string
	Header     http.Header
}

// Authenticator decides whether a handshake payload may take the role it asks for.
// It may block; it runs off the registry lock. A non-nil error counts as rejection.
type Authenticator func(ctx context.Context, payload json.RawMessage) (bool, error)

// Config holds the heartbeat timing of a Registry.
type Config struct {
	HeartbeatInterval    time.Duration // How often each connection is probed
	HeartbeatGracePeriod time.Duration // Max silence before a connection is evicted
}

// DefaultConfig returns the default heartbeat timing.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:    5 * time.Second,
		HeartbeatGracePeriod: 15 * time.Second,
	}
}

// ConnInfo is a point-in-time view of a connection.
type ConnInfo struct {
	ID         string        `json:"id"`
	Address    string        `json:"address"`
	Role       string        `json:"role"`
	Worker     string        `json:"worker,omitempty"`
	RosterSize int           `json:"roster_size"`
	FirstSeen  time.Time     `json:"first_seen"`
	LastSeen   time.Time     `json:"last_seen"`
	Latency    time.Duration `json:"latency_ns"`
}

// Stats summarizes the registry.
type Stats struct {
	Connections int `json:"connections"`
	Unassigned  int `json:"unassigned"`
	Clients     int `json:"clients"`
	Workers     int `json:"workers"`
	Orphans     int `json:"orphans"`
}
