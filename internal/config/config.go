package config

import "time"

// RelayConfig is the root configuration for a relay instance.
type RelayConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Auth      AuthConfig      `yaml:"auth"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds WebSocket listener settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	Path         string        `yaml:"path"`
	ReadLimit    int64         `yaml:"read_limit"` // Max inbound frame size in bytes
	WriteTimeout time.Duration `yaml:"write_timeout"`
	SendBuffer   int           `yaml:"send_buffer"`  // Per-connection outbound queue length
	CheckOrigin  bool          `yaml:"check_origin"` // Reject cross-origin upgrades
}

// HeartbeatConfig holds liveness settings. GracePeriod must exceed Interval.
type HeartbeatConfig struct {
	Interval    time.Duration `yaml:"interval"`
	GracePeriod time.Duration `yaml:"grace_period"`
}

// Auth modes.
const (
	AuthNone     = "none"
	AuthJWT      = "jwt"
	AuthPostgres = "postgres"
)

// AuthConfig selects how handshakes are authenticated.
type AuthConfig struct {
	Mode      string   `yaml:"mode"`       // "none", "jwt" or "postgres"
	JWTSecret string   `yaml:"jwt_secret"` // HMAC secret (jwt mode)
	Database  DBConfig `yaml:"database"`   // Key table location (postgres mode)
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// Status server routes that metrics.path may not shadow.
const (
	HealthPath      = "/health"
	ConnectionsPath = "/connections"
)

// MetricsConfig holds the status/metrics HTTP server settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "text" or "json"
}
