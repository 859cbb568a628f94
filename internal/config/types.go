package config

import "time"

// Config represents the main configuration structure
type Config struct {
	Masking   MaskingConfig     `yaml:"masking" mapstructure:"masking"`
	Shuffling ShufflingConfig   `yaml:"shuffling" mapstructure:"shuffling"`
	TagMap    map[string]string `yaml:"tag_map" mapstructure:"tag_map"`
	Paths     PathsConfig       `yaml:"paths" mapstructure:"paths"`
	Vault     VaultConfig       `yaml:"vault" mapstructure:"vault"`
	Server    ServerConfig      `yaml:"server" mapstructure:"server"`
	WebSocket WebSocketConfig   `yaml:"websocket" mapstructure:"websocket"`
	Ledger    LedgerConfig      `yaml:"ledger" mapstructure:"ledger"`
	Logging   LoggingConfig     `yaml:"logging" mapstructure:"logging"`
}

// MaskingConfig controls how numeric values are replaced with placeholders
type MaskingConfig struct {
	ValuePattern string `yaml:"value_pattern" mapstructure:"value_pattern"`
	UUIDFormat   string `yaml:"uuid_format" mapstructure:"uuid_format"`
	// PreserveAttributes is accepted for compatibility; attributes are
	// never masked.
	PreserveAttributes []string `yaml:"preserve_attributes" mapstructure:"preserve_attributes"`
}

// ShufflingConfig controls sibling reordering
type ShufflingConfig struct {
	Enabled    bool     `yaml:"enabled" mapstructure:"enabled"`
	Seed       *int64   `yaml:"seed" mapstructure:"seed"` // nil draws a fresh seed per run
	TargetTags []string `yaml:"target_tags" mapstructure:"target_tags"`
}

// GatekeeperConfig is the part of the configuration the transform
// pipeline reads.
type GatekeeperConfig struct {
	Masking   MaskingConfig
	Shuffling ShufflingConfig
	TagMap    map[string]string // nil selects the built-in map
}

// PathsConfig contains the directories the session service works in
type PathsConfig struct {
	InputDir      string `yaml:"input_dir" mapstructure:"input_dir"`
	OutputDir     string `yaml:"output_dir" mapstructure:"output_dir"`
	PolicyDir     string `yaml:"policy_dir" mapstructure:"policy_dir"`
	DefaultPolicy string `yaml:"default_policy" mapstructure:"default_policy"`
}

// VaultConfig selects where session vaults are kept
type VaultConfig struct {
	Backend      string `yaml:"backend" mapstructure:"backend"` // file or redis
	Dir          string `yaml:"dir" mapstructure:"dir"`
	Path         string `yaml:"path" mapstructure:"path"` // default vault for rehydrate
	RedisURL     string `yaml:"redis_url" mapstructure:"redis_url"`
	KeyPrefix    string `yaml:"key_prefix" mapstructure:"key_prefix"`
	PoolSize     int    `yaml:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int    `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host           string          `yaml:"host" mapstructure:"host"`
	Port           int             `yaml:"port" mapstructure:"port"`
	ReadTimeout    time.Duration   `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout   time.Duration   `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout    time.Duration   `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	RequestTimeout time.Duration   `yaml:"request_timeout" mapstructure:"request_timeout"`
	MaxBodyBytes   int64           `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// RateLimitConfig limits tool calls per client address
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int           `yaml:"burst" mapstructure:"burst"`
	IdleTTL           time.Duration `yaml:"idle_ttl" mapstructure:"idle_ttl"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	Path            string        `yaml:"path" mapstructure:"path"`
	MaxConnections  int           `yaml:"max_connections" mapstructure:"max_connections"`
	ReadBufferSize  int           `yaml:"read_buffer_size" mapstructure:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size" mapstructure:"write_buffer_size"`
	PingInterval    time.Duration `yaml:"ping_interval" mapstructure:"ping_interval"`
	PongTimeout     time.Duration `yaml:"pong_timeout" mapstructure:"pong_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	MaxMessageSize  int64         `yaml:"max_message_size" mapstructure:"max_message_size"`
	AllowedOrigins  []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	Events          EventsConfig  `yaml:"events" mapstructure:"events"`
}

// EventsConfig selects which event types are broadcast
type EventsConfig struct {
	BroadcastPolicies    bool `yaml:"broadcast_policies" mapstructure:"broadcast_policies"`
	BroadcastSessions    bool `yaml:"broadcast_sessions" mapstructure:"broadcast_sessions"`
	BroadcastConnections bool `yaml:"broadcast_connections" mapstructure:"broadcast_connections"`
}

// LedgerConfig contains the run ledger database configuration
type LedgerConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	Driver          string        `yaml:"driver" mapstructure:"driver"` // postgres or sqlite
	DSN             string        `yaml:"dsn" mapstructure:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string            `yaml:"level" mapstructure:"level"`
	Format string            `yaml:"format" mapstructure:"format"` // json or console
	File   LoggingFileConfig `yaml:"file" mapstructure:"file"`
}

// LoggingFileConfig enables an additional JSON log file
type LoggingFileConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// Gatekeeper returns the pipeline settings of c.
func (c *Config) Gatekeeper() GatekeeperConfig {
	return GatekeeperConfig{
		Masking:   c.Masking,
		Shuffling: c.Shuffling,
		TagMap:    c.TagMap,
	}
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	return &Config{
		Masking: MaskingConfig{
			ValuePattern:       `-?\d+\.?\d*`,
			UUIDFormat:         "VAL_{uuid}",
			PreserveAttributes: []string{"id", "type"},
		},
		Shuffling: ShufflingConfig{
			Enabled:    true,
			TargetTags: []string{"element", "node", "component"},
		},
		Paths: PathsConfig{
			InputDir:      "./data/input",
			OutputDir:     "./data/output",
			PolicyDir:     "./config",
			DefaultPolicy: "policy_locked.json",
		},
		Vault: VaultConfig{
			Backend:      "file",
			Dir:          "./vault",
			Path:         "./vault/session.vault.json",
			RedisURL:     "redis://localhost:6379/0",
			KeyPrefix:    "moltkeeper:vault:",
			PoolSize:     10,
			MinIdleConns: 2,
		},
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           3000,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    60 * time.Second,
			RequestTimeout: 60 * time.Second,
			MaxBodyBytes:   10 << 20,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: 10,
				Burst:             20,
				IdleTTL:           10 * time.Minute,
			},
		},
		WebSocket: WebSocketConfig{
			Enabled:         true,
			Path:            "/ws",
			MaxConnections:  100,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PingInterval:    54 * time.Second,
			PongTimeout:     60 * time.Second,
			WriteTimeout:    10 * time.Second,
			MaxMessageSize:  512,
			AllowedOrigins:  []string{"http://localhost", "http://127.0.0.1"},
			Events: EventsConfig{
				BroadcastPolicies:    true,
				BroadcastSessions:    true,
				BroadcastConnections: true,
			},
		},
		Ledger: LedgerConfig{
			Enabled:         false,
			Driver:          "sqlite",
			DSN:             "./data/ledger.db",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			File: LoggingFileConfig{
				Enabled: false,
				Path:    "logs/moltkeeper.log",
			},
		},
	}
}
