package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EnvPrefix prefixes environment overrides, e.g. MOLTKEEPER_SERVER_PORT.
const EnvPrefix = "MOLTKEEPER"

// Load loads configuration from file and environment variables. A config
// path that does not exist falls back to defaults.
func Load(configPath string) (*Config, error) {
	v := newViper()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/moltkeeper/")
		v.AddConfigPath("$HOME/.moltkeeper/")
	}

	// Read configuration
	if v.ConfigFileUsed() != "" || configPath == "" {
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, GetDefaults())

	// Environment variable overrides
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("shuffling.seed")
	return v
}

// setDefaults registers every key so environment overrides apply even when
// the file does not mention it. tag_map and shuffling.seed have no default.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("masking.value_pattern", d.Masking.ValuePattern)
	v.SetDefault("masking.uuid_format", d.Masking.UUIDFormat)
	v.SetDefault("masking.preserve_attributes", d.Masking.PreserveAttributes)

	v.SetDefault("shuffling.enabled", d.Shuffling.Enabled)
	v.SetDefault("shuffling.target_tags", d.Shuffling.TargetTags)

	v.SetDefault("paths.input_dir", d.Paths.InputDir)
	v.SetDefault("paths.output_dir", d.Paths.OutputDir)
	v.SetDefault("paths.policy_dir", d.Paths.PolicyDir)
	v.SetDefault("paths.default_policy", d.Paths.DefaultPolicy)

	v.SetDefault("vault.backend", d.Vault.Backend)
	v.SetDefault("vault.dir", d.Vault.Dir)
	v.SetDefault("vault.path", d.Vault.Path)
	v.SetDefault("vault.redis_url", d.Vault.RedisURL)
	v.SetDefault("vault.key_prefix", d.Vault.KeyPrefix)
	v.SetDefault("vault.pool_size", d.Vault.PoolSize)
	v.SetDefault("vault.min_idle_conns", d.Vault.MinIdleConns)

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout)
	v.SetDefault("server.max_body_bytes", d.Server.MaxBodyBytes)
	v.SetDefault("server.rate_limit.enabled", d.Server.RateLimit.Enabled)
	v.SetDefault("server.rate_limit.requests_per_second", d.Server.RateLimit.RequestsPerSecond)
	v.SetDefault("server.rate_limit.burst", d.Server.RateLimit.Burst)
	v.SetDefault("server.rate_limit.idle_ttl", d.Server.RateLimit.IdleTTL)

	v.SetDefault("websocket.enabled", d.WebSocket.Enabled)
	v.SetDefault("websocket.path", d.WebSocket.Path)
	v.SetDefault("websocket.max_connections", d.WebSocket.MaxConnections)
	v.SetDefault("websocket.read_buffer_size", d.WebSocket.ReadBufferSize)
	v.SetDefault("websocket.write_buffer_size", d.WebSocket.WriteBufferSize)
	v.SetDefault("websocket.ping_interval", d.WebSocket.PingInterval)
	v.SetDefault("websocket.pong_timeout", d.WebSocket.PongTimeout)
	v.SetDefault("websocket.write_timeout", d.WebSocket.WriteTimeout)
	v.SetDefault("websocket.max_message_size", d.WebSocket.MaxMessageSize)
	v.SetDefault("websocket.allowed_origins", d.WebSocket.AllowedOrigins)
	v.SetDefault("websocket.events.broadcast_policies", d.WebSocket.Events.BroadcastPolicies)
	v.SetDefault("websocket.events.broadcast_sessions", d.WebSocket.Events.BroadcastSessions)
	v.SetDefault("websocket.events.broadcast_connections", d.WebSocket.Events.BroadcastConnections)

	v.SetDefault("ledger.enabled", d.Ledger.Enabled)
	v.SetDefault("ledger.driver", d.Ledger.Driver)
	v.SetDefault("ledger.dsn", d.Ledger.DSN)
	v.SetDefault("ledger.max_open_conns", d.Ledger.MaxOpenConns)
	v.SetDefault("ledger.max_idle_conns", d.Ledger.MaxIdleConns)
	v.SetDefault("ledger.conn_max_lifetime", d.Ledger.ConnMaxLifetime)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file.enabled", d.Logging.File.Enabled)
	v.SetDefault("logging.file.path", d.Logging.File.Path)
}

// Validate checks a loaded configuration
func Validate(config *Config) error {
	if err := config.Gatekeeper().Validate(); err != nil {
		return err
	}

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Server.RateLimit.Enabled && (config.Server.RateLimit.RequestsPerSecond <= 0 || config.Server.RateLimit.Burst <= 0) {
		return fmt.Errorf("invalid rate limit: %v/s burst %d", config.Server.RateLimit.RequestsPerSecond, config.Server.RateLimit.Burst)
	}

	if config.Vault.Backend != "file" && config.Vault.Backend != "redis" {
		return fmt.Errorf("invalid vault backend: %s (must be file or redis)", config.Vault.Backend)
	}

	if config.Ledger.Enabled && config.Ledger.Driver != "postgres" && config.Ledger.Driver != "sqlite" {
		return fmt.Errorf("invalid ledger driver: %s (must be postgres or sqlite)", config.Ledger.Driver)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	return nil
}

// Validate checks that the value pattern compiles and the placeholder
// template carries an id token.
func (g GatekeeperConfig) Validate() error {
	if _, err := g.ValuePattern(); err != nil {
		return err
	}
	if !strings.Contains(g.Masking.UUIDFormat, "{uuid}") && !strings.Contains(g.Masking.UUIDFormat, "{id}") {
		return fmt.Errorf("invalid uuid_format %q: must contain {uuid} or {id}", g.Masking.UUIDFormat)
	}
	for from, to := range g.TagMap {
		if from == "" || to == "" {
			return fmt.Errorf("invalid tag_map entry %q -> %q", from, to)
		}
	}
	return nil
}

// ValuePattern compiles masking.value_pattern anchored for full-string
// matching.
func (g GatekeeperConfig) ValuePattern() (*regexp.Regexp, error) {
	re, err := regexp.Compile(`^(?:` + g.Masking.ValuePattern + `)$`)
	if err != nil {
		return nil, fmt.Errorf("invalid value_pattern %q: %w", g.Masking.ValuePattern, err)
	}
	return re, nil
}

// Watch reloads the configuration file whenever it changes and hands each
// valid result to callback. Invalid edits are logged and skipped. Watching
// stops when ctx is done.
func Watch(ctx context.Context, configPath string, logger *zap.Logger, callback func(*Config)) error {
	if configPath == "" {
		return errors.New("no config file to watch")
	}
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch the directory so editors that replace the file are seen.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				newConfig, err := Load(abs)
				if err != nil {
					logger.Warn("Ignoring invalid config change", zap.String("path", abs), zap.Error(err))
					continue
				}
				logger.Info("Configuration reloaded", zap.String("path", abs))
				callback(newConfig)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("Config watcher error", zap.Error(err))
			}
		}
	}()

	return nil
}
