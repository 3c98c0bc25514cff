// Package config loads runtime settings for the realtime chat engine from an
// optional YAML file and CHATD_* environment variables, applying defaults and
// validation before anything else starts.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers.
const (
	DriverMongo  = "mongo"
	DriverMemory = "memory"
)

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// WebSocketConfig controls per-connection transport behavior.
type WebSocketConfig struct {
	AllowedOrigins     []string      `mapstructure:"allowed_origins"`
	AllowMissingOrigin bool          `mapstructure:"allow_missing_origin"`
	MaxMessageSize     int64         `mapstructure:"max_message_size"`
	SendBuffer         int           `mapstructure:"send_buffer"`
	PongWait           time.Duration `mapstructure:"pong_wait"`
	PingPeriod         time.Duration `mapstructure:"ping_period"`
	WriteWait          time.Duration `mapstructure:"write_wait"`
	HandlerTimeout     time.Duration `mapstructure:"handler_timeout"`
}

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `mapstructure:"burst"`
	RefillInterval time.Duration `mapstructure:"refill_interval"`
}

// AuthConfig configures bearer credential validation.
type AuthConfig struct {
	Secret    string        `mapstructure:"secret"`
	Algorithm string        `mapstructure:"algorithm"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

// MongoConfig configures the MongoDB store.
type MongoConfig struct {
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// RedisConfig configures the optional membership cache. An empty Addr disables it.
type RedisConfig struct {
	Addr          string        `mapstructure:"addr"`
	Password      string        `mapstructure:"password"`
	DB            int           `mapstructure:"db"`
	MembershipTTL time.Duration `mapstructure:"membership_ttl"`
}

// FanoutConfig sizes the detached delivery pool.
type FanoutConfig struct {
	Workers int `mapstructure:"workers"`
	Queue   int `mapstructure:"queue"`
}

// InternalConfig guards the push API used by the CRUD layer.
type InternalConfig struct {
	Token string `mapstructure:"token"`
}

// LogConfig selects logger level and encoding.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config holds the full server configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Store     StoreConfig     `mapstructure:"store"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Fanout    FanoutConfig    `mapstructure:"fanout"`
	Internal  InternalConfig  `mapstructure:"internal"`
	Log       LogConfig       `mapstructure:"log"`
}

// Default returns a Config populated with default values for all settings.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8000",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		WebSocket: WebSocketConfig{
			AllowedOrigins:     []string{"http://localhost:5173", "tauri://localhost"},
			AllowMissingOrigin: true,
			MaxMessageSize:     64 * 1024,
			SendBuffer:         256,
			PongWait:           60 * time.Second,
			PingPeriod:         54 * time.Second,
			WriteWait:          10 * time.Second,
			HandlerTimeout:     10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Burst:          20,
			RefillInterval: time.Second,
		},
		Auth: AuthConfig{
			Algorithm: "HS256",
			TTL:       7 * 24 * time.Hour,
		},
		Store: StoreConfig{Driver: DriverMongo},
		Mongo: MongoConfig{
			URI:            "mongodb://localhost:27017",
			Database:       "alo_chat",
			ConnectTimeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			MembershipTTL: 30 * time.Second,
		},
		Fanout: FanoutConfig{
			Workers: 8,
			Queue:   1024,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Option adjusts the viper instance before decoding.
type Option func(v *viper.Viper)

// Override sets key above every other source. Command-line flags use it.
func Override(key string, value any) Option {
	return func(v *viper.Viper) { v.Set(key, value) }
}

// Load reads configuration from path (if non-empty) and the environment.
// A missing file at an explicitly given path is an error.
func Load(path string, opts ...Option) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix("CHATD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	for _, opt := range opts {
		opt(v)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	// Comma-separated env lists arrive as a single element.
	if len(cfg.WebSocket.AllowedOrigins) == 1 && strings.Contains(cfg.WebSocket.AllowedOrigins[0], ",") {
		cfg.WebSocket.AllowedOrigins = parseOrigins(cfg.WebSocket.AllowedOrigins[0])
	}

	cfg = Sanitize(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("websocket.allowed_origins", d.WebSocket.AllowedOrigins)
	v.SetDefault("websocket.allow_missing_origin", d.WebSocket.AllowMissingOrigin)
	v.SetDefault("websocket.max_message_size", d.WebSocket.MaxMessageSize)
	v.SetDefault("websocket.send_buffer", d.WebSocket.SendBuffer)
	v.SetDefault("websocket.pong_wait", d.WebSocket.PongWait)
	v.SetDefault("websocket.ping_period", d.WebSocket.PingPeriod)
	v.SetDefault("websocket.write_wait", d.WebSocket.WriteWait)
	v.SetDefault("websocket.handler_timeout", d.WebSocket.HandlerTimeout)

	v.SetDefault("rate_limit.burst", d.RateLimit.Burst)
	v.SetDefault("rate_limit.refill_interval", d.RateLimit.RefillInterval)

	v.SetDefault("auth.secret", d.Auth.Secret)
	v.SetDefault("auth.algorithm", d.Auth.Algorithm)
	v.SetDefault("auth.ttl", d.Auth.TTL)

	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("mongo.uri", d.Mongo.URI)
	v.SetDefault("mongo.database", d.Mongo.Database)
	v.SetDefault("mongo.connect_timeout", d.Mongo.ConnectTimeout)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.membership_ttl", d.Redis.MembershipTTL)

	v.SetDefault("fanout.workers", d.Fanout.Workers)
	v.SetDefault("fanout.queue", d.Fanout.Queue)

	v.SetDefault("internal.token", d.Internal.Token)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Sanitize replaces non-positive or empty values with defaults and normalizes
// the origin allow-list.
func Sanitize(cfg Config) Config {
	d := Default()

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = d.Server.Addr
	}
	cfg.Server.ReadTimeout = positiveDuration(cfg.Server.ReadTimeout, d.Server.ReadTimeout)
	cfg.Server.WriteTimeout = positiveDuration(cfg.Server.WriteTimeout, d.Server.WriteTimeout)
	cfg.Server.IdleTimeout = positiveDuration(cfg.Server.IdleTimeout, d.Server.IdleTimeout)
	cfg.Server.ShutdownTimeout = positiveDuration(cfg.Server.ShutdownTimeout, d.Server.ShutdownTimeout)

	if cfg.WebSocket.MaxMessageSize <= 0 {
		cfg.WebSocket.MaxMessageSize = d.WebSocket.MaxMessageSize
	}
	if cfg.WebSocket.SendBuffer <= 0 {
		cfg.WebSocket.SendBuffer = d.WebSocket.SendBuffer
	}
	cfg.WebSocket.PongWait = positiveDuration(cfg.WebSocket.PongWait, d.WebSocket.PongWait)
	cfg.WebSocket.PingPeriod = positiveDuration(cfg.WebSocket.PingPeriod, d.WebSocket.PingPeriod)
	if cfg.WebSocket.PingPeriod >= cfg.WebSocket.PongWait {
		cfg.WebSocket.PingPeriod = cfg.WebSocket.PongWait * 9 / 10
	}
	cfg.WebSocket.WriteWait = positiveDuration(cfg.WebSocket.WriteWait, d.WebSocket.WriteWait)
	cfg.WebSocket.HandlerTimeout = positiveDuration(cfg.WebSocket.HandlerTimeout, d.WebSocket.HandlerTimeout)
	cfg.WebSocket.AllowedOrigins, _ = NormalizeOrigins(cfg.WebSocket.AllowedOrigins)

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = d.RateLimit.Burst
	}
	cfg.RateLimit.RefillInterval = positiveDuration(cfg.RateLimit.RefillInterval, d.RateLimit.RefillInterval)

	if cfg.Auth.Algorithm == "" {
		cfg.Auth.Algorithm = d.Auth.Algorithm
	}
	cfg.Auth.TTL = positiveDuration(cfg.Auth.TTL, d.Auth.TTL)

	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = d.Store.Driver
	}
	if cfg.Mongo.URI == "" {
		cfg.Mongo.URI = d.Mongo.URI
	}
	if cfg.Mongo.Database == "" {
		cfg.Mongo.Database = d.Mongo.Database
	}
	cfg.Mongo.ConnectTimeout = positiveDuration(cfg.Mongo.ConnectTimeout, d.Mongo.ConnectTimeout)
	cfg.Redis.MembershipTTL = positiveDuration(cfg.Redis.MembershipTTL, d.Redis.MembershipTTL)

	if cfg.Fanout.Workers <= 0 {
		cfg.Fanout.Workers = d.Fanout.Workers
	}
	if cfg.Fanout.Queue <= 0 {
		cfg.Fanout.Queue = d.Fanout.Queue
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = d.Log.Format
	}
	return cfg
}

// Validate reports settings that cannot be defaulted.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverMongo:
		if c.Auth.Secret == "" {
			return errors.New("auth.secret is required for the mongo store")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	return nil
}

func positiveDuration(value, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
