package config

import (
	"fmt"
	"time"

	"github.com/vovakirdan/wirechat-bots/internal/core"
)

// Remote modes.
const (
	// RemoteLocal serves identities and rooms from the local database and
	// carries real-time traffic over the broker.
	RemoteLocal = "local"
	// RemoteWirechat drives bots against a remote wirechat server.
	RemoteWirechat = "wirechat"
)

// Broker kinds.
const (
	BrokerMemory = "memory"
	BrokerRedis  = "redis"
)

// Config holds service configuration values.
type Config struct {
	HTTP         HTTPConfig      `mapstructure:"http" yaml:"http"`
	LogLevel     string          `mapstructure:"log_level" yaml:"log_level"`
	LogFormat    string          `mapstructure:"log_format" yaml:"log_format"`
	DatabasePath string          `mapstructure:"database_path" yaml:"database_path"`
	JWT          JWTConfig       `mapstructure:"jwt" yaml:"jwt"`
	Remote       RemoteConfig    `mapstructure:"remote" yaml:"remote"`
	Broker       BrokerConfig    `mapstructure:"broker" yaml:"broker"`
	Session      SessionConfig   `mapstructure:"session" yaml:"session"`
	Bus          BusConfig       `mapstructure:"bus" yaml:"bus"`
	Responder    ResponderConfig `mapstructure:"responder" yaml:"responder"`
	Bots         []BotConfig     `mapstructure:"bots" yaml:"bots"`
}

// HTTPConfig configures the control API listener.
type HTTPConfig struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// SendRateLimit caps messages sent through the API per bot per minute. Zero disables it.
	SendRateLimit int `mapstructure:"send_rate_limit" yaml:"send_rate_limit"`
}

// JWTConfig configures tokens of the local identity provider and the control API.
type JWTConfig struct {
	Secret   string        `mapstructure:"secret" yaml:"secret"`
	Issuer   string        `mapstructure:"issuer" yaml:"issuer"`
	Audience string        `mapstructure:"audience" yaml:"audience"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
	// APIAuthRequired protects the control API with operator tokens.
	APIAuthRequired bool `mapstructure:"api_auth_required" yaml:"api_auth_required"`
}

// RemoteConfig selects where bots live.
type RemoteConfig struct {
	Mode        string        `mapstructure:"mode" yaml:"mode"`
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url"`
	WSURL       string        `mapstructure:"ws_url" yaml:"ws_url"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout" yaml:"http_timeout"`
}

// BrokerConfig configures the local real-time broker.
type BrokerConfig struct {
	Kind           string        `mapstructure:"kind" yaml:"kind"`
	RedisAddr      string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword  string        `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB        int           `mapstructure:"redis_db" yaml:"redis_db"`
	HealthInterval time.Duration `mapstructure:"health_interval" yaml:"health_interval"`
}

// SessionConfig configures bot sessions.
type SessionConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	ReconnectMin   time.Duration `mapstructure:"reconnect_min" yaml:"reconnect_min"`
	ReconnectMax   time.Duration `mapstructure:"reconnect_max" yaml:"reconnect_max"`
}

// BusConfig configures room state retention.
type BusConfig struct {
	HistoryCap int `mapstructure:"history_cap" yaml:"history_cap"`
}

// ResponderConfig configures reply generation.
type ResponderConfig struct {
	DefaultProvider string        `mapstructure:"default_provider" yaml:"default_provider"`
	HistoryLimit    int           `mapstructure:"history_limit" yaml:"history_limit"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Ark             ArkConfig     `mapstructure:"ark" yaml:"ark"`
}

// ArkConfig holds Volcengine Ark credentials and model settings.
type ArkConfig struct {
	APIKey      string  `mapstructure:"api_key" yaml:"api_key"`
	AccessKey   string  `mapstructure:"access_key" yaml:"access_key"`
	SecretKey   string  `mapstructure:"secret_key" yaml:"secret_key"`
	Model       string  `mapstructure:"model" yaml:"model"`
	BaseURL     string  `mapstructure:"base_url" yaml:"base_url"`
	Region      string  `mapstructure:"region" yaml:"region"`
	Temperature float32 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// BotConfig is a bot started together with the service.
type BotConfig struct {
	Username string        `mapstructure:"username" yaml:"username"`
	Password string        `mapstructure:"password" yaml:"password"`
	Rooms    []string      `mapstructure:"rooms" yaml:"rooms"`
	Profile  *core.Profile `mapstructure:"profile" yaml:"profile,omitempty"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:              ":8090",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			SendRateLimit:     30,
		},
		LogLevel:     "info",
		LogFormat:    "console",
		DatabasePath: "wirechat-bots.db",
		JWT: JWTConfig{
			Secret:   "change-me",
			Issuer:   "wirechat-bots",
			Audience: "wirechat-bots",
			TTL:      24 * time.Hour,
		},
		Remote: RemoteConfig{
			Mode:        RemoteLocal,
			HTTPTimeout: 10 * time.Second,
		},
		Broker: BrokerConfig{
			Kind:           BrokerMemory,
			RedisAddr:      "localhost:6379",
			HealthInterval: 15 * time.Second,
		},
		Session: SessionConfig{
			ConnectTimeout: 10 * time.Second,
			ReconnectMin:   time.Second,
			ReconnectMax:   30 * time.Second,
		},
		Bus: BusConfig{HistoryCap: 200},
		Responder: ResponderConfig{
			DefaultProvider: string(core.ProviderMock),
			HistoryLimit:    10,
			Timeout:         30 * time.Second,
			Ark: ArkConfig{
				BaseURL: "https://ark.cn-beijing.volces.com/api/v3",
				Region:  "cn-beijing",
			},
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
// Only the fields exposed as command line flags are considered.
func (c *Config) UpdateFrom(other Config) {
	if other.HTTP.Addr != "" {
		c.HTTP.Addr = other.HTTP.Addr
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.Remote.Mode != "" {
		c.Remote.Mode = other.Remote.Mode
	}
	if other.Broker.Kind != "" {
		c.Broker.Kind = other.Broker.Kind
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Remote.Mode {
	case RemoteLocal:
		if c.JWT.Secret == "" {
			return fmt.Errorf("jwt.secret is required in %s mode", RemoteLocal)
		}
	case RemoteWirechat:
		if c.Remote.BaseURL == "" {
			return fmt.Errorf("remote.base_url is required in %s mode", RemoteWirechat)
		}
	default:
		return fmt.Errorf("unknown remote.mode %q", c.Remote.Mode)
	}

	switch c.Broker.Kind {
	case BrokerMemory, BrokerRedis:
	default:
		return fmt.Errorf("unknown broker.kind %q", c.Broker.Kind)
	}

	if c.Bus.HistoryCap <= 0 {
		return fmt.Errorf("bus.history_cap must be positive")
	}
	if c.Session.ReconnectMin <= 0 || c.Session.ReconnectMax < c.Session.ReconnectMin {
		return fmt.Errorf("session reconnect bounds are invalid")
	}

	switch core.Provider(c.Responder.DefaultProvider) {
	case core.ProviderArk, core.ProviderMock:
	default:
		return fmt.Errorf("unknown responder.default_provider %q", c.Responder.DefaultProvider)
	}

	for i, b := range c.Bots {
		if b.Username == "" || b.Password == "" {
			return fmt.Errorf("bots[%d]: username and password are required", i)
		}
		if b.Profile != nil {
			if err := b.Profile.Personality.Validate(); err != nil {
				return fmt.Errorf("bots[%d]: %w", i, err)
			}
		}
	}
	return nil
}
