package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix            = "WIRECHAT_BOTS"
	envConfigDefaultPath = "WIRECHAT_BOTS_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "config.yaml"
)

// Load builds configuration from defaults, optional config file, env vars, and returns the resolved path.
// Precedence: defaults < config file < env vars < caller overrides.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Ark credentials are also honoured under their conventional names.
	for key, env := range map[string]string{
		"responder.ark.api_key":    "ARK_API_KEY",
		"responder.ark.access_key": "ARK_ACCESS_KEY",
		"responder.ark.secret_key": "ARK_SECRET_KEY",
		"responder.ark.model":      "ARK_MODEL",
	} {
		_ = v.BindEnv(key, envName(key), env)
	}

	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if writeErr := writeDefaultConfig(configPath, cfg); writeErr != nil && logger != nil {
				logger.Warn().Err(writeErr).Str("path", configPath).Msg("failed to write default config")
			} else if logger != nil {
				logger.Info().Str("path", configPath).Msg("created default config")
			}
			if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
				logger.Warn().Err(readErr).Str("path", configPath).Msg("failed to read config after writing default")
			}
		} else {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, configPath, nil
}

// setDefaults registers every leaf key so env vars can override keys the file omits.
func setDefaults(v *viper.Viper, cfg Config) {
	defaults := map[string]any{
		"http.addr":                  cfg.HTTP.Addr,
		"http.read_header_timeout":   cfg.HTTP.ReadHeaderTimeout,
		"http.shutdown_timeout":      cfg.HTTP.ShutdownTimeout,
		"http.send_rate_limit":       cfg.HTTP.SendRateLimit,
		"log_level":                  cfg.LogLevel,
		"log_format":                 cfg.LogFormat,
		"database_path":              cfg.DatabasePath,
		"jwt.secret":                 cfg.JWT.Secret,
		"jwt.issuer":                 cfg.JWT.Issuer,
		"jwt.audience":               cfg.JWT.Audience,
		"jwt.ttl":                    cfg.JWT.TTL,
		"jwt.api_auth_required":      cfg.JWT.APIAuthRequired,
		"remote.mode":                cfg.Remote.Mode,
		"remote.base_url":            cfg.Remote.BaseURL,
		"remote.ws_url":              cfg.Remote.WSURL,
		"remote.http_timeout":        cfg.Remote.HTTPTimeout,
		"broker.kind":                cfg.Broker.Kind,
		"broker.redis_addr":          cfg.Broker.RedisAddr,
		"broker.redis_password":      cfg.Broker.RedisPassword,
		"broker.redis_db":            cfg.Broker.RedisDB,
		"broker.health_interval":     cfg.Broker.HealthInterval,
		"session.connect_timeout":    cfg.Session.ConnectTimeout,
		"session.reconnect_min":      cfg.Session.ReconnectMin,
		"session.reconnect_max":      cfg.Session.ReconnectMax,
		"bus.history_cap":            cfg.Bus.HistoryCap,
		"responder.default_provider": cfg.Responder.DefaultProvider,
		"responder.history_limit":    cfg.Responder.HistoryLimit,
		"responder.timeout":          cfg.Responder.Timeout,
		"responder.ark.api_key":      cfg.Responder.Ark.APIKey,
		"responder.ark.access_key":   cfg.Responder.Ark.AccessKey,
		"responder.ark.secret_key":   cfg.Responder.Ark.SecretKey,
		"responder.ark.model":        cfg.Responder.Ark.Model,
		"responder.ark.base_url":     cfg.Responder.Ark.BaseURL,
		"responder.ark.region":       cfg.Responder.Ark.Region,
		"responder.ark.temperature":  cfg.Responder.Ark.Temperature,
		"responder.ark.max_tokens":   cfg.Responder.Ark.MaxTokens,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
