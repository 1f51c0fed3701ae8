package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Provider   ProviderConfig   `mapstructure:"provider"`
	Relay      RelayConfig      `mapstructure:"relay"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Realtime   RealtimeConfig   `mapstructure:"realtime"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ChatPath        string        `mapstructure:"chat_path"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type ProviderConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Model     string        `mapstructure:"model"`
	APIKeyEnv string        `mapstructure:"api_key_env"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// APIKey reads the provider secret from the environment. It is called per
// request so that a key rotated or added after startup is picked up.
func (p ProviderConfig) APIKey() string {
	return os.Getenv(p.APIKeyEnv)
}

type RelayConfig struct {
	MaxMessageLength int  `mapstructure:"max_message_length"`
	RenderHTML       bool `mapstructure:"render_html"`
}

type RateLimitConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Burst             int           `mapstructure:"burst"`
	IdleExpiration    time.Duration `mapstructure:"idle_expiration"`
}

type RealtimeConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Driver   string         `mapstructure:"driver"`
	Tables   []string       `mapstructure:"tables"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type RedisConfig struct {
	Addr          string `mapstructure:"addr"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

type PostgresConfig struct {
	URL             string `mapstructure:"url"`
	InstallTriggers bool   `mapstructure:"install_triggers"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.chat_path", "/chat")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 90*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("provider.base_url", "https://api.openai.com/v1")
	v.SetDefault("provider.model", "gpt-4o-mini")
	v.SetDefault("provider.api_key_env", "OPENAI_API_KEY")
	v.SetDefault("provider.timeout", 60*time.Second)

	v.SetDefault("relay.max_message_length", 8000)
	v.SetDefault("relay.render_html", false)

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.requests_per_minute", 30)
	v.SetDefault("rate_limit.burst", 5)
	v.SetDefault("rate_limit.idle_expiration", 10*time.Minute)

	v.SetDefault("realtime.enabled", false)
	v.SetDefault("realtime.driver", "memory")
	v.SetDefault("realtime.tables", []string{"waste_listings", "issue_reports", "report_votes", "usage_stats"})
	v.SetDefault("realtime.redis.addr", "localhost:6379")
	v.SetDefault("realtime.redis.password", "")
	v.SetDefault("realtime.redis.db", 0)
	v.SetDefault("realtime.redis.channel_prefix", "realtime:")
	v.SetDefault("realtime.postgres.url", "")
	v.SetDefault("realtime.postgres.install_triggers", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file.path", "logs/relay.log")
	v.SetDefault("logging.file.max_size", 100)
	v.SetDefault("logging.file.max_backups", 3)
	v.SetDefault("logging.file.max_age", 28)

	v.SetDefault("monitoring.metrics.enabled", true)
	v.SetDefault("monitoring.metrics.port", 9090)
	v.SetDefault("monitoring.metrics.path", "/metrics")
}

// LoadConfig loads configuration from an optional YAML file and the
// environment. A missing file is not an error; every key has a default.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Conventional names used by hosting platforms
	v.BindEnv("server.port", "RELAY_SERVER_PORT", "PORT")
	v.BindEnv("realtime.redis.addr", "RELAY_REALTIME_REDIS_ADDR", "REDIS_ADDR")
	v.BindEnv("realtime.redis.password", "RELAY_REALTIME_REDIS_PASSWORD", "REDIS_PASSWORD")
	v.BindEnv("realtime.postgres.url", "RELAY_REALTIME_POSTGRES_URL", "DATABASE_URL")

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if !strings.HasPrefix(cfg.Server.ChatPath, "/") {
		return fmt.Errorf("chat path must start with '/': %q", cfg.Server.ChatPath)
	}
	if cfg.Provider.BaseURL == "" {
		return fmt.Errorf("provider base url is required")
	}
	if cfg.Provider.Model == "" {
		return fmt.Errorf("provider model is required")
	}
	if cfg.Provider.APIKeyEnv == "" {
		return fmt.Errorf("provider api key env name is required")
	}
	if cfg.RateLimit.Enabled && cfg.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("rate limit requests_per_minute must be positive")
	}
	if cfg.Realtime.Enabled {
		switch cfg.Realtime.Driver {
		case "memory", "redis":
		case "postgres":
			if cfg.Realtime.Postgres.URL == "" {
				return fmt.Errorf("realtime postgres driver requires a database url")
			}
		default:
			return fmt.Errorf("unsupported realtime driver: %s", cfg.Realtime.Driver)
		}
	}
	return nil
}
