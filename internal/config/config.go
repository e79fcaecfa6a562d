package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/bassista/go_courses/internal/logger"
)

const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"

	SyncModeSubscribe = "subscribe"
	SyncModeFetch     = "fetch"
)

// Config is the full application configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Store  StoreConfig  `mapstructure:"store"`
	Sync   SyncConfig   `mapstructure:"sync"`
	Misc   MiscConfig   `mapstructure:"misc"`
}

type ServerConfig struct {
	Port               int           `mapstructure:"port"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	IdleTimeout        time.Duration `mapstructure:"idle_timeout"`
	ShutDownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	CORSAllowedOrigins string        `mapstructure:"cors_allowed_origins"`
}

// StoreConfig selects and configures the document store backend.
type StoreConfig struct {
	Driver        string `mapstructure:"driver" validate:"oneof=memory file redis postgres"`
	Collection    string `mapstructure:"collection" validate:"required"`
	FilePath      string `mapstructure:"file_path" validate:"required_if=Driver file"`
	RedisAddr     string `mapstructure:"redis_addr" validate:"required_if=Driver redis"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" validate:"min=0"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
	PostgresDSN   string `mapstructure:"postgres_dsn" validate:"required_if=Driver postgres"`
}

// SyncConfig controls how the course mirror is populated at startup.
type SyncConfig struct {
	Mode            string        `mapstructure:"mode" validate:"oneof=subscribe fetch"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

type MiscConfig struct {
	GinMode           string `mapstructure:"gin_mode"`
	LogLevel          string `mapstructure:"log_level"`
	MetricsEnabled    bool   `mapstructure:"metrics_enabled"`
	HoneybadgerAPIKey string `mapstructure:"honeybadger_api_key"`
	HoneybadgerEnv    string `mapstructure:"honeybadger_env"`
}

// LoadConfig reads config.yaml from the given paths (default "." and "./config"),
// applies COURSES_* environment overrides and validates the result.
func LoadConfig(paths ...string) (*Config, error) {
	// .env is optional; real environment variables always win
	if err := godotenv.Load(); err == nil {
		logger.WithComponent("config").Debug("loaded .env file")
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	setDefaults(v)

	// COURSES_STORE_DRIVER overrides store.driver
	v.SetEnvPrefix("COURSES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("misc.honeybadger_api_key", "COURSES_MISC_HONEYBADGER_API_KEY", "HONEYBADGER_API_KEY")
	_ = v.BindEnv("misc.honeybadger_env", "COURSES_MISC_HONEYBADGER_ENV", "GO_ENV")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		logger.WithComponent("config").Info("no config file found, using defaults and env vars")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.request_timeout", 5*time.Second)
	v.SetDefault("server.cors_allowed_origins", "*")

	v.SetDefault("store.driver", DriverFile)
	v.SetDefault("store.collection", "courses")
	v.SetDefault("store.file_path", "./config/data/courses.json")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_password", "")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.redis_prefix", "docs")
	v.SetDefault("store.postgres_dsn", "")

	v.SetDefault("sync.mode", SyncModeSubscribe)
	v.SetDefault("sync.refresh_interval", time.Duration(0))

	v.SetDefault("misc.gin_mode", "release")
	v.SetDefault("misc.log_level", "info")
	v.SetDefault("misc.metrics_enabled", true)
	v.SetDefault("misc.honeybadger_api_key", "")
	v.SetDefault("misc.honeybadger_env", "")
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 {
		return errors.New("server read timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		return errors.New("server write timeout must be positive")
	}
	if c.Server.IdleTimeout <= 0 {
		return errors.New("server idle timeout must be positive")
	}
	if c.Server.ShutDownTimeout <= 0 {
		return errors.New("server shutdown timeout must be positive")
	}
	if c.Server.RequestTimeout < 0 {
		return errors.New("server request timeout must not be negative")
	}
	if c.Sync.RefreshInterval < 0 {
		return errors.New("sync refresh interval must not be negative")
	}

	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
