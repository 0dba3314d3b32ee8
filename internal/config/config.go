// Package config loads the northwind application configuration from YAML and
// NORTHWIND_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ammar0144/entity4go/internal/server"
	"github.com/ammar0144/entity4go/pkg/db"
	"github.com/ammar0144/entity4go/pkg/redis"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	configFileName = "northwind"
	configFileType = "yaml"
	envPrefix      = "NORTHWIND"
)

// Config is the full application configuration
type Config struct {
	Server   server.Config `json:"server" yaml:"server"`
	Database db.Config     `json:"database" yaml:"database"`
	Redis    redis.Config  `json:"redis" yaml:"redis"`
	Log      LogConfig     `json:"log" yaml:"log"`
	Client   ClientConfig  `json:"client" yaml:"client"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // text or json
}

// ClientConfig is used by commands that talk to a running service
type ClientConfig struct {
	URL string `json:"url" yaml:"url"`
}

// envKeys can be overridden with NORTHWIND_<SECTION>_<KEY>, e.g. NORTHWIND_DATABASE_DRIVER
var envKeys = []string{
	"server.addr",
	"server.service_name",
	"server.mode",
	"server.seed",
	"server.enable_reset",
	"database.driver",
	"database.host",
	"database.port",
	"database.database",
	"database.username",
	"database.password",
	"database.logging.level",
	"redis.enabled",
	"redis.host",
	"redis.port",
	"redis.password",
	"log.level",
	"log.format",
	"client.url",
}

// Default returns the configuration used when nothing is configured
func Default() *Config {
	dbCfg := db.DefaultSQLiteConfig("northwind.db")
	dbCfg.Logging.Level = "warn"

	return &Config{
		Server:   server.DefaultConfig(),
		Database: *dbCfg,
		Redis:    *redis.DefaultConfig(),
		Log:      LogConfig{Level: "info", Format: "text"},
		Client:   ClientConfig{URL: "http://localhost:8080"},
	}
}

// Load reads path, or northwind.yaml from the working directory or ./configs when
// path is empty. A missing default file is not an error; a missing explicit file is.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType(configFileType)
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
	}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("invalid config: server.addr is required")
	}
	switch c.Server.Mode {
	case "", "debug", "release", "test":
	default:
		return fmt.Errorf("invalid config: server.mode %q must be debug, release or test", c.Server.Mode)
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("invalid config: database: %w", err)
	}
	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("invalid config: redis: %w", err)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid config: log.format %q must be text or json", c.Log.Format)
	}
	return nil
}

// NewLogger builds the application logger writing to w
func NewLogger(cfg LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", s, err)
	}
	return level, nil
}
