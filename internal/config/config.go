// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Runner  RunnerConfig  `mapstructure:"runner"`
	Phases  []PhaseConfig `mapstructure:"phases"`
	Report  ReportConfig  `mapstructure:"report"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Assets  AssetsConfig  `mapstructure:"assets"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// RunnerConfig governs the cycle scheduler.
type RunnerConfig struct {
	TickMs       int    `mapstructure:"tick_ms"`
	Concurrency  int    `mapstructure:"concurrency"`
	InitialPhase string `mapstructure:"initial_phase"`
}

// PhaseConfig declares one tracked phase.
type PhaseConfig struct {
	Name        string   `mapstructure:"name"`
	NextPhase   string   `mapstructure:"next_phase"`
	TrackAssets bool     `mapstructure:"track_assets"`
	Assets      []string `mapstructure:"assets"`
}

// ReportConfig tunes the event hub.
type ReportConfig struct {
	BufferSize      int `mapstructure:"buffer_size"`
	FlushCount      int `mapstructure:"flush_count"`
	FlushIntervalMs int `mapstructure:"flush_interval_ms"`
	SinkTimeoutSec  int `mapstructure:"sink_timeout_seconds"`
}

// DBConfig controls run history persistence.
type DBConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
}

// PubSubConfig holds metadata for transition announcements.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// AssetsConfig selects the blob backend assets are loaded from.
type AssetsConfig struct {
	Provider  string `mapstructure:"provider"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PHASETRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("runner.tick_ms", 50)
	v.SetDefault("runner.concurrency", 4)
	v.SetDefault("report.buffer_size", 1024)
	v.SetDefault("report.flush_count", 64)
	v.SetDefault("report.flush_interval_ms", 250)
	v.SetDefault("report.sink_timeout_seconds", 5)
	v.SetDefault("db.provider", "memory")
	v.SetDefault("assets.provider", "memory")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Runner.TickMs <= 0 {
		return fmt.Errorf("runner.tick_ms must be > 0")
	}
	if c.Runner.Concurrency <= 0 {
		return fmt.Errorf("runner.concurrency must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}

	names := make(map[string]struct{}, len(c.Phases))
	for _, p := range c.Phases {
		if p.Name == "" {
			return fmt.Errorf("phases[].name is required")
		}
		if _, dup := names[p.Name]; dup {
			return fmt.Errorf("phase %q configured twice", p.Name)
		}
		names[p.Name] = struct{}{}
	}
	if c.Runner.InitialPhase != "" {
		if _, ok := names[c.Runner.InitialPhase]; !ok {
			return fmt.Errorf("runner.initial_phase %q is not a configured phase", c.Runner.InitialPhase)
		}
	}

	switch c.DB.Provider {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when db.provider is postgres")
		}
	default:
		return fmt.Errorf("unknown db.provider %q", c.DB.Provider)
	}

	switch c.Assets.Provider {
	case "memory":
	case "local":
		if c.Assets.BaseDir == "" {
			return fmt.Errorf("assets.base_dir must be set when assets.provider is local")
		}
	case "gcs":
		if c.Assets.GCSBucket == "" {
			return fmt.Errorf("assets.gcs_bucket must be set when assets.provider is gcs")
		}
	default:
		return fmt.Errorf("unknown assets.provider %q", c.Assets.Provider)
	}

	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	return nil
}

// Tick converts the runner tick into a duration.
func (c Config) Tick() time.Duration {
	return time.Duration(c.Runner.TickMs) * time.Millisecond
}

// FlushInterval converts the report flush interval into a duration.
func (c Config) FlushInterval() time.Duration {
	return time.Duration(c.Report.FlushIntervalMs) * time.Millisecond
}

// SinkTimeout converts the report sink timeout into a duration.
func (c Config) SinkTimeout() time.Duration {
	return time.Duration(c.Report.SinkTimeoutSec) * time.Second
}
