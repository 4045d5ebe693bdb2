// Package config loads and validates application configuration from a
// config file and OPQUEUE_-prefixed environment variables. Environment
// variables take precedence over file values.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/phrazzld/opqueue/internal/pressure"
	"github.com/phrazzld/opqueue/internal/queue"
)

// Config holds all application configuration, grouped by concern.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth" validate:"required"`
	Queue    queue.Config   `mapstructure:"queue"`
	Pressure PressureConfig `mapstructure:"pressure"`
}

// ServerConfig contains the HTTP server settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains the durable-store connection settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// AuthConfig contains the settings for the API's bearer-token auth.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=32"`
}

// PressureConfig contains the resource-pressure sampler settings.
type PressureConfig struct {
	Memory pressure.MemorySamplerConfig `mapstructure:"memory"`

	// Probe configures the connection-quality probe. An empty URL
	// disables probing; quality is then pinned to fast.
	Probe pressure.ProbeSamplerConfig `mapstructure:"probe"`
}

// Load reads configuration from config.yaml (if present in the working
// directory) and the environment, applies defaults, and validates the
// result.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("OPQUEUE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine; environment and defaults apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return nil, fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
		}
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	// Keys without meaningful defaults still need registering so that
	// AutomaticEnv surfaces them through Unmarshal.
	v.SetDefault("database.url", "")
	v.SetDefault("auth.jwt_secret", "")

	qd := queue.DefaultConfig()
	v.SetDefault("queue.namespace", qd.Namespace)
	v.SetDefault("queue.batch_size", qd.BatchSize)
	v.SetDefault("queue.tick_interval", qd.TickInterval)
	v.SetDefault("queue.default_max_attempts", qd.DefaultMaxAttempts)
	v.SetDefault("queue.min_attempt_timeout", qd.MinAttemptTimeout)
	v.SetDefault("queue.demote_on_retry", qd.DemoteOnRetry)
	v.SetDefault("queue.optimistic_offline", qd.OptimisticOffline)
	v.SetDefault("queue.backoff.initial_delay", qd.Backoff.InitialDelay)
	v.SetDefault("queue.backoff.multiplier", qd.Backoff.Multiplier)
	v.SetDefault("queue.backoff.max_delay", qd.Backoff.MaxDelay)
	v.SetDefault("queue.backoff.jitter_factor", qd.Backoff.JitterFactor)
	v.SetDefault("queue.admission.low_priority_cap", qd.Admission.LowPriorityCap)
	v.SetDefault("queue.admission.pending_ttl", qd.Admission.PendingTTL)
	v.SetDefault("queue.admission.sweep_interval", qd.Admission.SweepInterval)

	md := pressure.DefaultMemorySamplerConfig()
	v.SetDefault("pressure.memory.high_watermark_bytes", md.HighWatermarkBytes)
	v.SetDefault("pressure.memory.interval", md.Interval)

	pd := pressure.DefaultProbeSamplerConfig()
	v.SetDefault("pressure.probe.interval", pd.Interval)
	v.SetDefault("pressure.probe.timeout", pd.Timeout)
}
