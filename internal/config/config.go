package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Redis    RedisConfig    `mapstructure:"redis" validate:"required"`
	Task     TaskConfig     `mapstructure:"task" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
// LogLevel is matched case-insensitively by the logger and unknown names
// fall back to info, so it is not validated here.
type ServerConfig struct {
	AppName         string        `mapstructure:"app_name" validate:"required"`
	Version         string        `mapstructure:"version" validate:"required"`
	Environment     string        `mapstructure:"environment" validate:"required,oneof=development staging production test"`
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL          string `mapstructure:"url" validate:"required,url"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gt=0"`
}

// RedisConfig contains the connection settings for the shared Redis instance.
type RedisConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// TaskConfig controls the background task queue.
//
// BrokerURL and ResultBackend default to the Redis URL when unset.
// AlwaysEager runs every task synchronously in the calling process with an
// in-memory broker and result backend, which is what the test suite uses.
type TaskConfig struct {
	BrokerURL         string        `mapstructure:"broker_url"`
	ResultBackend     string        `mapstructure:"result_backend"`
	AlwaysEager       bool          `mapstructure:"always_eager"`
	WorkerCount       int           `mapstructure:"worker_count" validate:"gt=0"`
	Queue             string        `mapstructure:"queue" validate:"required"`
	ResultExpires     time.Duration `mapstructure:"result_expires" validate:"gt=0"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout" validate:"gt=0"`
}
