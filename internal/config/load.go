package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultAllowedOrigins are used when no CORS origins are configured.
var DefaultAllowedOrigins = []string{"http://localhost:3000", "http://localhost:8123"}

// envBindings maps configuration keys to the environment variables that may
// set them. The first variable found wins.
var envBindings = map[string][]string{
	"server.app_name":         {"APP_NAME"},
	"server.version":          {"APP_VERSION"},
	"server.environment":      {"ENVIRONMENT"},
	"server.port":             {"SERVER_PORT", "PORT"},
	"server.log_level":        {"LOG_LEVEL"},
	"server.allowed_origins":  {"ALLOWED_ORIGINS"},
	"server.shutdown_timeout": {"SERVER_SHUTDOWN_TIMEOUT"},
	"database.url":            {"DATABASE_URL"},
	"database.max_open_conns": {"DATABASE_MAX_OPEN_CONNS"},
	"redis.url":               {"REDIS_URL"},
	"task.broker_url":         {"TASK_BROKER_URL", "CELERY_BROKER_URL"},
	"task.result_backend":     {"TASK_RESULT_BACKEND", "CELERY_RESULT_BACKEND"},
	"task.always_eager":       {"TASK_ALWAYS_EAGER", "CELERY_TASK_ALWAYS_EAGER"},
	"task.worker_count":       {"TASK_WORKER_COUNT"},
	"task.queue":              {"TASK_QUEUE"},
	"task.result_expires":     {"TASK_RESULT_EXPIRES"},
	"task.visibility_timeout": {"TASK_VISIBILITY_TIMEOUT"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.app_name", "Agent Infra")
	v.SetDefault("server.version", "0.1.0")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.port", 8123)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.allowed_origins", "")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("task.always_eager", false)
	v.SetDefault("task.worker_count", 2)
	v.SetDefault("task.queue", "default")
	v.SetDefault("task.result_expires", time.Hour)
	v.SetDefault("task.visibility_timeout", 30*time.Minute)
}

// Load reads configuration from environment variables and, if present, a
// config file. An empty configFile searches for config.yaml in the working
// directory and tolerates its absence; an explicit configFile must exist. Environment variables take
// precedence over values from the file.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("error binding environment variable for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	cfg.Server.AllowedOrigins = normalizeOrigins(cfg.Server.AllowedOrigins)
	if cfg.Task.BrokerURL == "" {
		cfg.Task.BrokerURL = cfg.Redis.URL
	}
	if cfg.Task.ResultBackend == "" {
		cfg.Task.ResultBackend = cfg.Redis.URL
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Files that do not exist are skipped and variables already set
// in the environment are never overridden.
func LoadDotEnv(files ...string) error {
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

// normalizeOrigins trims each origin, splitting any comma-separated entries,
// and drops blanks. An empty result yields DefaultAllowedOrigins.
func normalizeOrigins(raw []string) []string {
	var origins []string
	for _, entry := range raw {
		for _, origin := range strings.Split(entry, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				origins = append(origins, origin)
			}
		}
	}
	if len(origins) == 0 {
		return append([]string(nil), DefaultAllowedOrigins...)
	}
	return origins
}
