package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.Reset()

	// Set defaults
	config := GetDefaults()

	// Configure viper
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/medixscan-anonymizer/")
	viper.AddConfigPath("$HOME/.medixscan-anonymizer/")

	// Environment variable overrides
	viper.SetEnvPrefix("ANONYMIZER")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnv()

	// Use specific config file if provided
	if configPath != "" {
		viper.SetConfigFile(configPath)
	}

	// Read configuration
	if err := viper.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal into config struct
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// AutomaticEnv only resolves keys viper already knows about, so the keys
// most often set from the environment are bound explicitly.
func bindEnv() {
	for _, key := range []string{
		"server.port",
		"engine.default_sensitivity",
		"engine.batch_workers",
		"cache.enabled",
		"cache.redis_url",
		"audit.enabled",
		"audit.database_url",
		"rate_limit.requests_per_minute",
		"logging.level",
		"logging.format",
	} {
		_ = viper.BindEnv(key)
	}
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Engine.DefaultSensitivity {
	case "high", "medium", "low":
	default:
		return fmt.Errorf("invalid default sensitivity: %s (must be high, medium, or low)", config.Engine.DefaultSensitivity)
	}

	t := config.Engine.Thresholds
	if !(t.Low > 0 && t.Low <= t.Medium && t.Medium <= t.High && t.High <= 1) {
		return fmt.Errorf("invalid thresholds: low %.2f, medium %.2f, high %.2f (must satisfy 0 < low <= medium <= high <= 1)", t.Low, t.Medium, t.High)
	}

	if config.Engine.ConfidenceCap <= 0 || config.Engine.ConfidenceCap > 1 {
		return fmt.Errorf("invalid confidence cap: %.2f", config.Engine.ConfidenceCap)
	}

	if config.Engine.ContextWindow < 0 {
		return fmt.Errorf("invalid context window: %d", config.Engine.ContextWindow)
	}

	if config.Engine.BatchWorkers < 1 {
		return fmt.Errorf("invalid batch workers: %d (must be at least 1)", config.Engine.BatchWorkers)
	}

	switch config.Policy.DefaultStrategy {
	case "REPLACEMENT", "MASKING", "GENERALIZATION", "SUPPRESSION", "SYNTHETIC":
	default:
		return fmt.Errorf("invalid default strategy: %s", config.Policy.DefaultStrategy)
	}

	for format, limit := range config.Ingestion.Limits {
		if limit <= 0 {
			return fmt.Errorf("invalid ingestion limit for %s: %d", format, limit)
		}
	}

	if config.Cache.Enabled && config.Cache.RedisURL == "" {
		return fmt.Errorf("cache enabled but redis_url is empty")
	}

	if config.Audit.Enabled && config.Audit.DatabaseURL == "" {
		return fmt.Errorf("audit enabled but database_url is empty")
	}

	if config.RateLimit.Enabled && config.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("invalid rate limit: %d requests per minute", config.RateLimit.RequestsPerMinute)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	return nil
}

// Watch starts watching the configuration file for changes. Invalid
// revisions are logged and ignored.
func Watch(log *zap.Logger, callback func(*Config)) error {
	if viper.ConfigFileUsed() == "" {
		return fmt.Errorf("no configuration file to watch")
	}

	viper.OnConfigChange(func(e fsnotify.Event) {
		newConfig := GetDefaults()
		if err := viper.Unmarshal(newConfig); err != nil {
			log.Warn("Failed to reload configuration", zap.String("file", e.Name), zap.Error(err))
			return
		}

		if err := validateConfig(newConfig); err != nil {
			log.Warn("Ignoring invalid configuration change", zap.String("file", e.Name), zap.Error(err))
			return
		}

		log.Info("Configuration reloaded", zap.String("file", e.Name), zap.String("op", e.Op.String()))
		callback(newConfig)
	})
	viper.WatchConfig()

	return nil
}
