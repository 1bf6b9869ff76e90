package config

import (
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/reef/pkg/batch/support/util/configbinder"
	"github.com/tigerroll/reef/pkg/batch/support/util/exception"
	"github.com/tigerroll/reef/pkg/batch/support/util/logger"

	"go.uber.org/fx"
)

const moduleName = "config"

// ConfigParams defines the dependencies for NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig // EmbeddedConfig contains the raw bytes of the configuration file.
	EnvFilePath    string         `name:"envFilePath" optional:"true"` // EnvFilePath is the path to the .env file, if any.
}

// loadConfig loads configuration from the embedded YAML and environment variables.
// This function is intended to be called only once during application startup.
func loadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else {
		if err := godotenv.Load(); err != nil {
			logger.Debugf(".env file not found or could not be loaded: %v", err)
		}
	}

	cfg := NewConfig()

	if len(embeddedConfig) > 0 {
		expander := NewOsEnvironmentExpander()
		expanded, err := expander.Expand(embeddedConfig)
		if err != nil {
			return nil, exception.NewBatchError(moduleName, "failed to expand environment variables in config", err, false, false)
		}

		var properties map[string]interface{}
		if err := yaml.Unmarshal(expanded, &properties); err != nil {
			return nil, exception.NewBatchError(moduleName, "failed to unmarshal embedded config", err, false, false)
		}

		if err := configbinder.BindProperties(properties, cfg); err != nil {
			return nil, exception.NewBatchError(moduleName, "failed to bind configuration properties", err, false, false)
		}
	}

	applyEnvOverrides(cfg)

	cfg.EmbeddedConfig = embeddedConfig
	return cfg, nil
}

// applyEnvOverrides lets well-known environment variables take precedence over
// file-sourced values, so deployments can reconfigure without rebuilding.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REEF_MONGO_URI"); v != "" {
		cfg.Reef.Mongo.URI = v
	}
	if v := os.Getenv("REEF_MONGO_DATABASE"); v != "" {
		cfg.Reef.Mongo.Database = v
	}
	if v := os.Getenv("REEF_MONGO_COLLECTION_PREFIX"); v != "" {
		cfg.Reef.Mongo.CollectionPrefix = v
	}
	if v := os.Getenv("REEF_LOG_LEVEL"); v != "" {
		cfg.Reef.System.Logging.Level = v
	}
}

// LoadConfig loads configuration from configuration files and environment variables.
// This function is expected to be called only once during application startup.
func LoadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	cfg, err := loadConfig(envFilePath, embeddedConfig)
	if err != nil {
		return nil, err
	}
	GlobalConfig = cfg
	return cfg, nil
}

// NewConfigProvider is an Fx provider that loads and provides *Config.
// It initializes the configuration by loading defaults, binding the embedded
// YAML, and overriding with environment variables. It also sets the global
// logger level.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	cfg, err := LoadConfig(params.EnvFilePath, params.EmbeddedConfig)
	if err != nil {
		return nil, err
	}

	logger.SetLogLevel(cfg.Reef.System.Logging.Level)
	logger.Debugf("Log level set to: %s", cfg.Reef.System.Logging.Level)

	return cfg, nil
}
