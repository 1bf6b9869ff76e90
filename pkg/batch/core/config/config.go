package config

// Package config provides structures and utilities for managing the metadata
// store configuration.

// EmbeddedConfig holds the content of the configuration file, typically passed
// from main.go when the configuration is compiled into the binary.
type EmbeddedConfig []byte

// MongoConfig holds connection settings for the document store backing the
// job repository.
type MongoConfig struct {
	// URI is the connection string (e.g., "mongodb://localhost:27017").
	URI string `yaml:"uri"`
	// Database is the name of the database holding the metadata collections.
	Database string `yaml:"database"`
	// CollectionPrefix is prepended to every collection name. Empty by default.
	CollectionPrefix string `yaml:"collection_prefix"`
	// ConnectTimeoutSeconds bounds the initial connection attempt.
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level (e.g., "INFO", "DEBUG").
	Level string `yaml:"level"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	// Timezone is the application timezone (e.g., "UTC", "Asia/Tokyo").
	Timezone string `yaml:"timezone"`
	// Logging is the logging configuration.
	Logging LoggingConfig `yaml:"logging"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// MaskedParameterKeys is a list of keys in JobParameters whose values
	// should be masked when logged or stringified.
	MaskedParameterKeys []string `yaml:"masked_parameter_keys"`
}

// ReefConfig holds all configuration under the "reef" top-level key.
type ReefConfig struct {
	// Mongo contains document store connection settings.
	Mongo MongoConfig `yaml:"mongo"`
	// System contains system-wide configurations.
	System SystemConfig `yaml:"system"`
	// Security contains security-related configurations.
	Security SecurityConfig `yaml:"security"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	// Reef contains the top-level configuration for the metadata store.
	Reef ReefConfig `yaml:"reef"`
	// EmbeddedConfig holds configuration loaded from an embedded source, not from YAML.
	EmbeddedConfig EmbeddedConfig `yaml:"-"`
}

// NewConfig creates a Config populated with defaults. Values loaded from YAML
// or the environment overwrite these.
func NewConfig() *Config {
	return &Config{
		Reef: ReefConfig{
			Mongo: MongoConfig{
				URI:                   "mongodb://localhost:27017",
				Database:              "reef",
				ConnectTimeoutSeconds: 10,
			},
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO"},
			},
		},
	}
}

// GlobalConfig is a pointer to the configuration instance shared across the
// application. It is expected to be set via fx.Provide or LoadConfig.
var GlobalConfig *Config

// GetMaskedParameterKeys returns the configured list of parameter keys whose
// values must be masked in log output. Returns nil when no configuration has
// been loaded yet.
func GetMaskedParameterKeys() []string {
	if GlobalConfig == nil {
		return nil
	}
	return GlobalConfig.Reef.Security.MaskedParameterKeys
}
