package config

import (
	"os"
	"runtime"
	"strconv"

	"gocvek/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Testing TestingConfig
	Server  ServerConfig
	Log     LogConfig
}

// TestingConfig holds the numerical and resampling settings for score tests
type TestingConfig struct {
	BootstrapReplicates int
	MaxReplicates       int
	Workers             int
	PinvTol             float64
	DegeneracyTol       float64
	Seed                int64
	MaxConcurrentTests  int64
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port    string
	GinMode string
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string
}

// Default returns the configuration used when no environment overrides are set
func Default() *Config {
	return &Config{
		Testing: TestingConfig{
			BootstrapReplicates: 1000,
			MaxReplicates:       100000,
			Workers:             runtime.NumCPU(),
			PinvTol:             1.4901161193847656e-08,
			DegeneracyTol:       1e-10,
			Seed:                42,
			MaxConcurrentTests:  4,
		},
		Server: ServerConfig{
			Port:    "8080",
			GinMode: "release",
		},
		Log: LogConfig{Level: "INFO"},
	}
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	def := Default()
	config := &Config{
		Testing: loadTestingConfig(def.Testing),
		Server: ServerConfig{
			Port:    getEnvOrDefault("PORT", def.Server.Port),
			GinMode: getEnvOrDefault("GIN_MODE", def.Server.GinMode),
		},
		Log: LogConfig{
			Level: getEnvOrDefault("GOCVEK_LOG_LEVEL", getEnvOrDefault("LOG_LEVEL", def.Log.Level)),
		},
	}

	if err := Validate(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

func loadTestingConfig(def TestingConfig) TestingConfig {
	return TestingConfig{
		BootstrapReplicates: getEnvIntOrDefault("GOCVEK_BOOTSTRAP_REPLICATES", def.BootstrapReplicates),
		MaxReplicates:       getEnvIntOrDefault("GOCVEK_MAX_REPLICATES", def.MaxReplicates),
		Workers:             getEnvIntOrDefault("GOCVEK_WORKERS", def.Workers),
		PinvTol:             getEnvFloatOrDefault("GOCVEK_PINV_TOL", def.PinvTol),
		DegeneracyTol:       getEnvFloatOrDefault("GOCVEK_DEGENERACY_TOL", def.DegeneracyTol),
		Seed:                int64(getEnvIntOrDefault("GOCVEK_SEED", int(def.Seed))),
		MaxConcurrentTests:  int64(getEnvIntOrDefault("GOCVEK_MAX_CONCURRENT_TESTS", int(def.MaxConcurrentTests))),
	}
}

// Validate checks ranges of all numeric settings
func Validate(config *Config) error {
	t := config.Testing
	if t.BootstrapReplicates < 1 {
		return errors.ConfigInvalid("GOCVEK_BOOTSTRAP_REPLICATES must be at least 1")
	}
	if t.MaxReplicates < t.BootstrapReplicates {
		return errors.ConfigInvalid("GOCVEK_MAX_REPLICATES must be at least GOCVEK_BOOTSTRAP_REPLICATES")
	}
	if t.Workers < 1 {
		return errors.ConfigInvalid("GOCVEK_WORKERS must be at least 1")
	}
	if t.PinvTol < 0 {
		return errors.ConfigInvalid("GOCVEK_PINV_TOL must be non-negative")
	}
	if t.DegeneracyTol < 0 {
		return errors.ConfigInvalid("GOCVEK_DEGENERACY_TOL must be non-negative")
	}
	if t.MaxConcurrentTests < 1 {
		return errors.ConfigInvalid("GOCVEK_MAX_CONCURRENT_TESTS must be at least 1")
	}
	if config.Server.Port == "" {
		return errors.ConfigInvalid("PORT is required")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
