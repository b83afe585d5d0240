// Package config reads runtime settings from the environment.
//
// A .env file in the working directory is loaded first when present; variables
// already set in the environment take precedence over it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds the detector settings.
type Config struct {
	SessionsDir string `validate:"required"`
	RulesFile   string `validate:"required"`
	ModelsFile  string `validate:"required"`
	FontFile    string
	FontSize    float64 `validate:"gt=0,lte=200"`
	BoxColor    string  `validate:"required,hexcolor"`
	LogLevel    string  `validate:"oneof=trace debug info warn warning error fatal panic"`
	LogDir      string
}

// Load reads the configuration. Extra env files may be given; when none are,
// ./.env is tried and a missing file is ignored.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, fmt.Errorf("failed to load env files: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := &Config{
		SessionsDir: getEnv("DETECTOR_SESSIONS_DIR", filepath.Join(".", "sessions")),
		RulesFile:   getEnv("DETECTOR_RULES_FILE", "comment_rules.yaml"),
		ModelsFile:  getEnv("DETECTOR_MODELS_FILE", "models.yaml"),
		FontFile:    getEnv("DETECTOR_FONT_FILE", "arial.ttf"),
		FontSize:    getEnvAsFloat("DETECTOR_FONT_SIZE", 20),
		BoxColor:    getEnv("DETECTOR_BOX_COLOR", "#FF0000"),
		LogLevel:    getEnv("DETECTOR_LOG_LEVEL", "info"),
		LogDir:      getEnvAllowEmpty("DETECTOR_LOG_DIR", filepath.Join(".", "logs")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAllowEmpty treats a variable set to "" as an explicit empty value.
func getEnvAllowEmpty(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
