// Package config loads server configuration from an optional YAML file
// and the environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port            int             `yaml:"port"`
	UploadsDir      string          `yaml:"uploads_dir"`
	DatabasePath    string          `yaml:"database_path"`
	LogLevel        string          `yaml:"log_level"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	Enhance         EnhanceConfig   `yaml:"enhance"`
	Transform       TransformConfig `yaml:"transform"`
	Providers       ProviderKeys    `yaml:"providers"`
}

// EnhanceConfig selects the text provider used to enhance prompts.
type EnhanceConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type TransformConfig struct {
	Model string `yaml:"model"`
}

type ProviderKeys struct {
	OpenAIKey string `yaml:"openai_api_key"`
	GeminiKey string `yaml:"gemini_api_key"`
	OllamaURL string `yaml:"ollama_url"`
}

func Default() Config {
	return Config{
		Port:            8888,
		UploadsDir:      "uploads",
		DatabasePath:    "data/venuestudio.db",
		LogLevel:        "info",
		ShutdownTimeout: 10 * time.Second,
		Enhance: EnhanceConfig{
			Provider: "ollama",
		},
		Transform: TransformConfig{
			Model: "gpt-image-1",
		},
	}
}

// Load reads path (or VENUESTUDIO_CONFIG when path is empty) over the
// defaults and then applies environment overrides.
//
// Environment variables:
//   - PORT, UPLOADS_DIR, DATABASE_PATH, LOG_LEVEL
//   - ENHANCE_PROVIDER, ENHANCE_MODEL, TRANSFORM_MODEL
//   - OPENAI_API_KEY, GEMINI_API_KEY, OLLAMA_URL (or OLLAMA_HOST)
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("VENUESTUDIO_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.Port = getEnvInt("PORT", cfg.Port)
	cfg.UploadsDir = getEnvString("UPLOADS_DIR", cfg.UploadsDir)
	cfg.DatabasePath = getEnvString("DATABASE_PATH", cfg.DatabasePath)
	cfg.LogLevel = getEnvString("LOG_LEVEL", cfg.LogLevel)
	cfg.Enhance.Provider = getEnvString("ENHANCE_PROVIDER", cfg.Enhance.Provider)
	cfg.Enhance.Model = getEnvString("ENHANCE_MODEL", cfg.Enhance.Model)
	cfg.Transform.Model = getEnvString("TRANSFORM_MODEL", cfg.Transform.Model)
	cfg.Providers.OpenAIKey = getEnvString("OPENAI_API_KEY", cfg.Providers.OpenAIKey)
	cfg.Providers.GeminiKey = getEnvString("GEMINI_API_KEY", cfg.Providers.GeminiKey)
	cfg.Providers.OllamaURL = getEnvString("OLLAMA_URL", getEnvString("OLLAMA_HOST", cfg.Providers.OllamaURL))

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Port)
	}
	if c.UploadsDir == "" {
		return errors.New("uploads directory is required")
	}
	if c.DatabasePath == "" {
		return errors.New("database path is required")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	switch c.Enhance.Provider {
	case "openai", "gemini", "ollama":
	default:
		return fmt.Errorf("unsupported enhance provider: %s", c.Enhance.Provider)
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// ParseLogLevel maps debug|info|warn|error to a slog level, defaulting to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
