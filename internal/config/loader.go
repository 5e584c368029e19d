package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load loads the service configuration from dir/tidemark.yaml.
// A missing file yields the default configuration.
func Load(dir string) (*Config, error) {
	configFile := filepath.Join(dir, "tidemark.yaml")

	content, err := os.ReadFile(configFile)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Interpolate environment variables
	content = []byte(interpolateEnv(string(content)))

	// Unmarshal over the defaults: fields absent from the file keep their
	// default, while an explicit zero (e.g. sweep hour 0 for midnight)
	// survives as written.
	cfg := defaultConfig()
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// interpolateEnv replaces ${env.VAR} and ${VAR} with environment values
func interpolateEnv(content string) string {
	// Match ${env.VAR} pattern
	envPattern := regexp.MustCompile(`\$\{env\.([^}]+)\}`)
	content = envPattern.ReplaceAllStringFunc(content, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match // keep original if not found
	})

	// Match ${VAR} pattern
	varPattern := regexp.MustCompile(`\$\{([^}]+)\}`)
	content = varPattern.ReplaceAllStringFunc(content, func(match string) string {
		varName := varPattern.FindStringSubmatch(match)[1]
		if strings.Contains(varName, ".") {
			return match
		}
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match
	})

	return content
}

func defaultConfig() *Config {
	return &Config{
		Name:    "tidemark",
		Version: "1.0",
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   ".tidemark/tidemark.db",
		},
		Embedding: EmbeddingConfig{
			TimeoutSeconds: 15,
		},
		Sweep: SweepConfig{
			Hour:      3,
			BatchSize: 200,
		},
		Search: SearchConfig{
			ScanLimit: 2000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func validate(cfg *Config) error {
	if cfg.Storage.Driver != "sqlite" {
		return fmt.Errorf("unsupported storage driver: %q", cfg.Storage.Driver)
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Sweep.Hour < 0 || cfg.Sweep.Hour > 23 {
		return fmt.Errorf("sweep hour must be in [0, 23], got %d", cfg.Sweep.Hour)
	}
	if cfg.Sweep.BatchSize < 1 {
		return fmt.Errorf("sweep batch size must be positive, got %d", cfg.Sweep.BatchSize)
	}
	return nil
}
